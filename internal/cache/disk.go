package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/pixelhub/pixelhub/internal/metrics"
)

// 磁盘布局：
//
//	<path>/index.db   bbolt 索引：entries(key → record) 与 inline(key → 小值正文)
//	<path>/data/      大值正文文件，文件名为 sha256(key) 前缀 + uuid
//	<path>/trash/     RemoveAll 移入的旧目录，后台删除
const (
	indexFileName  = "index.db"
	dataDirName    = "data"
	trashDirName   = "trash"
	tempFilePrefix = ".tmp-"

	// DefaultInlineThreshold：小于 20KiB 的值直接写入索引。
	DefaultInlineThreshold  = 20 * 1024
	DefaultDiskTrimInterval = time.Minute
	removeAllBatchSize      = 16
	indexOpenTimeout        = time.Second
)

// inlineMarker 前缀让空值与缺失的 inline 正文可以区分。
const inlineMarker byte = 1

var (
	bucketEntries = []byte("entries")
	bucketInline  = []byte("inline")
)

// DiskOptions 配置磁盘层。Limit 零值表示不限制；InlineThreshold 为 0 时使用默认值，
// 小于 0 时所有值都写成独立文件；AutoTrimInterval 小于 0 时关闭后台修剪。
type DiskOptions struct {
	InlineThreshold    int
	CostLimit          int64
	CountLimit         int
	AgeLimit           time.Duration
	FreeDiskSpaceLimit int64
	AutoTrimInterval   time.Duration
	// KeepOrphans 为 true 时启动阶段保留索引之外的正文文件（临时文件仍会清理）。
	KeepOrphans bool

	Logger  *logrus.Logger
	Metrics *metrics.Cache
	Clock   func() time.Time
}

// diskRecord 是索引中的条目元数据。Seq 在每次写入与访问时递增，
// 与 Accessed 一起构成确定的淘汰顺序。
type diskRecord struct {
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size"`
	Cost     int64  `json:"cost"`
	Created  int64  `json:"created"`
	Accessed int64  `json:"accessed"`
	Seq      uint64 `json:"seq"`
}

type keyedRecord struct {
	key string
	rec diskRecord
}

// DiskCache 是持久化的键值层。同一实例上的所有操作经由 mu 串行执行，
// 写入时正文文件先落盘，索引提交永远是最后一步。
type DiskCache struct {
	path     string
	dataDir  string
	trashDir string
	opts     DiskOptions
	logger   *logrus.Logger
	now      func() time.Time

	mu         sync.Mutex
	db         *bolt.DB
	totalCost  int64
	totalCount int

	// beforeCommit 在正文写入之后、索引提交之前调用，测试用它模拟崩溃。
	beforeCommit func() error

	// closing 由 Close 在 d.mu 内置位，之后不再登记后台任务。
	closing   bool
	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// OpenDiskCache 打开（或创建）path 下的磁盘缓存，并在返回前完成索引与文件系统的对账。
func OpenDiskCache(path string, opts DiskOptions) (*DiskCache, error) {
	if path == "" {
		return nil, errors.New("disk cache path required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve disk cache path: %w", err)
	}

	if opts.InlineThreshold == 0 {
		opts.InlineThreshold = DefaultInlineThreshold
	}
	if opts.AutoTrimInterval == 0 {
		opts.AutoTrimInterval = DefaultDiskTrimInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = discardLogger()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	d := &DiskCache{
		path:     abs,
		dataDir:  filepath.Join(abs, dataDirName),
		trashDir: filepath.Join(abs, trashDirName),
		opts:     opts,
		logger:   logger,
		now:      now,
		stop:     make(chan struct{}),
	}

	for _, dir := range []string{abs, d.dataDir, d.trashDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create disk cache dir: %w", err)
		}
	}

	db, err := bolt.Open(filepath.Join(abs, indexFileName), 0o600, &bolt.Options{Timeout: indexOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("open disk cache index: %w", err)
	}
	d.db = db

	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketEntries); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketInline)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init disk cache index: %w", err)
	}

	if err := d.reconcile(); err != nil {
		db.Close()
		return nil, err
	}
	d.opts.Metrics.Observe(metrics.TierDisk, d.totalCost, d.totalCount)

	d.emptyTrashAsync()
	if opts.AutoTrimInterval > 0 {
		d.wg.Add(1)
		go d.trimLoop(opts.AutoTrimInterval)
	}
	return d, nil
}

// Path returns the absolute cache directory.
func (d *DiskCache) Path() string {
	return d.path
}

// Get 返回 key 对应的字节。不存在或已过期返回 ErrNotFound；过期条目在后台删除。
func (d *DiskCache) Get(key string) ([]byte, error) {
	if key == "" {
		return nil, ErrNotFound
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil, ErrClosed
	}

	rec, inline, found, err := d.lookupLocked(key)
	if err != nil {
		return nil, ioError("index", key, err)
	}
	if !found {
		d.opts.Metrics.Miss(metrics.TierDisk)
		return nil, ErrNotFound
	}

	now := d.now()
	if d.stale(rec, now) {
		d.opts.Metrics.Miss(metrics.TierDisk)
		d.scheduleStaleRemoval(key)
		return nil, ErrNotFound
	}

	data := inline
	if rec.Filename != "" {
		data, err = os.ReadFile(d.filePath(rec.Filename))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				d.dropDanglingLocked(key, rec)
				d.opts.Metrics.Miss(metrics.TierDisk)
				return nil, ErrNotFound
			}
			return nil, ioError("read", key, err)
		}
	} else if data == nil {
		d.dropDanglingLocked(key, rec)
		d.opts.Metrics.Miss(metrics.TierDisk)
		return nil, ErrNotFound
	}

	if err := d.touchLocked(key, now); err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{"action": "disk_touch", "key": key}).Warn("disk_touch_failed")
	}
	d.opts.Metrics.Hit(metrics.TierDisk)
	return data, nil
}

// Contains 判断 key 是否存在且未过期，不读取正文。
func (d *DiskCache) Contains(key string) bool {
	if key == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return false
	}
	rec, _, found, err := d.lookupLocked(key)
	if err != nil || !found {
		return false
	}
	return !d.stale(rec, d.now())
}

// Set 写入 key。len(data) 小于 InlineThreshold 时正文进入索引，否则先写独立文件。
// 索引事务是最后一步：中途失败只会留下孤儿文件，旧值保持可读。
func (d *DiskCache) Set(key string, data []byte, cost int64) error {
	if key == "" {
		return nil
	}
	if data == nil {
		return d.Remove(key)
	}
	if cost < 0 {
		cost = 0
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return ErrClosed
	}

	var filename string
	if !d.storeInline(len(data)) {
		name, err := d.writeFile(key, data)
		if err != nil {
			return ioError("write", key, err)
		}
		filename = name
	}

	if d.beforeCommit != nil {
		if err := d.beforeCommit(); err != nil {
			return ioError("index", key, err)
		}
	}

	now := d.now().UnixNano()
	var previous diskRecord
	var hadPrevious bool
	err := d.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		inline := tx.Bucket(bucketInline)
		k := []byte(key)

		if raw := entries.Get(k); raw != nil {
			if prev, err := decodeRecord(raw); err == nil {
				previous = prev
				hadPrevious = true
			}
		}
		seq, err := entries.NextSequence()
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(diskRecord{
			Filename: filename,
			Size:     int64(len(data)),
			Cost:     cost,
			Created:  now,
			Accessed: now,
			Seq:      seq,
		})
		if err != nil {
			return err
		}
		if filename == "" {
			if err := inline.Put(k, append([]byte{inlineMarker}, data...)); err != nil {
				return err
			}
		} else if err := inline.Delete(k); err != nil {
			return err
		}
		return entries.Put(k, encoded)
	})
	if err != nil {
		if filename != "" {
			os.Remove(d.filePath(filename))
		}
		return ioError("index", key, err)
	}

	if hadPrevious {
		d.totalCost -= previous.Cost
		d.totalCount--
		if previous.Filename != "" && previous.Filename != filename {
			if err := os.Remove(d.filePath(previous.Filename)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				d.logger.WithError(err).WithFields(logrus.Fields{"action": "disk_set", "key": key}).Warn("disk_old_file_remove_failed")
			}
		}
	}
	d.totalCost += cost
	d.totalCount++
	d.opts.Metrics.Set(metrics.TierDisk)

	if d.overLimitsLocked() {
		d.evictLocked(limitOrNone64(d.opts.CostLimit), limitOrNone(d.opts.CountLimit), -1)
	}
	d.opts.Metrics.Observe(metrics.TierDisk, d.totalCost, d.totalCount)
	return nil
}

// Remove 删除索引条目与正文文件。两者都会尝试，错误合并返回且互不回滚。
func (d *DiskCache) Remove(key string) error {
	if key == "" {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return ErrClosed
	}
	err := d.removeLocked(key)
	d.opts.Metrics.Observe(metrics.TierDisk, d.totalCost, d.totalCount)
	return err
}

// RemoveAll 重建索引并把 data 目录整体移入 trash，由后台 goroutine 删除。
func (d *DiskCache) RemoveAll() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return ErrClosed
	}

	err := d.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketEntries, bucketInline} {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ioError("remove_all", "", err)
	}
	d.totalCost = 0
	d.totalCount = 0
	d.opts.Metrics.Observe(metrics.TierDisk, 0, 0)

	if err := os.Rename(d.dataDir, filepath.Join(d.trashDir, uuid.NewString())); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ioError("remove_all", "", err)
	}
	if err := os.MkdirAll(d.dataDir, 0o755); err != nil {
		return ioError("remove_all", "", err)
	}
	d.emptyTrashAsync()
	return nil
}

// RemoveAllWithProgress 逐条删除并回报进度，适合需要展示进度的大目录清理。
// progress 与 end 都可以为 nil；end 恰好调用一次。
func (d *DiskCache) RemoveAllWithProgress(progress func(removed, total int), end func(err error)) {
	finish := func(err error) {
		if end != nil {
			end(err)
		}
	}

	d.mu.Lock()
	if d.db == nil {
		d.mu.Unlock()
		finish(ErrClosed)
		return
	}
	total := d.totalCount
	d.mu.Unlock()

	removed := 0
	for removed < total {
		d.mu.Lock()
		if d.db == nil {
			d.mu.Unlock()
			finish(ErrClosed)
			return
		}
		keys, err := d.firstKeysLocked(removeAllBatchSize)
		if err != nil {
			d.mu.Unlock()
			finish(ioError("remove_all", "", err))
			return
		}
		if len(keys) == 0 {
			d.mu.Unlock()
			break
		}
		for _, key := range keys {
			if err := d.removeLocked(key); err != nil {
				d.opts.Metrics.Observe(metrics.TierDisk, d.totalCost, d.totalCount)
				d.mu.Unlock()
				finish(err)
				return
			}
		}
		d.opts.Metrics.Observe(metrics.TierDisk, d.totalCost, d.totalCount)
		d.mu.Unlock()

		removed += len(keys)
		if removed > total {
			removed = total
		}
		if progress != nil {
			progress(removed, total)
		}
	}
	finish(nil)
}

// TrimToCost 按 (Accessed, Seq) 从旧到新淘汰，直到 TotalCost <= limit。
func (d *DiskCache) TrimToCost(limit int64) {
	if limit < 0 {
		limit = 0
	}
	d.trim(limit, -1, -1)
}

// TrimToCount 按 (Accessed, Seq) 从旧到新淘汰，直到 TotalCount <= limit。
func (d *DiskCache) TrimToCount(limit int) {
	if limit < 0 {
		limit = 0
	}
	d.trim(-1, limit, -1)
}

// TrimToAge 淘汰最后访问早于 now-age 的条目；age<=0 时清空。
func (d *DiskCache) TrimToAge(age time.Duration) {
	if age <= 0 {
		if err := d.RemoveAll(); err != nil {
			d.logger.WithError(err).WithField("action", "disk_trim").Warn("disk_trim_failed")
		}
		return
	}
	d.trim(-1, -1, age)
}

// TrimToFreeSpace 在磁盘剩余空间低于 limit 时淘汰旧条目，尽量腾出差额。
func (d *DiskCache) TrimToFreeSpace(limit int64) {
	if limit <= 0 {
		return
	}
	free, ok := freeDiskSpace(d.path)
	if !ok || free >= limit {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return
	}
	target := d.totalCost - (limit - free)
	if target < 0 {
		target = 0
	}
	d.evictLocked(target, -1, -1)
	d.opts.Metrics.Observe(metrics.TierDisk, d.totalCost, d.totalCount)
}

// TotalCost returns the summed cost recorded in the index.
func (d *DiskCache) TotalCost() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalCost
}

// TotalCount returns the number of indexed entries.
func (d *DiskCache) TotalCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalCount
}

// Close 停止后台任务并关闭索引，可重复调用。
func (d *DiskCache) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closing = true
		d.mu.Unlock()

		close(d.stop)
		d.wg.Wait()
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.db != nil {
			err = d.db.Close()
			d.db = nil
		}
	})
	return err
}

func (d *DiskCache) trim(costLimit int64, countLimit int, age time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return
	}
	d.evictLocked(costLimit, countLimit, age)
	d.opts.Metrics.Observe(metrics.TierDisk, d.totalCost, d.totalCount)
}

func (d *DiskCache) trimLoop(interval time.Duration) {
	defer d.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			age := d.opts.AgeLimit
			if age <= 0 {
				age = -1
			}
			d.trim(limitOrNone64(d.opts.CostLimit), limitOrNone(d.opts.CountLimit), age)
			d.TrimToFreeSpace(d.opts.FreeDiskSpaceLimit)
		}
	}
}

func (d *DiskCache) overLimitsLocked() bool {
	return (d.opts.CostLimit > 0 && d.totalCost > d.opts.CostLimit) ||
		(d.opts.CountLimit > 0 && d.totalCount > d.opts.CountLimit)
}

// evictLocked 按最旧访问优先淘汰；负数参数表示该维度不限制。调用方必须持锁。
func (d *DiskCache) evictLocked(costLimit int64, countLimit int, age time.Duration) int {
	need := func() bool {
		return (costLimit >= 0 && d.totalCost > costLimit) || (countLimit >= 0 && d.totalCount > countLimit)
	}
	if !need() && age < 0 {
		return 0
	}

	records, err := d.recordsByAgeLocked()
	if err != nil {
		d.logger.WithError(err).WithField("action", "disk_trim").Warn("disk_trim_scan_failed")
		return 0
	}

	cutoff := d.now().Add(-age).UnixNano()
	evicted := 0
	for _, item := range records {
		stale := age >= 0 && item.rec.Accessed < cutoff
		if !stale && !need() {
			break
		}
		if err := d.removeLocked(item.key); err != nil {
			d.logger.WithError(err).WithFields(logrus.Fields{"action": "disk_trim", "key": item.key}).Warn("disk_evict_failed")
			continue
		}
		evicted++
	}
	d.opts.Metrics.Evict(metrics.TierDisk, evicted)
	return evicted
}

func (d *DiskCache) recordsByAgeLocked() ([]keyedRecord, error) {
	var records []keyedRecord
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(k, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				return nil
			}
			records = append(records, keyedRecord{key: string(k), rec: rec})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].rec.Accessed != records[j].rec.Accessed {
			return records[i].rec.Accessed < records[j].rec.Accessed
		}
		return records[i].rec.Seq < records[j].rec.Seq
	})
	return records, nil
}

func (d *DiskCache) firstKeysLocked(n int) ([]string, error) {
	keys := make([]string, 0, n)
	err := d.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketEntries).Cursor()
		for k, _ := cursor.First(); k != nil && len(keys) < n; k, _ = cursor.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	return keys, err
}

func (d *DiskCache) lookupLocked(key string) (diskRecord, []byte, bool, error) {
	var rec diskRecord
	var inline []byte
	var found bool
	err := d.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketEntries).Get([]byte(key))
		if raw == nil {
			return nil
		}
		decoded, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		rec = decoded
		found = true
		if rec.Filename == "" {
			if value := tx.Bucket(bucketInline).Get([]byte(key)); len(value) > 0 {
				inline = make([]byte, len(value)-1)
				copy(inline, value[1:])
			}
		}
		return nil
	})
	return rec, inline, found, err
}

func (d *DiskCache) touchLocked(key string, now time.Time) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		raw := entries.Get([]byte(key))
		if raw == nil {
			return nil
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		seq, err := entries.NextSequence()
		if err != nil {
			return err
		}
		rec.Accessed = now.UnixNano()
		rec.Seq = seq
		encoded, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return entries.Put([]byte(key), encoded)
	})
}

// removeLocked 删除索引与文件，两步都会执行。
func (d *DiskCache) removeLocked(key string) error {
	rec, _, found, lookupErr := d.lookupLocked(key)

	indexErr := d.db.Update(func(tx *bolt.Tx) error {
		k := []byte(key)
		if err := tx.Bucket(bucketEntries).Delete(k); err != nil {
			return err
		}
		return tx.Bucket(bucketInline).Delete(k)
	})

	var fileErr error
	if found && rec.Filename != "" {
		if err := os.Remove(d.filePath(rec.Filename)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			fileErr = err
		}
	}

	if found && indexErr == nil {
		d.totalCost -= rec.Cost
		d.totalCount--
	}
	return errors.Join(ioError("index", key, lookupErr), ioError("index", key, indexErr), ioError("remove", key, fileErr))
}

// dropDanglingLocked 清理正文丢失的索引条目（自愈，不向调用方报错）。
func (d *DiskCache) dropDanglingLocked(key string, rec diskRecord) {
	if err := d.removeLocked(key); err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{"action": "disk_heal", "key": key}).Warn("disk_heal_failed")
		return
	}
	d.logger.WithFields(logrus.Fields{"action": "disk_heal", "key": key, "file": rec.Filename}).Info("dangling index entry dropped")
	d.opts.Metrics.Observe(metrics.TierDisk, d.totalCost, d.totalCount)
}

// goLocked 在持有 d.mu 时启动受 wg 跟踪的后台任务，Close 开始后直接丢弃。
func (d *DiskCache) goLocked(fn func()) {
	if d.closing {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

func (d *DiskCache) scheduleStaleRemoval(key string) {
	d.goLocked(func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.db == nil {
			return
		}
		rec, _, found, err := d.lookupLocked(key)
		if err != nil || !found || !d.stale(rec, d.now()) {
			return
		}
		if err := d.removeLocked(key); err != nil {
			d.logger.WithError(err).WithFields(logrus.Fields{"action": "disk_expire", "key": key}).Warn("disk_expire_failed")
		}
		d.opts.Metrics.Observe(metrics.TierDisk, d.totalCost, d.totalCount)
	})
}

// reconcile 对账索引与文件系统：删除正文缺失的条目、孤儿文件与遗留临时文件。
func (d *DiskCache) reconcile() error {
	referenced := make(map[string]struct{})
	var cost int64
	var count, dropped int

	err := d.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		inline := tx.Bucket(bucketInline)

		var stale [][]byte
		err := entries.ForEach(func(k, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			if rec.Filename != "" {
				if _, err := os.Stat(d.filePath(rec.Filename)); err != nil {
					stale = append(stale, append([]byte(nil), k...))
					return nil
				}
				referenced[rec.Filename] = struct{}{}
			} else if len(inline.Get(k)) == 0 {
				stale = append(stale, append([]byte(nil), k...))
				return nil
			}
			cost += rec.Cost
			count++
			return nil
		})
		if err != nil {
			return err
		}

		err = inline.ForEach(func(k, _ []byte) error {
			if entries.Get(k) == nil {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range stale {
			if err := entries.Delete(k); err != nil {
				return err
			}
			if err := inline.Delete(k); err != nil {
				return err
			}
		}
		dropped = len(stale)
		return nil
	})
	if err != nil {
		return fmt.Errorf("reconcile disk cache index: %w", err)
	}
	d.totalCost = cost
	d.totalCount = count

	files, err := os.ReadDir(d.dataDir)
	if err != nil {
		return fmt.Errorf("scan disk cache data: %w", err)
	}
	orphans := 0
	for _, file := range files {
		name := file.Name()
		if _, ok := referenced[name]; ok {
			continue
		}
		if d.opts.KeepOrphans && !strings.HasPrefix(name, tempFilePrefix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(d.dataDir, name)); err != nil {
			d.logger.WithError(err).WithFields(logrus.Fields{"action": "disk_reconcile", "file": name}).Warn("disk_orphan_remove_failed")
			continue
		}
		orphans++
	}

	if dropped > 0 || orphans > 0 {
		d.logger.WithFields(logrus.Fields{
			"action":          "disk_reconcile",
			"path":            d.path,
			"dropped_entries": dropped,
			"removed_files":   orphans,
		}).Info("disk cache reconciled")
	}
	return nil
}

func (d *DiskCache) emptyTrashAsync() {
	d.goLocked(func() {
		entries, err := os.ReadDir(d.trashDir)
		if err != nil {
			return
		}
		for _, entry := range entries {
			if err := os.RemoveAll(filepath.Join(d.trashDir, entry.Name())); err != nil {
				d.logger.WithError(err).WithField("action", "disk_trash").Warn("disk_trash_remove_failed")
			}
		}
	})
}

func (d *DiskCache) storeInline(size int) bool {
	return d.opts.InlineThreshold > 0 && size < d.opts.InlineThreshold
}

func (d *DiskCache) stale(rec diskRecord, now time.Time) bool {
	if d.opts.AgeLimit <= 0 {
		return false
	}
	return now.UnixNano()-rec.Accessed > int64(d.opts.AgeLimit)
}

// writeFile 通过临时文件 + fsync + rename 写入正文，返回唯一文件名。
func (d *DiskCache) writeFile(key string, data []byte) (string, error) {
	tempFile, err := os.CreateTemp(d.dataDir, tempFilePrefix+"*")
	if err != nil {
		return "", err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	if err == nil {
		err = tempFile.Sync()
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return "", err
	}

	filename := fileNameForKey(key)
	if err := os.Rename(tempName, d.filePath(filename)); err != nil {
		os.Remove(tempName)
		return "", err
	}
	return filename, nil
}

func (d *DiskCache) filePath(filename string) string {
	return filepath.Join(d.dataDir, filename)
}

// fileNameForKey 以 key 的哈希作为前缀，避免文件系统字符集与长度限制；
// uuid 后缀保证覆盖写不会复用旧文件名。
func fileNameForKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16]) + "-" + uuid.NewString()
}

func decodeRecord(raw []byte) (diskRecord, error) {
	var rec diskRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return diskRecord{}, err
	}
	return rec, nil
}

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
