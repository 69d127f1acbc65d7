// Package cache implements the two-tier key-value cache used by the fetch
// pipeline. MemoryCache is a bounded LRU map (cost, count and age limits,
// background trimming). DiskCache persists values under a directory: small
// values live inline in a bbolt index, large ones in uniquely named files
// that are written before the index commit so a crash never exposes a
// partial value. Cache composes both tiers behind blocking and callback
// based APIs with read-through promotion and per-key ordered async writes.
//
// A DiskCache directory must be owned by a single instance. bbolt's file
// lock makes a second Open on the same path fail after a short timeout.
package cache
