package fetch

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled 随 StageCancelled 一起交付。
	ErrCancelled = errors.New("fetch cancelled")
	// ErrDenylisted 表示 URL 在黑名单中，未发起网络请求。
	ErrDenylisted = errors.New("url is denylisted after a previous failure")
	// ErrInvalidURL 表示 URL 为空或无法解析。
	ErrInvalidURL = errors.New("invalid url")
	// ErrNilImage 表示解码或转换没有产生图片。
	ErrNilImage = errors.New("no image produced")
	// ErrManagerClosed 表示 Manager 已关闭。
	ErrManagerClosed = errors.New("fetch manager closed")

	errEmptyBody = errors.New("empty response body")
)

// NetworkError 描述传输失败，StatusCode 为 0 表示未收到响应。
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: upstream status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// TransformError 描述解码或转换阶段的失败，Stage 为 "decode" 或 "transform"。
type TransformError struct {
	URL   string
	Stage string
	Err   error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.URL, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}
