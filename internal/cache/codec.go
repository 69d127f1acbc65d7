package cache

import "fmt"

// Codec 在 Facade 的内存值与磁盘字节之间转换。
type Codec interface {
	Encode(value any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// BytesCodec 是默认 Codec：接受 []byte 与 string，解码结果总是 []byte。
type BytesCodec struct{}

func (BytesCodec) Encode(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, value)
	}
}

func (BytesCodec) Decode(data []byte) (any, error) {
	return data, nil
}
