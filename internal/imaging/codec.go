package imaging

import (
	"fmt"

	"github.com/pixelhub/pixelhub/internal/cache"
)

// Codec 让 cache.Cache 直接存取 *Image：磁盘只保存原始字节，读回时重新解码。
type Codec struct {
	Decoder Decoder
	Options DecodeOptions
}

var _ cache.Codec = Codec{}

// NewCodec returns a Codec using decoder, or StdDecoder when nil.
func NewCodec(decoder Decoder, opts DecodeOptions) Codec {
	if decoder == nil {
		decoder = StdDecoder{}
	}
	return Codec{Decoder: decoder, Options: opts}
}

func (c Codec) Encode(value any) ([]byte, error) {
	switch v := value.(type) {
	case *Image:
		if v == nil {
			return nil, fmt.Errorf("%w: nil image", cache.ErrUnsupportedValue)
		}
		return v.Data, nil
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("%w: %T", cache.ErrUnsupportedValue, value)
	}
}

func (c Codec) Decode(data []byte) (any, error) {
	decoder := c.Decoder
	if decoder == nil {
		decoder = StdDecoder{}
	}
	return decoder.Decode(data, c.Options)
}
