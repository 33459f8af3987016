package cache

import (
	"bytes"
	"io"

	"github.com/andybalholm/brotli"

	"github.com/saiset-co/sai-newscache/types"
	"github.com/saiset-co/sai-newscache/utils"
)

const (
	codecRaw    byte = 0
	codecBrotli byte = 1

	// Values below this size are not worth compressing.
	compressThreshold = 1024
)

// encodeValue serializes a payload for an L2 backend, compressing large
// values transparently. The first byte tags the codec.
func encodeValue(value interface{}) ([]byte, error) {
	raw, err := utils.Marshal(value)
	if err != nil {
		return nil, types.WrapError(err, "failed to marshal l2 value")
	}

	if len(raw) < compressThreshold {
		return append([]byte{codecRaw}, raw...), nil
	}

	var buf bytes.Buffer
	buf.WriteByte(codecBrotli)

	w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if _, err := w.Write(raw); err != nil {
		return nil, types.WrapError(err, "failed to compress l2 value")
	}
	if err := w.Close(); err != nil {
		return nil, types.WrapError(err, "failed to flush l2 compressor")
	}

	// Compression can lose on already dense JSON.
	if buf.Len() >= len(raw)+1 {
		return append([]byte{codecRaw}, raw...), nil
	}

	return buf.Bytes(), nil
}

func decodeValue[T any](data []byte, target *T) error {
	if len(data) < 1 {
		return types.ErrCacheOperationFailed
	}

	switch data[0] {
	case codecRaw:
		return utils.Unmarshal(data[1:], target)
	case codecBrotli:
		r := brotli.NewReader(bytes.NewReader(data[1:]))
		raw, err := io.ReadAll(r)
		if err != nil {
			return types.WrapError(err, "failed to decompress l2 value")
		}
		return utils.Unmarshal(raw, target)
	default:
		return types.Errorf(types.ErrCacheOperationFailed, "unknown l2 codec tag %d", data[0])
	}
}
