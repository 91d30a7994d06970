package krati

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// compress and decompress apply the configured Codec to a long-compaction
// Entry's record payload. CodecNone is the identity transform — Compact
// still dedupes records even with compression off. LZ4 payloads carry a
// leading stored/compressed flag byte, since pierrec's block compressor
// signals an incompressible block by writing nothing rather than a copy.
const (
	lz4FlagStored     byte = 0
	lz4FlagCompressed byte = 1
)

func compress(c Codec, data []byte) ([]byte, error) {
	switch c {
	case CodecNone:
		return data, nil
	case CodecLZ4:
		buf := make([]byte, 1+lz4.CompressBlockBound(len(data)))
		var compressor lz4.Compressor
		n, err := compressor.CompressBlock(data, buf[1:])
		if err != nil {
			return nil, fmt.Errorf("krati: lz4 compress: %w", err)
		}
		if n == 0 {
			out := make([]byte, 1+len(data))
			out[0] = lz4FlagStored
			copy(out[1:], data)
			return out, nil
		}
		buf[0] = lz4FlagCompressed
		return buf[:1+n], nil
	case CodecZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("krati: zstd writer: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("krati: unknown codec %d", c)
	}
}

func decompress(c Codec, data []byte, decodedSize int) ([]byte, error) {
	switch c {
	case CodecNone:
		return data, nil
	case CodecLZ4:
		if len(data) == 0 {
			return nil, nil
		}
		if data[0] == lz4FlagStored {
			return data[1:], nil
		}
		buf := make([]byte, decodedSize)
		n, err := lz4.UncompressBlock(data[1:], buf)
		if err != nil {
			return nil, fmt.Errorf("krati: lz4 decompress: %w", err)
		}
		return buf[:n], nil
	case CodecZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("krati: zstd reader: %w", err)
		}
		defer dec.Close()
		out, err := dec.DecodeAll(data, make([]byte, 0, decodedSize))
		if err != nil {
			return nil, fmt.Errorf("krati: zstd decode: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("krati: unknown codec %d", c)
	}
}
