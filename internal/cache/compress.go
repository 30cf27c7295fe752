package cache

import (
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	apperrors "github.com/Adithya-Monish-Kumar-K/Geocoding-Ranking-Core/pkg/errors"
)

// Compression selects the codec applied to a packed blob body.
type Compression uint8

const (
	CompressionNone Compression = 0
	// CompressionLZ4 is fast to load; the default for hot shards.
	CompressionLZ4 Compression = 1
	// CompressionZSTD trades load time for smaller files.
	CompressionZSTD Compression = 2
)

func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	}
	return CompressionNone, fmt.Errorf("%w: unknown compression %q", apperrors.ErrInvalidArgument, s)
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	}
	return fmt.Sprintf("compression(%d)", uint8(c))
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

// compressBody returns the stored body and the codec actually used. A body
// that does not shrink is stored raw.
func compressBody(raw []byte, c Compression) ([]byte, Compression, error) {
	if len(raw) == 0 {
		return raw, CompressionNone, nil
	}
	var out []byte
	switch c {
	case CompressionNone:
		return raw, CompressionNone, nil
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, buf, nil)
		if err != nil {
			return nil, c, fmt.Errorf("lz4 compress: %w", err)
		}
		out = buf[:n]
	case CompressionZSTD:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, c, fmt.Errorf("zstd encoder: %w", err)
		}
		out = enc.EncodeAll(raw, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, c, fmt.Errorf("%w: unknown compression %d", apperrors.ErrInvalidArgument, c)
	}
	if len(out) == 0 || len(out) >= len(raw) {
		return raw, CompressionNone, nil
	}
	return out, c, nil
}

func decompressBody(stored []byte, c Compression, rawLen int) ([]byte, error) {
	switch c {
	case CompressionNone:
		if len(stored) != rawLen {
			return nil, fmt.Errorf("%w: body is %d bytes, header says %d", apperrors.ErrCorruptRecord, len(stored), rawLen)
		}
		return stored, nil
	case CompressionLZ4:
		raw := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(stored, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", apperrors.ErrCorruptRecord, err)
		}
		if n != rawLen {
			return nil, fmt.Errorf("%w: lz4 body decompressed to %d bytes, want %d", apperrors.ErrCorruptRecord, n, rawLen)
		}
		return raw, nil
	case CompressionZSTD:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		defer zstdDecoderPool.Put(dec)
		raw, err := dec.DecodeAll(stored, make([]byte, 0, rawLen))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", apperrors.ErrCorruptRecord, err)
		}
		if len(raw) != rawLen {
			return nil, fmt.Errorf("%w: zstd body decompressed to %d bytes, want %d", apperrors.ErrCorruptRecord, len(raw), rawLen)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("%w: unknown compression %d", apperrors.ErrCorruptRecord, c)
}
