package jsonservice

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// CompressThreshold is the encoded size above which cache entries are zstd
// compressed.
const CompressThreshold = 512

const (
	entryPlain byte = 'p'
	entryZstd  byte = 'z'
)

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	encoderErr  error

	decoderOnce sync.Once
	decoder     *zstd.Decoder
	decoderErr  error
)

func zstdEncoder() (*zstd.Encoder, error) {
	encoderOnce.Do(func() {
		encoder, encoderErr = zstd.NewWriter(nil)
	})
	return encoder, encoderErr
}

func zstdDecoder() (*zstd.Decoder, error) {
	decoderOnce.Do(func() {
		decoder, decoderErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})
	return decoder, decoderErr
}

// EncodeCacheEntry serialises entry for an external store. The first byte
// flags whether the JSON that follows is zstd compressed.
func EncodeCacheEntry(entry *CacheEntry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}

	if len(data) <= CompressThreshold {
		return append([]byte{entryPlain}, data...), nil
	}

	enc, err := zstdEncoder()
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	out := make([]byte, 1, len(data)/2+1)
	out[0] = entryZstd
	return enc.EncodeAll(data, out), nil
}

// DecodeCacheEntry reverses EncodeCacheEntry.
func DecodeCacheEntry(data []byte) (*CacheEntry, error) {
	if len(data) == 0 {
		return nil, errors.New("decode cache entry: empty")
	}

	payload := data[1:]
	switch data[0] {
	case entryPlain:
	case entryZstd:
		dec, err := zstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		payload, err = dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("decode cache entry: %w", err)
		}
	default:
		return nil, fmt.Errorf("decode cache entry: unknown flag %q", data[0])
	}

	var entry CacheEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	return &entry, nil
}
