// Package cache implements the two-level response cache: a bounded in-memory
// LRU level with sliding expiry in front of a durable level with fixed
// expiry.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/pario-ai/goscli/pkg/codec"
)

var (
	// ErrNotFound is returned by a Store when no record exists for a key.
	ErrNotFound = errors.New("cache: record not found")

	// ErrCorrupt is returned by a Store when a record exists but cannot be
	// decoded. Callers treat it as a miss and delete the record.
	ErrCorrupt = errors.New("cache: corrupt record")
)

// Record is a durable cache entry.
type Record struct {
	Key       string    `cbor:"key"`
	Value     []byte    `cbor:"value"`
	CreatedAt time.Time `cbor:"created_at"`
	ExpiresAt time.Time `cbor:"expires_at"`
}

// Expired reports whether the record must no longer be served at now.
func (r Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Store is the durable cache level.
type Store interface {
	// Get returns the record for key, ErrNotFound, or ErrCorrupt. Expiry is
	// not checked.
	Get(ctx context.Context, key string) (Record, error)
	// Put writes rec, replacing any existing record for rec.Key.
	Put(ctx context.Context, rec Record) error
	// Delete removes the record for key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Clear removes every record.
	Clear(ctx context.Context) error
	// Purge removes records that expired before now, and any unreadable
	// records, returning how many were removed.
	Purge(ctx context.Context, now time.Time) (int, error)
	// Len returns the number of stored records.
	Len(ctx context.Context) (int64, error)
	Close() error
}

// zstd encoder and decoder are safe for concurrent use and shared by every
// store.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("cache: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("cache: zstd decoder initialization failed: " + err.Error())
	}
}

// EncodeRecord serializes rec as zstd-compressed deterministic CBOR.
func EncodeRecord(rec Record) ([]byte, error) {
	data, err := codec.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return zstdEncoder.EncodeAll(data, nil), nil
}

// DecodeRecord parses data produced by EncodeRecord. Any failure wraps
// ErrCorrupt.
func DecodeRecord(data []byte) (Record, error) {
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return Record{}, fmt.Errorf("%w: decompress: %v", ErrCorrupt, err)
	}
	var rec Record
	if err := codec.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: decode: %v", ErrCorrupt, err)
	}
	if rec.Key == "" {
		return Record{}, fmt.Errorf("%w: missing key", ErrCorrupt)
	}
	return rec, nil
}
