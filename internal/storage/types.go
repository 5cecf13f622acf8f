package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Store is a named-document store. Values are JSON-encoded.
type Store interface {
	// Load decodes the named document into out. found is false when the
	// document has never been saved.
	Load(ctx context.Context, name string, out any) (found bool, err error)
	Save(ctx context.Context, name string, v any) error
	Close() error
}

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
}

func encodeDoc(name string, v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return b, nil
}

func decodeDoc(name string, b []byte, out any) error {
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}
