// Package memstore keeps the Document as encoded JSON in memory. It backs
// tests and the "memory" storage driver.
package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/Tyrowin/portalchat/internal/common"
	"github.com/Tyrowin/portalchat/internal/models"
)

var errInjected = errors.New("injected failure")

// Backend stores a JSON snapshot so every Read hands out an independent copy.
type Backend struct {
	mu  sync.Mutex
	raw []byte

	failReads  atomic.Bool
	failWrites atomic.Bool
	writes     atomic.Int64
}

// New returns an empty backend.
func New() *Backend {
	return &Backend{}
}

func (b *Backend) Name() string { return "memory" }

func (b *Backend) Read(ctx context.Context) (*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.failReads.Load() {
		return nil, &common.StorageError{Backend: b.Name(), Op: "read", Err: errInjected}
	}

	b.mu.Lock()
	raw := b.raw
	b.mu.Unlock()

	if raw == nil {
		return nil, common.ErrNotFound
	}

	doc := &models.Document{}
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, &common.StorageError{Backend: b.Name(), Op: "decode", Err: err}
	}
	return doc, nil
}

func (b *Backend) Write(ctx context.Context, doc *models.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.failWrites.Load() {
		return &common.StorageError{Backend: b.Name(), Op: "write", Err: errInjected}
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return &common.StorageError{Backend: b.Name(), Op: "encode", Err: err}
	}

	b.mu.Lock()
	b.raw = raw
	b.mu.Unlock()
	b.writes.Add(1)
	return nil
}

func (b *Backend) Close() error { return nil }

// FailReads makes subsequent reads return a StorageError.
func (b *Backend) FailReads(fail bool) { b.failReads.Store(fail) }

// FailWrites makes subsequent writes return a StorageError.
func (b *Backend) FailWrites(fail bool) { b.failWrites.Store(fail) }

// Writes counts successful writes.
func (b *Backend) Writes() int64 { return b.writes.Load() }
