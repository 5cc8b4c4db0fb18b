// Package store serializes every read-modify-write of the portal Document
// through a single worker goroutine so that concurrent callers can never
// clobber each other's updates.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Tyrowin/portalchat/internal/common"
	"github.com/Tyrowin/portalchat/internal/logging"
	"github.com/Tyrowin/portalchat/internal/models"
)

// maxConflictRetries bounds how often Update re-runs after a backend reports
// a stale revision.
const maxConflictRetries = 3

var (
	// ErrSkipWrite may be returned by an Update callback to finish
	// successfully without persisting anything.
	ErrSkipWrite = errors.New("store: skip write")

	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("store: closed")
)

// Backend reads and writes the whole Document. Read on an empty backend
// returns common.ErrNotFound. I/O failures are *common.StorageError.
type Backend interface {
	Name() string
	Read(ctx context.Context) (*models.Document, error)
	Write(ctx context.Context, doc *models.Document) error
	Close() error
}

type request struct {
	ctx   context.Context
	fn    func(doc *models.Document) error
	write bool
	done  chan error
}

// Store is the only path to the Document.
type Store struct {
	backend Backend
	logger  logging.Logger
	now     func() time.Time

	reqs      chan request
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New starts the worker for backend. The backend is assumed to be seeded;
// use Open to seed it on first start.
func New(backend Backend, logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	s := &Store{
		backend: backend,
		logger:  logger.With("module", "store", "backend", backend.Name()),
		now:     time.Now,
		reqs:    make(chan request),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Open writes seed (or models.DefaultDocument when seed is nil) if the
// backend is empty, then starts the Store.
func Open(ctx context.Context, backend Backend, seed *models.Document, logger logging.Logger) (*Store, error) {
	_, err := backend.Read(ctx)
	switch {
	case err == nil:
	case errors.Is(err, common.ErrNotFound):
		if seed == nil {
			seed = models.DefaultDocument()
		}
		seed.Normalize()
		seed.Revision = 1
		seed.UpdatedAt = time.Now().UTC()
		if err := backend.Write(ctx, seed); err != nil {
			return nil, fmt.Errorf("seed document: %w", err)
		}
	default:
		return nil, fmt.Errorf("open document: %w", err)
	}

	return New(backend, logger), nil
}

// View runs fn against a fresh snapshot of the Document. Changes made by fn
// are discarded.
func (s *Store) View(ctx context.Context, fn func(doc *models.Document) error) error {
	return s.do(ctx, fn, false)
}

// Update loads the Document, runs fn and writes the result back. If fn
// returns an error nothing is written and the error is returned, except for
// ErrSkipWrite which yields nil. fn may run more than once when the backend
// detects a concurrent writer, so it must only assign to captured state.
func (s *Store) Update(ctx context.Context, fn func(doc *models.Document) error) error {
	return s.do(ctx, fn, true)
}

// Close stops the worker and closes the backend.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.quit)
		<-s.done
		err = s.backend.Close()
	})
	return err
}

func (s *Store) do(ctx context.Context, fn func(doc *models.Document) error, write bool) error {
	req := request{ctx: ctx, fn: fn, write: write, done: make(chan error, 1)}

	select {
	case s.reqs <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return ErrClosed
	}

	// The backend honours req.ctx, so this cannot block past cancellation.
	return <-req.done
}

func (s *Store) run() {
	defer close(s.done)

	for {
		select {
		case <-s.quit:
			return
		case req := <-s.reqs:
			req.done <- s.execute(req)
		}
	}
}

func (s *Store) execute(req request) (err error) {
	if err := req.ctx.Err(); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(req.ctx, "recovered from panic in store callback", "panic", r)
			err = fmt.Errorf("store callback panicked: %v", r)
		}
	}()

	for attempt := 0; ; attempt++ {
		doc, err := s.backend.Read(req.ctx)
		if err != nil {
			return err
		}
		doc.Normalize()

		if err := req.fn(doc); err != nil {
			if errors.Is(err, ErrSkipWrite) {
				return nil
			}
			return err
		}

		if !req.write {
			return nil
		}

		doc.Revision++
		doc.UpdatedAt = s.now().UTC()

		err = s.backend.Write(req.ctx, doc)
		if errors.Is(err, common.ErrVersionConflict) && attempt < maxConflictRetries {
			s.logger.Warn(req.ctx, "document changed underneath, retrying", "revision", doc.Revision, "attempt", attempt+1)
			continue
		}
		return err
	}
}
