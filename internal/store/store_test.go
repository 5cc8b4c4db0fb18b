package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/portalchat/internal/common"
	"github.com/Tyrowin/portalchat/internal/logging"
	"github.com/Tyrowin/portalchat/internal/models"
	"github.com/Tyrowin/portalchat/internal/store/memstore"
)

func openMem(t *testing.T) (*Store, *memstore.Backend) {
	t.Helper()
	backend := memstore.New()
	s, err := Open(context.Background(), backend, nil, logging.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, backend
}

func TestOpen_SeedsEmptyBackend(t *testing.T) {
	s, backend := openMem(t)
	assert.Equal(t, int64(1), backend.Writes())

	err := s.View(context.Background(), func(doc *models.Document) error {
		assert.Equal(t, int64(1), doc.Revision)
		_, ok := doc.Theme(models.DefaultThemeID)
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestOpen_KeepsExistingDocument(t *testing.T) {
	ctx := context.Background()
	backend := memstore.New()
	require.NoError(t, backend.Write(ctx, &models.Document{Revision: 9}))

	s, err := Open(ctx, backend, models.DefaultDocument(), nil)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, int64(1), backend.Writes())
}

func TestOpen_ReadFailure(t *testing.T) {
	backend := memstore.New()
	backend.FailReads(true)

	_, err := Open(context.Background(), backend, nil, nil)
	assert.ErrorIs(t, err, common.ErrStorageUnavailable)
}

func TestUpdate_BumpsRevision(t *testing.T) {
	ctx := context.Background()
	s, _ := openMem(t)

	require.NoError(t, s.Update(ctx, func(doc *models.Document) error {
		doc.Statistics.TotalAccesses++
		return nil
	}))

	require.NoError(t, s.View(ctx, func(doc *models.Document) error {
		assert.Equal(t, int64(2), doc.Revision)
		assert.Equal(t, int64(1), doc.Statistics.TotalAccesses)
		assert.False(t, doc.UpdatedAt.IsZero())
		return nil
	}))
}

func TestUpdate_CallbackErrorWritesNothing(t *testing.T) {
	ctx := context.Background()
	s, backend := openMem(t)
	boom := errors.New("boom")

	err := s.Update(ctx, func(doc *models.Document) error {
		doc.Statistics.ChatMessages = 100
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = s.Update(ctx, func(doc *models.Document) error {
		doc.Statistics.ChatMessages = 100
		return ErrSkipWrite
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), backend.Writes())
}

func TestView_DiscardsChanges(t *testing.T) {
	ctx := context.Background()
	s, backend := openMem(t)

	require.NoError(t, s.View(ctx, func(doc *models.Document) error {
		doc.Users = append(doc.Users, models.User{ID: 1})
		return nil
	}))
	require.NoError(t, s.View(ctx, func(doc *models.Document) error {
		assert.Empty(t, doc.Users)
		return nil
	}))
	assert.Equal(t, int64(1), backend.Writes())
}

func TestUpdate_ConcurrentIncrementsAreNotLost(t *testing.T) {
	ctx := context.Background()
	s, _ := openMem(t)

	const workers = 50
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Update(ctx, func(doc *models.Document) error {
				doc.Statistics.ChatMessages++
				return nil
			}))
		}()
	}
	wg.Wait()

	require.NoError(t, s.View(ctx, func(doc *models.Document) error {
		assert.Equal(t, int64(workers), doc.Statistics.ChatMessages)
		assert.Equal(t, int64(workers+1), doc.Revision)
		return nil
	}))
}

func TestUpdate_StorageFailure(t *testing.T) {
	ctx := context.Background()
	s, backend := openMem(t)
	backend.FailWrites(true)

	err := s.Update(ctx, func(doc *models.Document) error { return nil })
	assert.ErrorIs(t, err, common.ErrStorageUnavailable)

	backend.FailWrites(false)
	assert.NoError(t, s.Update(ctx, func(doc *models.Document) error { return nil }))
}

func TestUpdate_RecoversFromPanic(t *testing.T) {
	ctx := context.Background()
	s, _ := openMem(t)

	err := s.Update(ctx, func(doc *models.Document) error { panic("bad callback") })
	assert.ErrorContains(t, err, "panicked")

	assert.NoError(t, s.View(ctx, func(doc *models.Document) error { return nil }), "worker must survive")
}

func TestClosedStore(t *testing.T) {
	s, _ := openMem(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err := s.View(context.Background(), func(doc *models.Document) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCancelledContext(t *testing.T) {
	s, _ := openMem(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Update(ctx, func(doc *models.Document) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

// conflictBackend rejects the first n writes with ErrVersionConflict.
type conflictBackend struct {
	*memstore.Backend
	conflicts int
}

func (b *conflictBackend) Write(ctx context.Context, doc *models.Document) error {
	if b.conflicts > 0 {
		b.conflicts--
		return common.ErrVersionConflict
	}
	return b.Backend.Write(ctx, doc)
}

func TestUpdate_RetriesVersionConflicts(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()
	require.NoError(t, mem.Write(ctx, models.DefaultDocument()))

	backend := &conflictBackend{Backend: mem, conflicts: 2}
	s := New(backend, nil)
	defer s.Close()

	calls := 0
	require.NoError(t, s.Update(ctx, func(doc *models.Document) error {
		calls++
		return nil
	}))
	assert.Equal(t, 3, calls)

	backend.conflicts = maxConflictRetries + 1
	err := s.Update(ctx, func(doc *models.Document) error { return nil })
	assert.ErrorIs(t, err, common.ErrVersionConflict)
}

func TestReadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"themes":[{"id":"default","name":"Default"}]}`), 0o600))

	doc, err := ReadSeedFile(path)
	require.NoError(t, err)
	assert.Len(t, doc.Themes, 1)
	assert.NotNil(t, doc.Users)

	_, err = ReadSeedFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
