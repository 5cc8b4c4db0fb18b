package store

import (
	"context"
	"fmt"

	"github.com/Tyrowin/portalchat/internal/config"
	"github.com/Tyrowin/portalchat/internal/store/filestore"
	"github.com/Tyrowin/portalchat/internal/store/memstore"
	"github.com/Tyrowin/portalchat/internal/store/s3store"
	"github.com/Tyrowin/portalchat/internal/store/sqlstore"
)

// NewBackend opens the backend selected by cfg.Driver.
func NewBackend(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memstore.New(), nil
	case config.DriverFile:
		return filestore.New(cfg.Path), nil
	case config.DriverSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = cfg.Path
		}
		return openSQL(ctx, sqlstore.SQLite, dsn)
	case config.DriverPostgres:
		return openSQL(ctx, sqlstore.Postgres, cfg.DSN)
	case config.DriverS3:
		b, err := s3store.Open(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func openSQL(ctx context.Context, dialect sqlstore.Dialect, dsn string) (Backend, error) {
	b, err := sqlstore.Open(ctx, dialect, dsn)
	if err != nil {
		return nil, err
	}
	return b, nil
}
