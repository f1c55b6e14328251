package cmd

import (
	"context"
	"fmt"

	"github.com/mhpenta/docqueue"
	"github.com/mhpenta/docqueue/backend/mongostore"
	"github.com/mhpenta/docqueue/backend/sqlitestore"
	"github.com/mhpenta/docqueue/internal/config"
)

// stores holds the handles a command works with.
type stores struct {
	client  *docqueue.Client
	archive *docqueue.Archive
	close   func(context.Context) error
}

func openStores(ctx context.Context) (*stores, error) {
	var (
		db      docqueue.Database
		closeFn func(context.Context) error
	)

	switch cfg.Driver {
	case config.DriverMongo:
		client, err := mongostore.Connect(ctx, cfg.Mongo.URI)
		if err != nil {
			return nil, err
		}
		mdb := mongostore.New(client.Database(cfg.Mongo.Database))
		if err := mdb.EnsureIndexes(ctx, cfg.Queue.Collection, cfg.Failed.Collection); err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		db, closeFn = mdb, client.Disconnect

	case config.DriverSQLite:
		sqlDB, err := sqlitestore.Open(ctx, cfg.SQLite.DSN)
		if err != nil {
			return nil, err
		}
		db = sqlitestore.New(sqlDB)
		closeFn = func(context.Context) error { return sqlDB.Close() }

	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownDriver, cfg.Driver)
	}

	connector := docqueue.NewConnector(
		docqueue.Connections{cfg.Queue.Connection: db},
		docqueue.WithLogger(logger),
	)
	client, err := connector.Connect(cfg.QueueConfig())
	if err != nil {
		_ = closeFn(ctx)
		return nil, err
	}

	return &stores{
		client:  client,
		archive: docqueue.NewArchive(db.Collection(cfg.Failed.Collection), docqueue.WithLogger(logger)),
		close:   closeFn,
	}, nil
}

// withStores opens the stores, runs fn and closes them again.
func withStores(ctx context.Context, fn func(s *stores) error) error {
	s, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.close(context.Background()); err != nil {
			logger.Warn("failed to close store", "error", err)
		}
	}()
	return fn(s)
}
