//go:build cgo

package dolt

import (
	"context"
	"database/sql"
	"errors"

	embedded "github.com/dolthub/driver"
)

// ignoreContextCanceled drops the context.Canceled noise Dolt's engine
// shutdown surfaces from background goroutines.
func ignoreContextCanceled(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// withEmbeddedDolt runs fn against a connector that exists only for this
// call, so schema setup never shares engine locks with the store's own
// connection. The connector is always closed, releasing filesystem locks.
//
// ctx is passed through unmodified: the embedded driver keeps the Connect
// context for the whole session.
func withEmbeddedDolt(
	ctx context.Context,
	dsn string,
	configure func(cfg *embedded.Config),
	fn func(ctx context.Context, db *sql.DB) error,
) (err error) {
	if fn == nil {
		return errors.New("withEmbeddedDolt: fn is required")
	}

	cfg, err := embedded.ParseDSN(dsn)
	if err != nil {
		return err
	}
	if configure != nil {
		configure(&cfg)
	}

	connector, err := embedded.NewConnector(cfg)
	if err != nil {
		return err
	}
	db := sql.OpenDB(connector)

	defer func() {
		cerr := errors.Join(
			ignoreContextCanceled(db.Close()),
			ignoreContextCanceled(connector.Close()),
		)
		err = errors.Join(err, cerr)
	}()

	if err := db.PingContext(ctx); err != nil {
		return err
	}
	return fn(ctx, db)
}
