//go:build cgo

package factory

import (
	"context"

	"github.com/steveyegge/grievance/internal/config"
	"github.com/steveyegge/grievance/internal/storage"
	"github.com/steveyegge/grievance/internal/storage/dolt"
)

func init() {
	RegisterBackend(config.BackendDoltEmbedded, func(ctx context.Context, opts Options) (storage.Store, error) {
		return dolt.New(ctx, &dolt.Config{
			Path:     opts.DoltPath,
			Database: opts.Server.Database,
		})
	})
	RegisterBackend(config.BackendDoltServer, func(ctx context.Context, opts Options) (storage.Store, error) {
		return dolt.New(ctx, &dolt.Config{
			ServerMode:     true,
			ServerHost:     opts.Server.Host,
			ServerPort:     opts.Server.Port,
			ServerUser:     opts.Server.User,
			ServerPassword: opts.Server.Password,
			Database:       opts.Server.Database,
		})
	})
}
