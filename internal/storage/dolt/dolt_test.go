//go:build cgo

package dolt

import (
	"context"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/testcontainers/testcontainers-go"
	tcdolt "github.com/testcontainers/testcontainers-go/modules/dolt"

	"github.com/steveyegge/grievance/internal/storage"
	"github.com/steveyegge/grievance/internal/storage/storagetest"
)

func TestEmbeddedStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded Dolt tests in short mode")
	}
	storagetest.Run(t, func(t *testing.T) storage.Store {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s, err := New(ctx, &Config{Path: filepath.Join(t.TempDir(), "dolt"), Database: "gv_test"})
		if err != nil {
			t.Fatalf("open embedded dolt: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestServerStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Dolt container tests in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := tcdolt.Run(ctx, "dolthub/dolt-sql-server:1.43.0",
		tcdolt.WithDatabase("grievance"),
		tcdolt.WithUsername("gv"),
		tcdolt.WithPassword("gv-password"),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start dolt container: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("container dsn: %v", err)
	}
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("parse dsn %q: %v", dsn, err)
	}
	host, portStr, err := net.SplitHostPort(mc.Addr)
	if err != nil {
		t.Fatalf("split %q: %v", mc.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("port %q: %v", portStr, err)
	}

	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, err := New(ctx, &Config{
			ServerMode:         true,
			ServerHost:         host,
			ServerPort:         port,
			ServerUser:         mc.User,
			ServerPassword:     mc.Passwd,
			Database:           mc.DBName,
			SkipCreateDatabase: true,
		})
		if err != nil {
			t.Fatalf("open dolt server store: %v", err)
		}
		// Subtests share the container database; start each one empty.
		for _, stmt := range []string{"DELETE FROM critical_signals", "DELETE FROM claims"} {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				t.Fatalf("%s: %v", stmt, err)
			}
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
