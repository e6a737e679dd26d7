// Package postgres opens the database/sql handle shared by the credential and
// audit stores.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"didvault/pkg/platform/tx"
)

// Migrator is implemented by stores that own a schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Open connects with the pgx driver and pings the server. An empty dsn
// returns a nil handle.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, nil
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return db, nil
}

// Migrate applies every store schema in order inside one transaction.
func Migrate(ctx context.Context, db *sql.DB, stores ...Migrator) error {
	return tx.Run(ctx, db, func(ctx context.Context) error {
		for _, s := range stores {
			if err := s.Migrate(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}
