//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"didvault/internal/evidence/vc/store"
	auditpg "didvault/pkg/platform/audit/store/postgres"
	"didvault/pkg/platform/tx"
	"didvault/pkg/testutil/containers"
)

type migratorFunc func(ctx context.Context) error

func (f migratorFunc) Migrate(ctx context.Context) error { return f(ctx) }

func TestOpenAndMigrate(t *testing.T) {
	pg := containers.GetManager().GetPostgres(t)
	ctx := context.Background()

	db, err := Open(ctx, pg.DSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(ctx, db, store.NewPostgres(db), auditpg.New(db)))
	require.NoError(t, Migrate(ctx, db, store.NewPostgres(db), auditpg.New(db)))
}

func TestMigrateRollsBackOnFailure(t *testing.T) {
	pg := containers.GetManager().GetPostgres(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := Migrate(ctx, pg.DB,
		migratorFunc(func(ctx context.Context) error {
			_, err := tx.Conn(ctx, pg.DB).ExecContext(ctx, `CREATE TABLE migrate_scratch (id INT)`)
			return err
		}),
		migratorFunc(func(context.Context) error { return boom }),
	)
	require.ErrorIs(t, err, boom)

	var exists bool
	require.NoError(t, pg.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'migrate_scratch')`).Scan(&exists))
	assert.False(t, exists)
}
