//go:build integration

package tx

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"didvault/pkg/testutil/containers"
)

func TestRunCommitsAndRollsBack(t *testing.T) {
	pg := containers.GetManager().GetPostgres(t)
	ctx := context.Background()
	_, err := pg.DB.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS tx_scratch (v TEXT)`)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = pg.DB.ExecContext(ctx, `DROP TABLE tx_scratch`) })

	require.NoError(t, Run(ctx, pg.DB, func(ctx context.Context) error {
		_, err := Conn(ctx, pg.DB).ExecContext(ctx, `INSERT INTO tx_scratch VALUES ('kept')`)
		return err
	}))

	boom := errors.New("boom")
	err = Run(ctx, pg.DB, func(ctx context.Context) error {
		if _, err := Conn(ctx, pg.DB).ExecContext(ctx, `INSERT INTO tx_scratch VALUES ('dropped')`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, pg.DB.QueryRowContext(ctx, `SELECT count(*) FROM tx_scratch`).Scan(&n))
	assert.Equal(t, 1, n)
}
