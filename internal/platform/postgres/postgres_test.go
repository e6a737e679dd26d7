package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWithoutDSN(t *testing.T) {
	db, err := Open(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, db)
}

func TestOpenBadDSN(t *testing.T) {
	_, err := Open(context.Background(), "postgres://127.0.0.1:1/none?connect_timeout=1")
	assert.Error(t, err)
}
