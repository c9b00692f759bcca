package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"budgetwatch/internal/config"
	"budgetwatch/internal/storage"
)

func TestFromAppConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.DataBackend = "postgres"
	cfg.DatabaseURL = "postgres://localhost/db"

	bc, err := FromAppConfig(&cfg)
	require.NoError(t, err)
	assert.Equal(t, PostgresBackend, bc.Type)
	assert.Equal(t, "postgres://localhost/db", bc.DatabaseURL)

	cfg.DataBackend = "sheets"
	_, err = FromAppConfig(&cfg)
	assert.Error(t, err)

	_, err = FromAppConfig(nil)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	assert.Error(t, Config{Type: "memory"}.Validate())
	assert.Error(t, Config{Type: SQLiteBackend}.Validate())
	assert.Error(t, Config{Type: PostgresBackend}.Validate())
	assert.NoError(t, Config{Type: SQLiteBackend, SQLiteDBPath: "x.db"}.Validate())
	assert.ElementsMatch(t, []string{"sqlite", "postgres"}, GetBackendTypeStrings())
}

func TestCreateBackend_SQLite(t *testing.T) {
	ctx := context.Background()
	f := NewFactory(nil)

	res, err := f.CreateBackend(ctx, Config{Type: SQLiteBackend, SQLiteDBPath: filepath.Join(t.TempDir(), "app.db")})
	require.NoError(t, err)
	defer func() { assert.NoError(t, res.Cleanup()) }()
	require.NoError(t, res.Ping(ctx))

	err = res.Store.InTx(ctx, func(tx storage.Tx) error {
		owners, err := tx.ListBudgetOwners(ctx)
		assert.Empty(t, owners)
		return err
	})
	require.NoError(t, err)
}
