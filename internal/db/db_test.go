package db_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/fastchecker/internal/db"
	"github.com/vrsandeep/fastchecker/internal/logger"
)

func TestOpen_AppliesMigrations(t *testing.T) {
	database, err := db.Open(":memory:", logger.Nop())
	require.NoError(t, err)
	defer database.Close()

	var name string
	err = database.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='manual_results'").Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "manual_results", name)
}

func TestRunMigrations_Idempotent(t *testing.T) {
	database, err := db.Open(":memory:", logger.Nop())
	require.NoError(t, err)
	defer database.Close()

	// A second run finds nothing to apply and must not fail.
	assert.NoError(t, db.RunMigrations(database, logger.Nop()))
}
