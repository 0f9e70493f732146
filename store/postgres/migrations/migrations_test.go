package migrations_test

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/orchestrator/store/postgres/migrations"
)

func TestApply_SurfacesGooseErrorsRatherThanPanicking(t *testing.T) {
	// Exercising goose.Up against a real schema belongs to an integration
	// test against a live Postgres instance. Here, an sqlmock connection
	// with no scripted expectations exercises the embed+dialect wiring:
	// goose's first bookkeeping query (checking for its version table) hits
	// sqlmock's "unexpected query" error, which Apply must propagate rather
	// than panic on.
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	err = migrations.Apply(db)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
