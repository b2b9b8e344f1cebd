package config

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPostgresConnection_InvalidURL(t *testing.T) {
	t.Run("invalid_database_url", func(t *testing.T) {
		db, err := NewPostgresConnection("invalid://malformed")
		assert.Error(t, err)
		assert.Nil(t, db)
	})

	t.Run("empty_database_url", func(t *testing.T) {
		db, err := NewPostgresConnection("")
		assert.Error(t, err)
		assert.Nil(t, db)
	})
}

func TestEnsureSchema(t *testing.T) {
	t.Run("applies_schema", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec(regexp.QuoteMeta(Schema)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, EnsureSchema(context.Background(), db))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wraps_exec_error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec(regexp.QuoteMeta(Schema)).
			WillReturnError(errors.New("permission denied"))

		err = EnsureSchema(context.Background(), db)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to apply schema")
		assert.Contains(t, err.Error(), "permission denied")
	})
}

func TestSchema_MessagesTable(t *testing.T) {
	assert.Contains(t, Schema, "CREATE TABLE IF NOT EXISTS messages")
	assert.Contains(t, Schema, "community_id TEXT NOT NULL DEFAULT 'global'")
	assert.Contains(t, Schema, "is_anonymous BOOLEAN NOT NULL DEFAULT FALSE")
	assert.NotContains(t, Schema, "REFERENCES communities")
}
