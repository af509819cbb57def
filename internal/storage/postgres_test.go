// File: internal/storage/postgres_test.go
package storage_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/greasewire/greasewire/internal/storage"
)

func newPostgresWithMock(t *testing.T) (*storage.Postgres, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS gm_values").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	store, err := storage.NewPostgres(context.Background(), mock, zap.NewNop())
	require.NoError(t, err)
	return store, mock
}

func TestPostgresSetValueUpserts(t *testing.T) {
	t.Parallel()
	store, mock := newPostgresWithMock(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO gm_values")).
		WithArgs("s1:theme", []byte(`"dark"`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SetValue(context.Background(), "s1:theme", "dark"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetValue(t *testing.T) {
	t.Parallel()

	t.Run("present key decodes JSON", func(t *testing.T) {
		t.Parallel()
		store, mock := newPostgresWithMock(t)

		mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM gm_values WHERE key = $1")).
			WithArgs("s1:count").
			WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow([]byte(`7`)))

		v, err := store.GetValue(context.Background(), "s1:count", nil)
		require.NoError(t, err)
		assert.Equal(t, float64(7), v)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("absent key returns default", func(t *testing.T) {
		t.Parallel()
		store, mock := newPostgresWithMock(t)

		mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM gm_values WHERE key = $1")).
			WithArgs("s1:missing").
			WillReturnError(pgx.ErrNoRows)

		v, err := store.GetValue(context.Background(), "s1:missing", "def")
		require.NoError(t, err)
		assert.Equal(t, "def", v)
	})
}

func TestPostgresDeleteValue(t *testing.T) {
	t.Parallel()
	store, mock := newPostgresWithMock(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM gm_values WHERE key = $1")).
		WithArgs("s1:gone").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.DeleteValue(context.Background(), "s1:gone"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListValues(t *testing.T) {
	t.Parallel()
	store, mock := newPostgresWithMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT key FROM gm_values ORDER BY key")).
		WillReturnRows(pgxmock.NewRows([]string{"key"}).AddRow("s1:a").AddRow("s1:b"))

	keys, err := store.ListValues(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"s1:a", "s1:b"}, keys)
}

func TestPostgresThroughScope(t *testing.T) {
	t.Parallel()
	store, mock := newPostgresWithMock(t)
	scoped := storage.Scope(store, "abc")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO gm_values")).
		WithArgs("abc:k", []byte(`1`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, scoped.SetValue(context.Background(), "k", 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}
