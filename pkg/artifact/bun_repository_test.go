package artifact

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// newBunDBWithMock creates a bun.DB backed by go-sqlmock so repository SQL
// can be unit tested without a live Postgres instance.
func newBunDBWithMock(t *testing.T) (*bun.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return bun.NewDB(db, pgdialect.New()), mock
}

func TestBunMetadataRepository_MaxVersion(t *testing.T) {
	db, mock := newBunDBWithMock(t)
	repo := NewBunMetadataRepository(db)

	rows := sqlmock.NewRows([]string{"coalesce"}).AddRow(3)
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\) FROM "artifacts"`).WillReturnRows(rows)

	max, err := repo.MaxVersion(t.Context(), "model", "ns-1")
	require.NoError(t, err)
	require.Equal(t, 3, max)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBunMetadataRepository_Insert(t *testing.T) {
	db, mock := newBunDBWithMock(t)
	repo := NewBunMetadataRepository(db)

	mock.ExpectExec(`INSERT INTO "artifacts"`).WillReturnResult(sqlmock.NewResult(1, 1))

	a := &Artifact{Name: "model", Version: 1, NamespaceID: "ns-1", Format: FormatPickle, Status: StatusPending}
	err := repo.Insert(t.Context(), a)
	require.NoError(t, err)
	require.NotEmpty(t, a.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBunMetadataRepository_HasActiveForRegistration(t *testing.T) {
	db, mock := newBunDBWithMock(t)
	repo := NewBunMetadataRepository(db)

	rows := sqlmock.NewRows([]string{"count"}).AddRow(1)
	mock.ExpectQuery(`SELECT count\(\*\) FROM "artifacts"`).WillReturnRows(rows)

	active, err := repo.HasActiveForRegistration(t.Context(), "reg-1")
	require.NoError(t, err)
	require.True(t, active)
	require.NoError(t, mock.ExpectationsWereMet())
}
