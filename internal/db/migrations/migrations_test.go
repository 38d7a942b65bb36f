package migrations

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList(t *testing.T) {
	all, err := List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "20260113_free_saju_records", all[0].Version)
	assert.Equal(t, "20260120_reading_logs", all[1].Version)
	assert.Contains(t, all[0].SQL, "CREATE TABLE IF NOT EXISTS free_saju_records")
}

func TestApplyExecutesAllMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"version"}))
	for _, v := range []string{"20260113_free_saju_records", "20260120_reading_logs"} {
		mock.ExpectBegin()
		mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO schema_migrations").WithArgs(v).WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()
	}

	applied, err := Apply(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, []string{"20260113_free_saju_records", "20260120_reading_logs"}, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplySkipsAppliedVersions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("20260113_free_saju_records"))
	mock.ExpectBegin()
	mock.ExpectExec("reading_logs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("20260120_reading_logs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	applied, err := Apply(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, []string{"20260120_reading_logs"}, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectBegin()
	mock.ExpectExec("free_saju_records").WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	applied, err := Apply(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "20260113_free_saju_records")
	assert.Empty(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM information_schema.columns").WithArgs("free_saju_records").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}).
			AddRow("id", "bigint").
			AddRow("saju_data", "jsonb"))

	cols, err := Columns(context.Background(), db, "free_saju_records")
	require.NoError(t, err)
	assert.Equal(t, []Column{{"id", "bigint"}, {"saju_data", "jsonb"}}, cols)
	assert.NoError(t, mock.ExpectationsWereMet())
}
