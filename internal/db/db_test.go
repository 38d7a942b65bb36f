package db

import (
	"context"
	"path/filepath"
	"testing"

	"cheonkimoon/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenSQLiteAndMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "test.db")
	gdb, err := Open(config.DatabaseConfig{Path: path}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, Migrate(context.Background(), gdb, zap.NewNop()))

	hour := 12
	rec := FreeSajuRecord{UserName: "홍길동", BirthYear: 1995, BirthMonth: 9, BirthDay: 28, BirthHour: &hour, Gender: "male", Status: StatusProcessing}
	require.NoError(t, gdb.Create(&rec).Error)
	assert.NotZero(t, rec.ID)

	var got FreeSajuRecord
	require.NoError(t, gdb.First(&got, rec.ID).Error)
	assert.Equal(t, "홍길동", got.UserName)
	assert.Equal(t, 12, *got.BirthHour)
	assert.Nil(t, got.SajuData)
}

func TestOpenMemoryIsolated(t *testing.T) {
	a, err := OpenMemory()
	require.NoError(t, err)
	b, err := OpenMemory()
	require.NoError(t, err)

	require.NoError(t, a.Create(&ReadingLog{Variant: "section", Status: "ok"}).Error)

	var n int64
	require.NoError(t, b.Model(&ReadingLog{}).Count(&n).Error)
	assert.Zero(t, n)
}
