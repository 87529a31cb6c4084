// Package storagetest provides an isolated in-memory database for tests.
package storagetest

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"im-chat/internal/storage"
)

var seq atomic.Int64

// Open returns a fresh migrated sqlite database that is closed when t ends.
// The pool is limited to one connection, so code under test must use the
// transaction handle (not the outer *gorm.DB) inside a Transaction closure.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:imchat_test_%d?mode=memory&cache=shared&_pragma=foreign_keys(0)", seq.Add(1))
	log := zaptest.NewLogger(t)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         storage.NewGormLogger(log, "error"),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, storage.AutoMigrateTables(db, log))
	return db
}
