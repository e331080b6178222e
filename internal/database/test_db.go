package database

import (
	"fmt"
	"sync/atomic"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"license-validation-service/internal/model"
)

var testDBSeq atomic.Int64

// OpenTest returns a fresh migrated in-memory database. Each call gets its
// own named memory database so tests do not see each other's rows;
// cache=shared keeps it alive across the pool connections gorm opens. The
// pool is pinned to one connection so concurrent tests serialize on it
// instead of hitting sqlite busy errors.
func OpenTest() *gorm.DB {
	name := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(name), &gorm.Config{})
	if err != nil {
		panic("failed to connect test database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		panic("failed to access test database pool")
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&model.License{}, &model.UsageRecord{}, &model.AdminUser{}); err != nil {
		panic("failed to migrate test database")
	}
	return db
}

func CloseTest(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	sqlDB.Close()
}
