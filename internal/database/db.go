package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"license-validation-service/internal/config"
	"license-validation-service/internal/model"
)

// Open connects to the sqlite database described by cfg, migrates the schema
// and seeds the admin account. The handle is returned to the caller; this
// package keeps no global state.
func Open(cfg *config.Config) (*gorm.DB, error) {
	if err := os.MkdirAll(cfg.Database.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(cfg.Database.Dir, cfg.Database.File)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.AutoMigrate(&model.License{}, &model.UsageRecord{}, &model.AdminUser{}); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	if err := seedAdmin(db, cfg.Auth); err != nil {
		return nil, fmt.Errorf("seeding admin account: %w", err)
	}

	return db, nil
}

func seedAdmin(db *gorm.DB, auth config.AuthConfig) error {
	var count int64
	if err := db.Model(&model.AdminUser{}).Where("username = ?", auth.AdminUsername).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(auth.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	return db.Create(&model.AdminUser{
		Username: auth.AdminUsername,
		Password: string(hashed),
	}).Error
}
