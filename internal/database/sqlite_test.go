package database

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestOpenSQLiteMigratesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c2hq-test.db")

	db, err := OpenSQLite(path, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	defer sqlDB.Close()

	for _, table := range []string{"platform_credentials", "videos", "comments", "user_identities", "db_migrations"} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %s to exist", table)
		}
	}

	var applied int64
	if err := db.Table("db_migrations").Count(&applied).Error; err != nil {
		t.Fatalf("failed to count migrations: %v", err)
	}
	if applied == 0 {
		t.Fatalf("expected at least one recorded migration")
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite("", zap.NewNop()); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestOpenSQLiteIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c2hq-test.db")

	first, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	firstDB, err := first.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	firstDB.Close()

	second, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	secondDB, err := second.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	secondDB.Close()
}
