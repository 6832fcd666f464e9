package database

import (
	"errors"
	"time"

	"github.com/c2hq/backend/internal/ingest"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillPrimaryTag = "2026-08-12_backfill_comment_primary_tag"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillPrimaryTag, apply: backfillCommentPrimaryTag},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Rows ingested before primary_tag existed carry tags but no primary tag;
// promote the first stored tag.
func backfillCommentPrimaryTag(db *gorm.DB) error {
	var rows []ingest.Comment
	err := db.Model(&ingest.Comment{}).
		Where("(primary_tag IS NULL OR primary_tag = '') AND tags IS NOT NULL AND tags <> '' AND tags <> '[]'").
		Find(&rows).Error
	if err != nil {
		return err
	}

	for _, row := range rows {
		if len(row.Tags) == 0 {
			continue
		}
		if err := db.Model(&ingest.Comment{}).
			Where("id = ?", row.ID).
			Update("primary_tag", row.Tags[0]).Error; err != nil {
			return err
		}
	}
	return nil
}
