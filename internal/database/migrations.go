package database

import (
	"errors"
	"time"

	"github.com/florius0/delta/internal/commits"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillReversePatches = "2026-06-12_backfill_reverse_patches"

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
		{name: migrationBackfillReversePatches, apply: backfillReversePatches},
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

// backfillReversePatches normalizes rows written before reverse patches were
// persisted: an unset column becomes the empty patch.
func backfillReversePatches(db *gorm.DB) error {
	return db.Model(&commits.Record{}).
		Where("reverse_patch_json = '' OR reverse_patch_json IS NULL").
		Update("reverse_patch_json", "[]").Error
}
