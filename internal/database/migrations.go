package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pagemarklabs/pagemark/internal/annotations"
)

const (
	migrationStripAuthorProviderPrefix = "2026-05-12_strip_provider_prefix_from_author_ids"
	migrationBackfillCreatedAtMillis   = "2026-06-20_backfill_annotation_created_at"
)

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
		{name: migrationStripAuthorProviderPrefix, apply: stripAuthorProviderPrefix},
		{name: migrationBackfillCreatedAtMillis, apply: backfillCreatedAtMillis},
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

// Annotation rows written before canonical identity resolution carried the raw
// provider-prefixed login as author_id.
func stripAuthorProviderPrefix(db *gorm.DB) error {
	const prefix = "google:"
	return db.Exec(
		"UPDATE annotations SET author_id = substr(author_id, ?) WHERE author_id LIKE ?;",
		len(prefix)+1, prefix+"%",
	).Error
}

// Early clients omitted createdAt on the wire, leaving zero in storage.
func backfillCreatedAtMillis(db *gorm.DB) error {
	return db.Model(&annotations.StoredAnnotation{}).
		Where("created_at_ms = 0").
		Update("created_at_ms", gorm.Expr("updated_at_ms")).Error
}
