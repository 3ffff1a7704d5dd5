package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Early builds derived media storage keys from (chapter id, lecture id, kind),
// which went stale whenever a lecture moved between chapters. Keys are now
// derived from (lecture id, kind) alone; this migration strips the chapter
// component from stored keys.
const migrationRekeyMediaBlobs = "2026-05-12_rekey_media_blobs_lecture_scope"

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
		{name: migrationRekeyMediaBlobs, apply: rekeyMediaBlobsToLectureScope},
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

func rekeyMediaBlobsToLectureScope(db *gorm.DB) error {
	// Legacy keys read media-<chapter uuid>-<lecture uuid>-<kind>; the lecture
	// id starts at byte offset 44 (after "media-" plus a 36-char uuid and a
	// separator). Lecture-scoped keys are at most 59 characters.
	const rekey = "UPDATE media_blobs SET storage_key = 'media-' || substr(storage_key, 44) " +
		"WHERE storage_key LIKE 'media-%' AND length(storage_key) > 59;"
	return db.Exec(rekey).Error
}
