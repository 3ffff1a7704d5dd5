package database

import (
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lyceum-labs/curricula/backend/internal/blob"
)

func TestApplyMigrationsRekeysChapterScopedBlobs(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&blob.Record{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	const (
		chapterID = "0190a5c2-91a4-7cc8-b7d1-3f2a6e9d4c01"
		lectureID = "0190a5c2-91a4-7cc8-b7d1-3f2a6e9d4c02"
	)
	legacy := blob.Record{
		StorageKey:  "media-" + chapterID + "-" + lectureID + "-video",
		ContentType: "video/mp4",
		SizeBytes:   3,
		Content:     []byte{1, 2, 3},
	}
	modern := blob.Record{
		StorageKey:  "media-" + lectureID + "-attachment",
		ContentType: "application/pdf",
		SizeBytes:   3,
		Content:     []byte{4, 5, 6},
	}
	if err := database.Create(&legacy).Error; err != nil {
		testContext.Fatalf("failed to insert legacy record: %v", err)
	}
	if err := database.Create(&modern).Error; err != nil {
		testContext.Fatalf("failed to insert modern record: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var rekeyed blob.Record
	if err := database.Where("storage_key = ?", "media-"+lectureID+"-video").Take(&rekeyed).Error; err != nil {
		testContext.Fatalf("expected legacy key to be rewritten to lecture scope: %v", err)
	}
	if rekeyed.ContentType != "video/mp4" {
		testContext.Fatalf("rekeying must not alter the payload row, got %q", rekeyed.ContentType)
	}

	var untouched blob.Record
	if err := database.Where("storage_key = ?", modern.StorageKey).Take(&untouched).Error; err != nil {
		testContext.Fatalf("expected lecture-scoped key to be left alone: %v", err)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationRekeyMediaBlobs).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsIsIdempotent(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&blob.Record{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("reapplying migrations must succeed: %v", err)
	}

	var count int64
	if err := database.Model(&migrationRecord{}).Where("name = ?", migrationRekeyMediaBlobs).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count migration records: %v", err)
	}
	if count != 1 {
		testContext.Fatalf("expected one ledger entry per migration, got %d", count)
	}
}
