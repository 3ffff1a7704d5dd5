package blob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("blob: database handle is required")
	errMissingKey      = errors.New("blob: storage key is required")
)

// Record stores a single binary payload under an opaque storage key.
// Payload bytes live only here; the encrypted snapshot path never sees them.
type Record struct {
	StorageKey       string `gorm:"column:storage_key;primaryKey;size:190;not null"`
	ContentType      string `gorm:"column:content_type;size:255;not null;default:''"`
	SizeBytes        int64  `gorm:"column:size_bytes;not null"`
	Content          []byte `gorm:"column:content;type:blob;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "media_blobs"
}

// Object is the read-side view of a stored payload.
type Object struct {
	StorageKey  string
	ContentType string
	Content     []byte
}

// StoreConfig describes the dependencies for a blob Store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store persists binary media payloads in the local database, keyed by
// opaque storage keys. Overwriting an existing key replaces the payload.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore constructs a blob Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Put stores the payload under key, replacing any prior payload for the
// same key.
func (s *Store) Put(ctx context.Context, key string, content []byte, contentType string) error {
	if key == "" {
		return errMissingKey
	}

	record := Record{
		StorageKey:       key,
		ContentType:      contentType,
		SizeBytes:        int64(len(content)),
		Content:          content,
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "storage_key"}},
			UpdateAll: true,
		}).
		Create(&record).Error; err != nil {
		s.logger.Error("blob write failed", zap.String("storage_key", key), zap.Error(err))
		return fmt.Errorf("blob: put %q: %w", key, err)
	}
	return nil
}

// Get returns the stored payload, or nil when no payload exists for key.
// A missing key is not an error.
func (s *Store) Get(ctx context.Context, key string) (*Object, error) {
	if key == "" {
		return nil, errMissingKey
	}

	var record Record
	err := s.db.WithContext(ctx).
		Where("storage_key = ?", key).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("blob read failed", zap.String("storage_key", key), zap.Error(err))
		return nil, fmt.Errorf("blob: get %q: %w", key, err)
	}

	return &Object{
		StorageKey:  record.StorageKey,
		ContentType: record.ContentType,
		Content:     record.Content,
	}, nil
}

// Delete removes the payload stored under key. Deleting a missing key is
// a no-op.
func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return errMissingKey
	}

	if err := s.db.WithContext(ctx).
		Where("storage_key = ?", key).
		Delete(&Record{}).Error; err != nil {
		s.logger.Error("blob delete failed", zap.String("storage_key", key), zap.Error(err))
		return fmt.Errorf("blob: delete %q: %w", key, err)
	}
	return nil
}
