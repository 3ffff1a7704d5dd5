package vault

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase  = errors.New("vault: database handle is required")
	errMissingKey       = errors.New("vault: encryption key is required")
	errMissingNamespace = errors.New("vault: namespace is required")

	// ErrCorruptedState indicates ciphertext that could not be decrypted or
	// decoded. Callers must surface this instead of falling back to an empty
	// state, since a silent fallback would look like data loss.
	ErrCorruptedState = errors.New("vault: stored state is corrupted or the key is wrong")
)

// Entry stores one encrypted state snapshot per namespace.
type Entry struct {
	Namespace        string `gorm:"column:namespace;primaryKey;size:190;not null"`
	Ciphertext       []byte `gorm:"column:ciphertext;type:blob;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "vault_entries"
}

// StoreConfig describes the dependencies for an encrypted Store.
type StoreConfig struct {
	Database *gorm.DB
	Key      []byte
	Clock    func() time.Time
	Logger   *zap.Logger
	Rand     io.Reader
}

// Store is a generic persistence adapter: it serializes a state value to
// JSON, seals it with XChaCha20-Poly1305, and keeps the ciphertext in the
// local database under a namespace. It never holds binary media payloads,
// only structured metadata.
type Store struct {
	db     *gorm.DB
	aead   cipher.AEAD
	clock  func() time.Time
	logger *zap.Logger
	rand   io.Reader
}

// NewStore constructs an encrypted Store. Key must be a 32-byte symmetric key.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if len(cfg.Key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", errMissingKey, chacha20poly1305.KeySize, len(cfg.Key))
	}
	aead, err := chacha20poly1305.NewX(cfg.Key)
	if err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	randSource := cfg.Rand
	if randSource == nil {
		randSource = rand.Reader
	}
	return &Store{db: cfg.Database, aead: aead, clock: clock, logger: logger, rand: randSource}, nil
}

// Write serializes state, encrypts it, and stores the ciphertext under
// namespace, replacing any previous snapshot.
func (s *Store) Write(ctx context.Context, namespace string, state any) error {
	if namespace == "" {
		return errMissingNamespace
	}

	plaintext, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("vault: serialize %q: %w", namespace, err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return fmt.Errorf("vault: nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, []byte(namespace))

	entry := Entry{
		Namespace:        namespace,
		Ciphertext:       sealed,
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "namespace"}},
			UpdateAll: true,
		}).
		Create(&entry).Error; err != nil {
		s.logger.Error("vault write failed", zap.String("namespace", namespace), zap.Error(err))
		return fmt.Errorf("vault: write %q: %w", namespace, err)
	}
	return nil
}

// Read decrypts and decodes the snapshot stored under namespace into out.
// It reports false when no snapshot exists. Decryption or decode failures
// return an error wrapping ErrCorruptedState.
func (s *Store) Read(ctx context.Context, namespace string, out any) (bool, error) {
	if namespace == "" {
		return false, errMissingNamespace
	}

	var entry Entry
	err := s.db.WithContext(ctx).
		Where("namespace = ?", namespace).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		s.logger.Error("vault read failed", zap.String("namespace", namespace), zap.Error(err))
		return false, fmt.Errorf("vault: read %q: %w", namespace, err)
	}

	if len(entry.Ciphertext) < chacha20poly1305.NonceSizeX {
		return false, fmt.Errorf("%w: namespace %q", ErrCorruptedState, namespace)
	}
	nonce := entry.Ciphertext[:chacha20poly1305.NonceSizeX]
	sealed := entry.Ciphertext[chacha20poly1305.NonceSizeX:]
	plaintext, err := s.aead.Open(nil, nonce, sealed, []byte(namespace))
	if err != nil {
		s.logger.Error("vault decrypt failed", zap.String("namespace", namespace), zap.Error(err))
		return false, fmt.Errorf("%w: namespace %q", ErrCorruptedState, namespace)
	}

	if err := json.Unmarshal(plaintext, out); err != nil {
		s.logger.Error("vault decode failed", zap.String("namespace", namespace), zap.Error(err))
		return false, fmt.Errorf("%w: namespace %q: %v", ErrCorruptedState, namespace, err)
	}
	return true, nil
}

// Remove deletes the snapshot stored under namespace. Removing a missing
// namespace is a no-op.
func (s *Store) Remove(ctx context.Context, namespace string) error {
	if namespace == "" {
		return errMissingNamespace
	}

	if err := s.db.WithContext(ctx).
		Where("namespace = ?", namespace).
		Delete(&Entry{}).Error; err != nil {
		s.logger.Error("vault remove failed", zap.String("namespace", namespace), zap.Error(err))
		return fmt.Errorf("vault: remove %q: %w", namespace, err)
	}
	return nil
}
