package curriculum

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// RegistryConfig describes the shared dependencies handed to every store
// the registry creates.
type RegistryConfig struct {
	Snapshots  SnapshotStore
	Blobs      MediaBlobStore
	IDProvider IDProvider
	Prober     DurationProber
	Logger     *zap.Logger
	OnChange   func(CourseID)
}

// Registry is the keyed collection of live per-course stores. Requesting a
// store for an already-active course id returns the same live instance, so
// every consumer sharing a course shares one source of truth. Stores are
// created on first access and retained until explicitly purged.
//
// The registry is an explicit handle owned by the composition root rather
// than package-global state, which keeps it injectable in tests.
type Registry struct {
	cfg RegistryConfig

	mu     sync.Mutex
	stores map[CourseID]*Store
}

// NewRegistry constructs a Registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Snapshots == nil {
		return nil, errMissingSnapshots
	}
	if cfg.Blobs == nil {
		return nil, errMissingBlobs
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	if cfg.Logger == nil {
		cfg.Logger = noOpLogger
	}
	return &Registry{cfg: cfg, stores: make(map[CourseID]*Store)}, nil
}

// Get returns the live store for courseID, creating it (and loading any
// persisted snapshot) on first access. A corrupted persisted snapshot
// surfaces as an error here.
func (r *Registry) Get(ctx context.Context, courseID CourseID) (*Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if store, ok := r.stores[courseID]; ok {
		return store, nil
	}

	store, err := NewStore(ctx, StoreConfig{
		CourseID:   courseID,
		Snapshots:  r.cfg.Snapshots,
		Blobs:      r.cfg.Blobs,
		IDProvider: r.cfg.IDProvider,
		Prober:     r.cfg.Prober,
		Logger:     r.cfg.Logger,
		OnChange:   r.cfg.OnChange,
	})
	if err != nil {
		return nil, err
	}
	r.stores[courseID] = store
	return store, nil
}

// Purge tears down a course completely: every blob reachable from its tree,
// its encrypted snapshot, and the live store itself. Used after a
// successful publish or when authoring is abandoned.
//
// A corrupted snapshot cannot be walked for blob keys; in that case the
// snapshot is still removed, since the caller is explicitly discarding the
// course.
func (r *Registry) Purge(ctx context.Context, courseID CourseID) error {
	r.mu.Lock()
	store, live := r.stores[courseID]
	r.mu.Unlock()

	var course Course
	if live {
		course = store.Snapshot()
	} else {
		loaded, err := NewStore(ctx, StoreConfig{
			CourseID:   courseID,
			Snapshots:  r.cfg.Snapshots,
			Blobs:      r.cfg.Blobs,
			IDProvider: r.cfg.IDProvider,
			Logger:     r.cfg.Logger,
		})
		if err != nil {
			r.cfg.Logger.Warn("purging course with unreadable snapshot",
				zap.String("course_id", courseID.String()), zap.Error(err))
			course = emptyCourse(courseID)
		} else {
			course = loaded.Snapshot()
		}
	}

	for _, key := range MediaKeys(course) {
		if err := r.cfg.Blobs.Delete(ctx, key); err != nil {
			return err
		}
	}
	if err := r.cfg.Snapshots.Remove(ctx, SnapshotNamespace(courseID)); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.stores, courseID)
	r.mu.Unlock()
	return nil
}
