package curriculum

import (
	"context"
	"testing"
)

func newTestRegistry(t *testing.T) (*Registry, *fakeSnapshotStore, *fakeBlobStore) {
	t.Helper()
	snapshots := newFakeSnapshotStore()
	blobs := newFakeBlobStore()
	registry, err := NewRegistry(RegistryConfig{
		Snapshots:  snapshots,
		Blobs:      blobs,
		IDProvider: &sequentialIDProvider{},
	})
	if err != nil {
		t.Fatalf("unexpected registry constructor error: %v", err)
	}
	return registry, snapshots, blobs
}

func TestRegistryReturnsSameLiveInstance(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	courseID := mustCourseID(t, "course-1")

	first, err := registry.Get(context.Background(), courseID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	second, err := registry.Get(context.Background(), courseID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same live store instance for one course id")
	}

	other, err := registry.Get(context.Background(), mustCourseID(t, "course-2"))
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if other == first {
		t.Fatalf("expected distinct stores per course id")
	}
}

func TestRegistrySharesMutationsAcrossConsumers(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	courseID := mustCourseID(t, "course-1")

	writer, err := registry.Get(context.Background(), courseID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	mustAddChapter(t, writer)

	reader, err := registry.Get(context.Background(), courseID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if len(reader.Snapshot().Chapters) != 1 {
		t.Fatalf("consumers of one course id must share one source of truth")
	}
}

func TestRegistryPurgeRemovesSnapshotBlobsAndStore(t *testing.T) {
	registry, snapshots, blobs := newTestRegistry(t)
	courseID := mustCourseID(t, "course-1")

	store, err := registry.Get(context.Background(), courseID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	chapter := mustAddChapter(t, store)
	lecture := mustAddLecture(t, store, chapter.ID)
	if _, err := store.AttachMedia(context.Background(), chapter.ID, lecture.ID, MediaKindVideo, MediaUpload{
		Name:    "intro.mp4",
		Content: []byte("payload"),
	}); err != nil {
		t.Fatalf("unexpected attach error: %v", err)
	}

	if err := registry.Purge(context.Background(), courseID); err != nil {
		t.Fatalf("unexpected purge error: %v", err)
	}

	if _, ok := blobs.stored(MediaStorageKey(lecture.ID, MediaKindVideo)); ok {
		t.Fatalf("purge must release blob entries")
	}
	var out Course
	found, err := snapshots.Read(context.Background(), SnapshotNamespace(courseID), &out)
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if found {
		t.Fatalf("purge must remove the encrypted snapshot")
	}

	replacement, err := registry.Get(context.Background(), courseID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if replacement == store {
		t.Fatalf("purged store must not stay live in the registry")
	}
	if len(replacement.Snapshot().Chapters) != 0 {
		t.Fatalf("store after purge must start empty")
	}
}

func TestRegistryPurgeWithoutLiveStoreWalksPersistedTree(t *testing.T) {
	registry, snapshots, blobs := newTestRegistry(t)
	courseID := mustCourseID(t, "course-1")

	store, err := registry.Get(context.Background(), courseID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	chapter := mustAddChapter(t, store)
	lecture := mustAddLecture(t, store, chapter.ID)
	if _, err := store.AttachMedia(context.Background(), chapter.ID, lecture.ID, MediaKindAttachment, MediaUpload{
		Name:    "notes.pdf",
		Content: []byte("pdf-bytes"),
	}); err != nil {
		t.Fatalf("unexpected attach error: %v", err)
	}

	// A fresh registry sharing the same persistence has no live store.
	fresh, err := NewRegistry(RegistryConfig{
		Snapshots:  snapshots,
		Blobs:      blobs,
		IDProvider: &sequentialIDProvider{},
	})
	if err != nil {
		t.Fatalf("unexpected registry constructor error: %v", err)
	}
	if err := fresh.Purge(context.Background(), courseID); err != nil {
		t.Fatalf("unexpected purge error: %v", err)
	}

	if _, ok := blobs.stored(MediaStorageKey(lecture.ID, MediaKindAttachment)); ok {
		t.Fatalf("purge must resolve blob keys from the persisted tree")
	}
}
