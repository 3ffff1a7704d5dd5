package curriculum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var errStorageUnavailable = errors.New("storage unavailable")

type fakeSnapshotStore struct {
	mu         sync.Mutex
	entries    map[string][]byte
	failWrites bool
	writeCount int
}

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{entries: make(map[string][]byte)}
}

func (f *fakeSnapshotStore) Write(_ context.Context, namespace string, state any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errStorageUnavailable
	}
	encoded, err := json.Marshal(state)
	if err != nil {
		return err
	}
	f.entries[namespace] = encoded
	f.writeCount++
	return nil
}

func (f *fakeSnapshotStore) Read(_ context.Context, namespace string, out any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	encoded, ok := f.entries[namespace]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}

func (f *fakeSnapshotStore) Remove(_ context.Context, namespace string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, namespace)
	return nil
}

type fakeBlobStore struct {
	mu          sync.Mutex
	objects     map[string][]byte
	failPuts    bool
	failDeletes bool
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte)}
}

func (f *fakeBlobStore) Put(_ context.Context, key string, content []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPuts {
		return errStorageUnavailable
	}
	f.objects[key] = append([]byte(nil), content...)
	return nil
}

func (f *fakeBlobStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDeletes {
		return errStorageUnavailable
	}
	delete(f.objects, key)
	return nil
}

func (f *fakeBlobStore) stored(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.objects[key]
	return content, ok
}

type sequentialIDProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequentialIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("id-%d", p.next), nil
}

type fixedProber struct {
	duration time.Duration
	err      error
}

func (p *fixedProber) ProbeDuration(_ context.Context, _ []byte, _ string) (time.Duration, error) {
	return p.duration, p.err
}

func mustCourseID(t *testing.T, raw string) CourseID {
	t.Helper()
	courseID, err := NewCourseID(raw)
	if err != nil {
		t.Fatalf("unexpected course id error: %v", err)
	}
	return courseID
}

func newTestStore(t *testing.T) (*Store, *fakeSnapshotStore, *fakeBlobStore) {
	t.Helper()
	snapshots := newFakeSnapshotStore()
	blobs := newFakeBlobStore()
	store, err := NewStore(context.Background(), StoreConfig{
		CourseID:   mustCourseID(t, "course-1"),
		Snapshots:  snapshots,
		Blobs:      blobs,
		IDProvider: &sequentialIDProvider{},
		Prober:     &fixedProber{duration: 95 * time.Second},
	})
	if err != nil {
		t.Fatalf("unexpected store constructor error: %v", err)
	}
	return store, snapshots, blobs
}

func mustAddChapter(t *testing.T, store *Store) Chapter {
	t.Helper()
	chapter, err := store.AddChapter(context.Background())
	if err != nil {
		t.Fatalf("unexpected add chapter error: %v", err)
	}
	return chapter
}

func mustAddLecture(t *testing.T, store *Store, chapterID string) Lecture {
	t.Helper()
	lecture, err := store.AddLecture(context.Background(), chapterID)
	if err != nil {
		t.Fatalf("unexpected add lecture error: %v", err)
	}
	if lecture == nil {
		t.Fatalf("expected lecture for chapter %s", chapterID)
	}
	return *lecture
}

func lectureIDs(chapter Chapter) []string {
	ids := make([]string, 0, len(chapter.Lectures))
	for _, lecture := range chapter.Lectures {
		ids = append(ids, lecture.ID)
	}
	return ids
}
