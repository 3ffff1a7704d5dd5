package curriculum

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	errMissingSnapshots  = errors.New("snapshot store is required")
	errMissingBlobs      = errors.New("blob store is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opStoreNew      = "curriculum.store.new"
	opAddChapter    = "curriculum.add_chapter"
	opUpdateChapter = "curriculum.update_chapter"
	opDeleteChapter = "curriculum.delete_chapter"
	opAddLecture    = "curriculum.add_lecture"
	opUpdateLecture = "curriculum.update_lecture"
	opDeleteLecture = "curriculum.delete_lecture"
	opAttachMedia   = "curriculum.attach_media"
	opDetachMedia   = "curriculum.detach_media"
	opSetChapters   = "curriculum.set_chapters"
	opSetLectures   = "curriculum.set_lectures"
	opCommitStaged  = "curriculum.commit_staged"
	opUpdateCourse  = "curriculum.update_course"
	opReset         = "curriculum.reset"

	reasonLoadFailed         = "load_failed"
	reasonPersistFailed      = "persist_failed"
	reasonIDGenerationFailed = "id_generation_failed"
	reasonBlobWriteFailed    = "blob_write_failed"
	reasonBlobDeleteFailed   = "blob_delete_failed"
	reasonInvalidField       = "invalid_field"
	reasonInvalidValue       = "invalid_value"

	defaultChapterTitle = "New Chapter"
	defaultLectureTitle = "New Lecture"
)

// ServiceError carries a machine-readable <operation>.<reason> code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the <operation>.<reason> code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// SnapshotStore persists the structured (binary-free) course snapshot.
// *vault.Store satisfies it.
type SnapshotStore interface {
	Write(ctx context.Context, namespace string, state any) error
	Read(ctx context.Context, namespace string, out any) (bool, error)
	Remove(ctx context.Context, namespace string) error
}

// MediaBlobStore holds media payload bytes. *blob.Store satisfies it.
type MediaBlobStore interface {
	Put(ctx context.Context, key string, content []byte, contentType string) error
	Delete(ctx context.Context, key string) error
}

// DurationProber reads the playback length of a video payload.
type DurationProber interface {
	ProbeDuration(ctx context.Context, content []byte, contentType string) (time.Duration, error)
}

// MediaUpload carries an incoming media payload and its file metadata.
type MediaUpload struct {
	Name         string
	ContentType  string
	Content      []byte
	LastModified time.Time
}

// StoreConfig describes the dependencies for a per-course Store.
type StoreConfig struct {
	CourseID   CourseID
	Snapshots  SnapshotStore
	Blobs      MediaBlobStore
	IDProvider IDProvider
	Prober     DurationProber
	Logger     *zap.Logger
	OnChange   func(CourseID)
}

// Store owns one course's chapter/lecture tree in memory and keeps it
// consistent with the encrypted snapshot store and the blob store. All
// mutations are serialized by an internal mutex, so concurrent callers
// sharing the instance never interleave partial writes.
//
// Every committed mutation writes the full structured snapshot through the
// snapshot store before the in-memory tree is updated; when the write fails
// the tree is left unchanged so memory and persistence cannot diverge.
// Staged mutations (used mid-drag by the reordering engine) update only the
// in-memory view and are promoted to persisted state by CommitStaged.
type Store struct {
	courseID  CourseID
	snapshots SnapshotStore
	blobs     MediaBlobStore
	ids       IDProvider
	prober    DurationProber
	logger    *zap.Logger
	onChange  func(CourseID)

	mu        sync.Mutex
	committed Course
	staged    *Course
}

// NewStore constructs a Store, loading any previously persisted snapshot.
// A corrupted snapshot surfaces as an error rather than an empty tree.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if _, err := NewCourseID(cfg.CourseID.String()); err != nil {
		return nil, newServiceError(opStoreNew, "invalid_course_id", err)
	}
	if cfg.Snapshots == nil {
		return nil, newServiceError(opStoreNew, "missing_snapshot_store", errMissingSnapshots)
	}
	if cfg.Blobs == nil {
		return nil, newServiceError(opStoreNew, "missing_blob_store", errMissingBlobs)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	store := &Store{
		courseID:  cfg.CourseID,
		snapshots: cfg.Snapshots,
		blobs:     cfg.Blobs,
		ids:       cfg.IDProvider,
		prober:    cfg.Prober,
		logger:    logger,
		onChange:  cfg.OnChange,
	}

	var persisted Course
	found, err := cfg.Snapshots.Read(ctx, SnapshotNamespace(cfg.CourseID), &persisted)
	if err != nil {
		store.logError(opStoreNew, reasonLoadFailed, err)
		return nil, newServiceError(opStoreNew, reasonLoadFailed, err)
	}
	if found {
		store.committed = persisted
	} else {
		store.committed = emptyCourse(cfg.CourseID)
	}
	if store.committed.Chapters == nil {
		store.committed.Chapters = []Chapter{}
	}

	return store, nil
}

func emptyCourse(courseID CourseID) Course {
	return Course{ID: courseID.String(), Chapters: []Chapter{}}
}

// CourseID returns the course this store owns.
func (s *Store) CourseID() CourseID {
	return s.courseID
}

// Snapshot returns a deep copy of the current tree. During a drag gesture
// this is the staged tree, so views reflect moves while dragging continues.
func (s *Store) Snapshot() Course {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current().Clone()
}

func (s *Store) current() *Course {
	if s.staged != nil {
		return s.staged
	}
	return &s.committed
}

// commit persists the working tree and, only on success, makes it the
// committed in-memory state. Any staged tree is superseded.
func (s *Store) commit(ctx context.Context, operation string, working Course) error {
	if err := s.snapshots.Write(ctx, SnapshotNamespace(s.courseID), working); err != nil {
		s.logError(operation, reasonPersistFailed, err)
		return newServiceError(operation, reasonPersistFailed, err)
	}
	s.committed = working
	s.staged = nil
	s.notify()
	return nil
}

func (s *Store) notify() {
	if s.onChange != nil {
		s.onChange(s.courseID)
	}
}

// AddChapter appends a new chapter with a fresh id, default title, and an
// empty lecture sequence.
func (s *Store) AddChapter(ctx context.Context) (Chapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chapterID, err := s.ids.NewID()
	if err != nil {
		s.logError(opAddChapter, reasonIDGenerationFailed, err)
		return Chapter{}, newServiceError(opAddChapter, reasonIDGenerationFailed, err)
	}

	working := s.current().Clone()
	chapter := Chapter{ID: chapterID, Title: defaultChapterTitle, Lectures: []Lecture{}}
	working.Chapters = append(working.Chapters, chapter)

	if err := s.commit(ctx, opAddChapter, working); err != nil {
		return Chapter{}, err
	}
	return chapter, nil
}

// UpdateChapter updates one scalar field in place. An unknown chapter id is
// a no-op.
func (s *Store) UpdateChapter(ctx context.Context, chapterID string, field ChapterField, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.current().Clone()
	chapter := findChapter(&working, chapterID)
	if chapter == nil {
		return nil
	}

	switch field {
	case ChapterFieldTitle:
		chapter.Title = value
	default:
		return newServiceError(opUpdateChapter, reasonInvalidField, fmt.Errorf("%w: %q", ErrUnknownField, field))
	}

	return s.commit(ctx, opUpdateChapter, working)
}

// DeleteChapter removes the chapter and cascades deletion to every lecture
// it owned, releasing their blob entries first so the two stores cannot
// diverge. An unknown chapter id is a no-op.
func (s *Store) DeleteChapter(ctx context.Context, chapterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.current().Clone()
	index := chapterIndex(&working, chapterID)
	if index < 0 {
		return nil
	}

	for _, lecture := range working.Chapters[index].Lectures {
		if err := s.releaseLectureBlobs(ctx, opDeleteChapter, lecture.ID); err != nil {
			return err
		}
	}

	working.Chapters = append(working.Chapters[:index], working.Chapters[index+1:]...)
	return s.commit(ctx, opDeleteChapter, working)
}

// AddLecture appends a new lecture with a fresh id to the named chapter.
// An unknown chapter id is a no-op and returns nil.
func (s *Store) AddLecture(ctx context.Context, chapterID string) (*Lecture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.current().Clone()
	chapter := findChapter(&working, chapterID)
	if chapter == nil {
		return nil, nil
	}

	lectureID, err := s.ids.NewID()
	if err != nil {
		s.logError(opAddLecture, reasonIDGenerationFailed, err)
		return nil, newServiceError(opAddLecture, reasonIDGenerationFailed, err)
	}

	lecture := Lecture{ID: lectureID, Title: defaultLectureTitle}
	chapter.Lectures = append(chapter.Lectures, lecture)

	if err := s.commit(ctx, opAddLecture, working); err != nil {
		return nil, err
	}
	return &lecture, nil
}

// UpdateLecture updates one scalar field in place. Unknown chapter or
// lecture ids are a no-op.
func (s *Store) UpdateLecture(ctx context.Context, chapterID, lectureID string, field LectureField, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.current().Clone()
	lecture := findLecture(&working, chapterID, lectureID)
	if lecture == nil {
		return nil
	}

	switch field {
	case LectureFieldTitle:
		lecture.Title = value
	case LectureFieldDescription:
		lecture.Description = value
	default:
		return newServiceError(opUpdateLecture, reasonInvalidField, fmt.Errorf("%w: %q", ErrUnknownField, field))
	}

	return s.commit(ctx, opUpdateLecture, working)
}

// DeleteLecture removes the lecture from its chapter's sequence and releases
// its blob entries. Unknown ids are a no-op.
func (s *Store) DeleteLecture(ctx context.Context, chapterID, lectureID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.current().Clone()
	chapter := findChapter(&working, chapterID)
	if chapter == nil {
		return nil
	}
	index := lectureIndex(chapter, lectureID)
	if index < 0 {
		return nil
	}

	if err := s.releaseLectureBlobs(ctx, opDeleteLecture, lectureID); err != nil {
		return err
	}

	chapter.Lectures = append(chapter.Lectures[:index], chapter.Lectures[index+1:]...)
	return s.commit(ctx, opDeleteLecture, working)
}

// AttachMedia stores the payload in the blob store under the lecture's
// deterministic key and then commits the metadata. The blob write happens
// first so a persistence failure can never leave the tree referencing a
// missing blob. Attaching over an existing payload overwrites it in place.
// Unknown ids are a no-op and return nil.
func (s *Store) AttachMedia(ctx context.Context, chapterID, lectureID string, kind MediaKind, upload MediaUpload) (*MediaRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.current().Clone()
	lecture := findLecture(&working, chapterID, lectureID)
	if lecture == nil {
		return nil, nil
	}

	key := MediaStorageKey(lectureID, kind)
	if err := s.blobs.Put(ctx, key, upload.Content, upload.ContentType); err != nil {
		s.logError(opAttachMedia, reasonBlobWriteFailed, err,
			zap.String("storage_key", key))
		return nil, newServiceError(opAttachMedia, reasonBlobWriteFailed, err)
	}

	ref := MediaRef{
		Name:                upload.Name,
		ContentType:         upload.ContentType,
		SizeBytes:           int64(len(upload.Content)),
		LastModifiedSeconds: upload.LastModified.UTC().Unix(),
		StorageKey:          key,
	}

	switch kind {
	case MediaKindVideo:
		lecture.Video = &ref
		lecture.Duration = s.probeDuration(ctx, upload)
	case MediaKindAttachment:
		lecture.Attachment = &ref
	}

	if err := s.commit(ctx, opAttachMedia, working); err != nil {
		return nil, err
	}
	result := ref
	return &result, nil
}

// probeDuration reads the playback length of a video upload. A probe
// failure leaves the duration unset; it never blocks the attach.
func (s *Store) probeDuration(ctx context.Context, upload MediaUpload) string {
	if s.prober == nil {
		return ""
	}
	duration, err := s.prober.ProbeDuration(ctx, upload.Content, upload.ContentType)
	if err != nil {
		s.logger.Warn("video duration probe failed",
			zap.String("course_id", s.courseID.String()),
			zap.String("file_name", upload.Name),
			zap.Error(err))
		return ""
	}
	return formatDuration(duration)
}

// DetachMedia releases the blob entry for the lecture's media slot and then
// clears the metadata. Unknown ids or an empty slot are a no-op.
func (s *Store) DetachMedia(ctx context.Context, chapterID, lectureID string, kind MediaKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.current().Clone()
	lecture := findLecture(&working, chapterID, lectureID)
	if lecture == nil || lecture.Media(kind) == nil {
		return nil
	}

	key := MediaStorageKey(lectureID, kind)
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.logError(opDetachMedia, reasonBlobDeleteFailed, err,
			zap.String("storage_key", key))
		return newServiceError(opDetachMedia, reasonBlobDeleteFailed, err)
	}

	switch kind {
	case MediaKindVideo:
		lecture.Video = nil
		lecture.Duration = ""
	case MediaKindAttachment:
		lecture.Attachment = nil
	}

	return s.commit(ctx, opDetachMedia, working)
}

// SetChapters fully replaces the chapter sequence and persists it. Used by
// the explicit reorder surface; the drag engine uses StageChapters instead.
func (s *Store) SetChapters(ctx context.Context, chapters []Chapter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.current().Clone()
	working.Chapters = CloneChapters(chapters)
	return s.commit(ctx, opSetChapters, working)
}

// SetLectures fully replaces one chapter's lecture sequence and persists it.
// An unknown chapter id is a no-op.
func (s *Store) SetLectures(ctx context.Context, chapterID string, lectures []Lecture) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.current().Clone()
	chapter := findChapter(&working, chapterID)
	if chapter == nil {
		return nil
	}
	chapter.Lectures = CloneLectures(lectures)
	return s.commit(ctx, opSetLectures, working)
}

// StageChapters replaces the chapter sequence in memory only. Staged state
// is what Snapshot returns until CommitStaged promotes it to persisted
// state; persisting on every drag-over would encrypt and write the full
// snapshot once per hovered position.
func (s *Store) StageChapters(chapters []Chapter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.current().Clone()
	working.Chapters = CloneChapters(chapters)
	s.staged = &working
	s.notify()
}

// StageLectures replaces one chapter's lecture sequence in memory only.
// An unknown chapter id is a no-op.
func (s *Store) StageLectures(chapterID string, lectures []Lecture) {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.current().Clone()
	chapter := findChapter(&working, chapterID)
	if chapter == nil {
		return
	}
	chapter.Lectures = CloneLectures(lectures)
	s.staged = &working
	s.notify()
}

// CommitStaged persists the staged tree, promoting it to committed state.
// Without a staged tree it is a no-op.
func (s *Store) CommitStaged(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staged == nil {
		return nil
	}
	return s.commit(ctx, opCommitStaged, *s.staged)
}

// UpdateCourse updates one scalar course field in place.
func (s *Store) UpdateCourse(ctx context.Context, field CourseField, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.current().Clone()
	switch field {
	case CourseFieldName:
		working.Name = value
	case CourseFieldDescription:
		working.Description = value
	case CourseFieldSemester:
		working.Semester = value
	case CourseFieldCreditHours:
		hours, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return newServiceError(opUpdateCourse, reasonInvalidValue, err)
		}
		working.CreditHours = hours
	case CourseFieldInstructorIDs:
		working.InstructorIDs = splitInstructorIDs(value)
	default:
		return newServiceError(opUpdateCourse, reasonInvalidField, fmt.Errorf("%w: %q", ErrUnknownField, field))
	}

	return s.commit(ctx, opUpdateCourse, working)
}

// Reset restores the store to its empty initial state and persists it.
// Used after a successful publish.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(ctx, opReset, emptyCourse(s.courseID))
}

// releaseLectureBlobs deletes both media slots' blob entries for a lecture.
// Deletes are idempotent, so slots that never held media are harmless.
func (s *Store) releaseLectureBlobs(ctx context.Context, operation, lectureID string) error {
	for _, kind := range []MediaKind{MediaKindVideo, MediaKindAttachment} {
		key := MediaStorageKey(lectureID, kind)
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.logError(operation, reasonBlobDeleteFailed, err,
				zap.String("storage_key", key))
			return newServiceError(operation, reasonBlobDeleteFailed, err)
		}
	}
	return nil
}

// MediaKeys walks a course tree and returns every referenced storage key.
func MediaKeys(course Course) []string {
	keys := make([]string, 0)
	for _, chapter := range course.Chapters {
		for _, lecture := range chapter.Lectures {
			if lecture.Video != nil {
				keys = append(keys, lecture.Video.StorageKey)
			}
			if lecture.Attachment != nil {
				keys = append(keys, lecture.Attachment.StorageKey)
			}
		}
	}
	return keys
}

func findChapter(course *Course, chapterID string) *Chapter {
	index := chapterIndex(course, chapterID)
	if index < 0 {
		return nil
	}
	return &course.Chapters[index]
}

func chapterIndex(course *Course, chapterID string) int {
	for i := range course.Chapters {
		if course.Chapters[i].ID == chapterID {
			return i
		}
	}
	return -1
}

func findLecture(course *Course, chapterID, lectureID string) *Lecture {
	chapter := findChapter(course, chapterID)
	if chapter == nil {
		return nil
	}
	index := lectureIndex(chapter, lectureID)
	if index < 0 {
		return nil
	}
	return &chapter.Lectures[index]
}

func lectureIndex(chapter *Chapter, lectureID string) int {
	for i := range chapter.Lectures {
		if chapter.Lectures[i].ID == lectureID {
			return i
		}
	}
	return -1
}

func formatDuration(duration time.Duration) string {
	if duration <= 0 {
		return ""
	}
	total := int(duration.Round(time.Second).Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

func splitInstructorIDs(value string) []string {
	parts := strings.Split(value, ",")
	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	return ids
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("course_id", s.courseID.String()),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("curriculum store error", attrs...)
}
