package curriculum

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidCourseID indicates that a course identifier is empty or exceeds storage bounds.
	ErrInvalidCourseID = errors.New("curriculum: invalid course id")
	// ErrInvalidMediaKind indicates an unknown media slot name.
	ErrInvalidMediaKind = errors.New("curriculum: invalid media kind")
)

// CourseID represents a validated course identifier.
type CourseID string

// NewCourseID validates raw input and returns a CourseID.
func NewCourseID(rawInput string) (CourseID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidCourseID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidCourseID, maxIdentifierLength)
	}
	return CourseID(trimmed), nil
}

// String returns the underlying string identifier.
func (id CourseID) String() string {
	return string(id)
}

// MediaKind names a lecture's media slot.
type MediaKind string

const (
	// MediaKindVideo is the lecture video slot.
	MediaKindVideo MediaKind = "video"
	// MediaKindAttachment is the lecture attachment slot.
	MediaKindAttachment MediaKind = "attachment"
)

// ParseMediaKind validates a raw media slot name.
func ParseMediaKind(rawInput string) (MediaKind, error) {
	switch strings.ToLower(strings.TrimSpace(rawInput)) {
	case string(MediaKindVideo):
		return MediaKindVideo, nil
	case string(MediaKindAttachment):
		return MediaKindAttachment, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMediaKind, rawInput)
	}
}

// MediaRef is the structured metadata for an attached media payload. The
// payload bytes live only in the blob store under StorageKey; this record is
// all that travels through the encrypted snapshot.
type MediaRef struct {
	Name                string `json:"name"`
	ContentType         string `json:"content_type"`
	SizeBytes           int64  `json:"size_bytes"`
	LastModifiedSeconds int64  `json:"last_modified_s"`
	StorageKey          string `json:"storage_key"`
}

// Lecture is a leaf content unit owned by exactly one chapter at a time.
type Lecture struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Video       *MediaRef `json:"video,omitempty"`
	Attachment  *MediaRef `json:"attachment,omitempty"`
	// Duration is the probed video playback length, formatted HH:MM:SS.
	// Empty when no video is attached or the probe failed.
	Duration string `json:"duration,omitempty"`
}

// Chapter is an ordered container of lectures. Slice position is the
// significant order; chapters never nest.
type Chapter struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Lectures []Lecture `json:"lectures"`
}

// Course is the root of one curriculum tree.
type Course struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Semester      string    `json:"semester"`
	CreditHours   int       `json:"credit_hours"`
	InstructorIDs []string  `json:"instructor_ids"`
	Chapters      []Chapter `json:"chapters"`
}

// Clone returns a deep copy of the course tree.
func (c Course) Clone() Course {
	cloned := c
	cloned.InstructorIDs = append([]string(nil), c.InstructorIDs...)
	cloned.Chapters = CloneChapters(c.Chapters)
	return cloned
}

// CloneChapters returns a deep copy of a chapter sequence.
func CloneChapters(chapters []Chapter) []Chapter {
	cloned := make([]Chapter, len(chapters))
	for i, chapter := range chapters {
		cloned[i] = chapter
		cloned[i].Lectures = CloneLectures(chapter.Lectures)
	}
	return cloned
}

// CloneLectures returns a deep copy of a lecture sequence.
func CloneLectures(lectures []Lecture) []Lecture {
	cloned := make([]Lecture, len(lectures))
	for i, lecture := range lectures {
		cloned[i] = lecture
		if lecture.Video != nil {
			video := *lecture.Video
			cloned[i].Video = &video
		}
		if lecture.Attachment != nil {
			attachment := *lecture.Attachment
			cloned[i].Attachment = &attachment
		}
	}
	return cloned
}

// Media returns the lecture's metadata for the named slot, or nil.
func (l Lecture) Media(kind MediaKind) *MediaRef {
	switch kind {
	case MediaKindVideo:
		return l.Video
	case MediaKindAttachment:
		return l.Attachment
	default:
		return nil
	}
}
