package curriculum

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownField indicates an update named a field the target does not have.
var ErrUnknownField = errors.New("curriculum: unknown field")

// ChapterField names an updatable scalar field of a chapter.
type ChapterField string

// ChapterFieldTitle is the chapter title field.
const ChapterFieldTitle ChapterField = "title"

// ParseChapterField validates a raw chapter field name.
func ParseChapterField(rawInput string) (ChapterField, error) {
	switch strings.ToLower(strings.TrimSpace(rawInput)) {
	case string(ChapterFieldTitle):
		return ChapterFieldTitle, nil
	default:
		return "", fmt.Errorf("%w: chapter %q", ErrUnknownField, rawInput)
	}
}

// LectureField names an updatable scalar field of a lecture. Media slots are
// not lecture fields; they go through AttachMedia and DetachMedia.
type LectureField string

const (
	// LectureFieldTitle is the lecture title field.
	LectureFieldTitle LectureField = "title"
	// LectureFieldDescription is the lecture description field.
	LectureFieldDescription LectureField = "description"
)

// ParseLectureField validates a raw lecture field name.
func ParseLectureField(rawInput string) (LectureField, error) {
	switch strings.ToLower(strings.TrimSpace(rawInput)) {
	case string(LectureFieldTitle):
		return LectureFieldTitle, nil
	case string(LectureFieldDescription):
		return LectureFieldDescription, nil
	default:
		return "", fmt.Errorf("%w: lecture %q", ErrUnknownField, rawInput)
	}
}

// CourseField names an updatable scalar field of the course itself.
type CourseField string

const (
	// CourseFieldName is the course display name.
	CourseFieldName CourseField = "name"
	// CourseFieldDescription is the course description.
	CourseFieldDescription CourseField = "description"
	// CourseFieldSemester is the semester label.
	CourseFieldSemester CourseField = "semester"
	// CourseFieldCreditHours is the credit hour count; values parse as integers.
	CourseFieldCreditHours CourseField = "credit_hours"
	// CourseFieldInstructorIDs is the comma-separated instructor id list.
	CourseFieldInstructorIDs CourseField = "instructor_ids"
)

// ParseCourseField validates a raw course field name.
func ParseCourseField(rawInput string) (CourseField, error) {
	switch strings.ToLower(strings.TrimSpace(rawInput)) {
	case string(CourseFieldName):
		return CourseFieldName, nil
	case string(CourseFieldDescription):
		return CourseFieldDescription, nil
	case string(CourseFieldSemester):
		return CourseFieldSemester, nil
	case string(CourseFieldCreditHours):
		return CourseFieldCreditHours, nil
	case string(CourseFieldInstructorIDs):
		return CourseFieldInstructorIDs, nil
	default:
		return "", fmt.Errorf("%w: course %q", ErrUnknownField, rawInput)
	}
}
