// Package dragdrop translates pointer-drag gestures over chapter and
// lecture elements into curriculum store mutations.
package dragdrop

import (
	"context"
	"sync"

	"github.com/lyceum-labs/curricula/backend/internal/curriculum"
)

// TreeStore is the slice of the curriculum store the engine drives.
// Moves observed mid-gesture are staged in memory; the whole gesture is
// promoted to persisted state once, when it ends.
type TreeStore interface {
	Snapshot() curriculum.Course
	StageChapters(chapters []curriculum.Chapter)
	StageLectures(chapterID string, lectures []curriculum.Lecture)
	CommitStaged(ctx context.Context) error
}

// gestureState tracks the engine's per-gesture machine.
type gestureState int

const (
	stateIdle gestureState = iota
	stateDragging
)

// ownerKind classifies what a draggable id refers to.
type ownerKind int

const (
	ownerNone ownerKind = iota
	ownerChapter
	ownerLecture
)

// owner locates a draggable id within the tree.
type owner struct {
	kind         ownerKind
	chapterIndex int
	lectureIndex int
}

// Engine is a synchronous gesture-to-mutation translator for one course.
// It performs no I/O of its own; malformed or inconsistent gesture events
// are dropped without mutating state.
type Engine struct {
	store TreeStore

	mu      sync.Mutex
	state   gestureState
	dragged string
	moved   bool
}

// NewEngine constructs an Engine over the given store.
func NewEngine(store TreeStore) *Engine {
	return &Engine{store: store}
}

// Begin starts a drag gesture for the given draggable id. Ids that match
// neither a chapter nor a lecture are ignored and the engine stays idle.
func (e *Engine) Begin(draggedID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if draggedID == "" {
		return
	}
	course := e.store.Snapshot()
	if resolveOwner(course, draggedID).kind == ownerNone {
		return
	}
	e.state = stateDragging
	e.dragged = draggedID
	e.moved = false
}

// Over handles the dragged element hovering another droppable target.
// Chapter drags reorder the top-level chapter sequence; a lecture hovering
// a different chapter is moved across immediately, so the visual tree
// reflects the move while dragging continues. Hovering within the same
// chapter is positional only and resolves at End.
func (e *Engine) Over(targetID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != stateDragging || targetID == "" || targetID == e.dragged {
		return
	}

	course := e.store.Snapshot()
	draggedOwner := resolveOwner(course, e.dragged)
	targetOwner := resolveOwner(course, targetID)
	if draggedOwner.kind == ownerNone || targetOwner.kind == ownerNone {
		return
	}

	switch draggedOwner.kind {
	case ownerChapter:
		// Chapters only ever reorder the top-level sequence; hovering a
		// lecture resolves to its owning chapter's position.
		if targetOwner.chapterIndex == draggedOwner.chapterIndex {
			return
		}
		e.store.StageChapters(moveChapter(course.Chapters, draggedOwner.chapterIndex, targetOwner.chapterIndex))
		e.moved = true
	case ownerLecture:
		if targetOwner.chapterIndex == draggedOwner.chapterIndex {
			return
		}
		e.store.StageChapters(moveLectureAcross(course.Chapters, draggedOwner, targetOwner))
		e.moved = true
	}
}

// End finishes the gesture. When no move was staged mid-gesture, a final
// position within the dragged item's own container becomes an index move;
// once hover events have already placed the item, that staged position
// stands. Either way the staged tree is promoted to persisted state and
// the engine returns to idle.
func (e *Engine) End(ctx context.Context, targetID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != stateDragging {
		return nil
	}
	e.state = stateIdle
	dragged := e.dragged
	moved := e.moved
	e.dragged = ""
	e.moved = false

	if !moved && targetID != "" && targetID != dragged {
		course := e.store.Snapshot()
		draggedOwner := resolveOwner(course, dragged)
		targetOwner := resolveOwner(course, targetID)
		if draggedOwner.kind != ownerNone && targetOwner.kind != ownerNone {
			switch {
			case draggedOwner.kind == ownerChapter && draggedOwner.chapterIndex != targetOwner.chapterIndex:
				e.store.StageChapters(moveChapter(course.Chapters, draggedOwner.chapterIndex, targetOwner.chapterIndex))
			case draggedOwner.kind == ownerLecture &&
				targetOwner.kind == ownerLecture &&
				draggedOwner.chapterIndex == targetOwner.chapterIndex &&
				draggedOwner.lectureIndex != targetOwner.lectureIndex:
				chapter := course.Chapters[draggedOwner.chapterIndex]
				e.store.StageLectures(chapter.ID, moveLecture(chapter.Lectures, draggedOwner.lectureIndex, targetOwner.lectureIndex))
			}
		}
	}

	return e.store.CommitStaged(ctx)
}

// resolveOwner locates a draggable id by linear search: chapter ids first,
// then each chapter's lecture sequence.
func resolveOwner(course curriculum.Course, id string) owner {
	for chapterIndex := range course.Chapters {
		if course.Chapters[chapterIndex].ID == id {
			return owner{kind: ownerChapter, chapterIndex: chapterIndex}
		}
	}
	for chapterIndex := range course.Chapters {
		for lectureIndex := range course.Chapters[chapterIndex].Lectures {
			if course.Chapters[chapterIndex].Lectures[lectureIndex].ID == id {
				return owner{kind: ownerLecture, chapterIndex: chapterIndex, lectureIndex: lectureIndex}
			}
		}
	}
	return owner{kind: ownerNone}
}

// moveChapter returns the chapter sequence with the element at from moved
// to index to, preserving all other relative order.
func moveChapter(chapters []curriculum.Chapter, from, to int) []curriculum.Chapter {
	reordered := curriculum.CloneChapters(chapters)
	moved := reordered[from]
	reordered = append(reordered[:from], reordered[from+1:]...)
	reordered = append(reordered[:to], append([]curriculum.Chapter{moved}, reordered[to:]...)...)
	return reordered
}

// moveLecture returns the lecture sequence with the element at from moved
// to index to.
func moveLecture(lectures []curriculum.Lecture, from, to int) []curriculum.Lecture {
	reordered := curriculum.CloneLectures(lectures)
	moved := reordered[from]
	reordered = append(reordered[:from], reordered[from+1:]...)
	reordered = append(reordered[:to], append([]curriculum.Lecture{moved}, reordered[to:]...)...)
	return reordered
}

// moveLectureAcross removes the dragged lecture from its source chapter's
// sequence and inserts it into the target chapter in the same mutation, so
// ownership transfers atomically. Hovering the chapter itself (rather than
// one of its lectures) appends at the end.
func moveLectureAcross(chapters []curriculum.Chapter, dragged, target owner) []curriculum.Chapter {
	reordered := curriculum.CloneChapters(chapters)

	source := &reordered[dragged.chapterIndex]
	moved := source.Lectures[dragged.lectureIndex]
	source.Lectures = append(source.Lectures[:dragged.lectureIndex], source.Lectures[dragged.lectureIndex+1:]...)

	destination := &reordered[target.chapterIndex]
	insertAt := len(destination.Lectures)
	if target.kind == ownerLecture {
		insertAt = target.lectureIndex
	}
	destination.Lectures = append(destination.Lectures[:insertAt],
		append([]curriculum.Lecture{moved}, destination.Lectures[insertAt:]...)...)
	return reordered
}
