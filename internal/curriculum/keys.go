package curriculum

import "fmt"

const (
	mediaKeyPrefix = "media"
	snapshotNamespacePrefix = "course-store-"
)

// MediaStorageKey derives the blob-store key for a lecture's media slot.
// Keys are scoped to (lecture id, kind) rather than including the owning
// chapter, so a cross-chapter move never requires re-keying the blob, and
// re-attaching media to the same slot overwrites instead of orphaning the
// prior payload.
func MediaStorageKey(lectureID string, kind MediaKind) string {
	return fmt.Sprintf("%s-%s-%s", mediaKeyPrefix, lectureID, kind)
}

// SnapshotNamespace derives the vault namespace holding a course's
// encrypted structured snapshot.
func SnapshotNamespace(courseID CourseID) string {
	return snapshotNamespacePrefix + courseID.String()
}
