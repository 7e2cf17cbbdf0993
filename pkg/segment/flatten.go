package segment

import "strings"

// Segment IDs may contain "/"; on disk every id is flattened into a
// single path component.
const flatSeparator = "__"

func Flatten(segmentID string) string {
	return strings.ReplaceAll(segmentID, "/", flatSeparator)
}

func Unflatten(flat string) string {
	return strings.ReplaceAll(flat, flatSeparator, "/")
}
