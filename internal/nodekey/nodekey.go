// Package nodekey builds deterministic identifiers for curriculum nodes.
//
// A key is the subject id followed by each ancestor path segment, joined with
// a control character that does not occur in ordinary topic names. The root
// node of a subject is keyed by the bare subject id.
package nodekey

import "strings"

const (
	// Delimiter separates the subject id and path segments.
	Delimiter = "\x01"

	// substitute replaces any Delimiter found inside a segment.
	substitute = "_"
)

// Build returns the node key for subjectID and path.
func Build(subjectID string, path []string) string {
	if len(path) == 0 {
		return subjectID
	}

	parts := make([]string, 0, len(path)+1)
	parts = append(parts, subjectID)
	for _, seg := range path {
		parts = append(parts, cleanSegment(seg))
	}
	return strings.Join(parts, Delimiter)
}

// Split reverses Build for keys whose segments contained no Delimiter.
func Split(key string) (subjectID string, path []string) {
	parts := strings.Split(key, Delimiter)
	if len(parts) == 1 {
		return parts[0], nil
	}
	return parts[0], parts[1:]
}

// Readable renders a key for logs, replacing the delimiter with " > ".
func Readable(key string) string {
	return strings.ReplaceAll(key, Delimiter, " > ")
}

func cleanSegment(seg string) string {
	return strings.ReplaceAll(strings.TrimSpace(seg), Delimiter, substitute)
}
