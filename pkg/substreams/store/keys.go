package store

import "strings"

// KeySeparator joins the segments of composite keys such as "pool:0xabc:volume".
const KeySeparator = ":"

func Key(segments ...string) string {
	return strings.Join(segments, KeySeparator)
}

// Segment returns the i-th segment of key. Negative indices count from the end.
func Segment(key string, i int) (string, bool) {
	segments := strings.Split(key, KeySeparator)
	if i < 0 {
		i += len(segments)
	}
	if i < 0 || i >= len(segments) {
		return "", false
	}
	return segments[i], true
}
