package ics

import (
	"strings"

	ical "github.com/arran4/golang-ical"
)

// Watermark is the ID of the newest post already present in a calendar.
// The zero value means no post is present.
type Watermark struct {
	ID string
}

// Valid reports whether a watermark was found.
func (w Watermark) Valid() bool {
	return w.ID != ""
}

// Matches reports whether postID is the watermark itself. The comparison is
// on the extracted digit strings.
func (w Watermark) Matches(postID string) bool {
	return w.Valid() && postID == w.ID
}

// ResolveWatermark scans the calendar's events for post URLs and returns the
// numerically greatest trailing ID. Events without a URL, or whose URL does
// not end in digits, are ignored.
func ResolveWatermark(cal *ical.Calendar) Watermark {
	var best Watermark
	for _, ve := range cal.Events() {
		id, ok := PostID(eventURL(ve))
		if !ok {
			continue
		}
		if !best.Valid() || compareIDs(id, best.ID) > 0 {
			best.ID = id
		}
	}
	return best
}

// compareIDs orders two decimal digit strings numerically without parsing
// them, so IDs longer than 64 bits still compare correctly.
func compareIDs(a, b string) int {
	a = trimZeros(a)
	b = trimZeros(b)
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

func trimZeros(s string) string {
	t := strings.TrimLeft(s, "0")
	if t == "" && s != "" {
		return "0"
	}
	return t
}
