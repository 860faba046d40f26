package ics

import (
	"bytes"
	"regexp"
	"strings"

	ical "github.com/arran4/golang-ical"
)

const productID = "-//toot2cal//Mastodon posts//EN"

// postIDPattern matches the trailing numeric path segment of a post URL,
// e.g. https://mastodon.social/@alice/109876543210.
var postIDPattern = regexp.MustCompile(`/([0-9]+)$`)

// NewCalendar returns an empty calendar with the headers written for
// calendars this tool creates.
func NewCalendar() *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetCalscale("GREGORIAN")
	return cal
}

// ParseCalendar parses an iCalendar payload. An empty or whitespace-only
// payload yields an empty calendar.
//
// Components other than VEVENT and all calendar-level properties are kept
// as-is so that re-serializing does not drop foreign data.
func ParseCalendar(body []byte) (*ical.Calendar, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return NewCalendar(), nil
	}
	return ical.ParseCalendar(bytes.NewReader(body))
}

// PostID returns the trailing numeric segment of a post URL.
func PostID(postURL string) (string, bool) {
	m := postIDPattern.FindStringSubmatch(postURL)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// eventURL returns the URL property of an event, or "".
func eventURL(ve *ical.VEvent) string {
	p := ve.GetProperty(ical.ComponentPropertyUrl)
	if p == nil {
		return ""
	}
	return strings.TrimSpace(p.Value)
}
