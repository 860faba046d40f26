package ics

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	appLog "github.com/PhictionalOne/Toot2Cal/internal/log"
	"github.com/PhictionalOne/Toot2Cal/internal/model"
)

const (
	ellipsis  = "..."
	uidDomain = "toot2cal"
)

// ErrNoPostID is returned when a post URL carries no trailing numeric ID.
var ErrNoPostID = errors.New("post URL has no numeric ID")

// contentPattern picks the first single-quoted run out of the rendered post
// HTML. Posts without one are not turned into events.
var contentPattern = regexp.MustCompile(`'(.*?)'`)

// FormatConfig controls how posts are rendered into events.
type FormatConfig struct {
	// Prefix, if non-empty, is prepended to titles as "<Prefix> : ".
	Prefix string
	// Description is appended on its own line after the post content.
	Description string
	// Cutoff is the maximum title length in characters before "..." is added.
	Cutoff int
	// Location is the zone whose calendar date an event falls on.
	// If nil, UTC is used.
	Location *time.Location
}

// Formatter turns posts into all-day VEVENTs.
type Formatter struct {
	cfg    FormatConfig
	now    func() time.Time
	newUID func() string
}

// NewFormatter creates a Formatter.
func NewFormatter(cfg FormatConfig) *Formatter {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Formatter{
		cfg: cfg,
		now: time.Now,
		newUID: func() string {
			return uuid.NewString() + "@" + uidDomain
		},
	}
}

// Append adds an event for post to cal. It reports false without error when
// the post is skipped: either it is the watermark post itself, or its
// content has no extractable text.
func (f *Formatter) Append(cal *ical.Calendar, post model.Post, wm Watermark) (bool, error) {
	id, ok := PostID(post.URL)
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrNoPostID, post.URL)
	}
	if wm.Matches(id) {
		appLog.Debug("post skipped: already in calendar", "id", id)
		return false, nil
	}

	content, ok := ExtractContent(post.Content)
	if !ok {
		appLog.Debug("post skipped: no quoted content", "id", id)
		return false, nil
	}

	ev := cal.AddEvent(f.newUID())
	ev.SetDtStampTime(f.now().UTC())
	ev.SetSummary(Title(f.cfg.Prefix, content, f.cfg.Cutoff))
	ev.SetDescription(content + "\n" + f.cfg.Description)
	ev.SetURL(post.URL)

	day := eventDate(post.CreatedAt, f.cfg.Location)
	ev.SetAllDayStartAt(day)
	ev.SetAllDayEndAt(day.AddDate(0, 0, 1))

	return true, nil
}

// ExtractContent returns the first single-quoted substring of raw.
func ExtractContent(raw string) (string, bool) {
	m := contentPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Title builds "<prefix> : <content>" (or just content when prefix is
// empty), cut to cutoff characters plus "..." when longer.
func Title(prefix, content string, cutoff int) string {
	title := content
	if prefix != "" {
		title = prefix + " : " + content
	}

	r := []rune(title)
	if cutoff >= 0 && len(r) > cutoff {
		return string(r[:cutoff]) + ellipsis
	}
	return title
}

// eventDate is midnight of t's calendar day in loc.
func eventDate(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
