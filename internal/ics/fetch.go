package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "github.com/PhictionalOne/Toot2Cal/internal/log"
)

// maxCalendarBytes caps a remote calendar body.
const maxCalendarBytes = 32 << 20

// Loader resolves a calendar locator (a file path or an http(s) URL) into a
// parsed calendar.
type Loader struct {
	client *http.Client
}

// NewLoader creates a Loader. A nil client gets a default with a 30s timeout.
func NewLoader(client *http.Client) *Loader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Loader{client: client}
}

// Load returns the calendar at locator.
//
// Resolution order:
//   - an existing local file at locator is parsed
//   - otherwise, if a HEAD request to locator answers 200, the body of a
//     GET request is parsed
//   - otherwise an empty calendar is returned
//
// Parse errors and failures of the follow-up GET are returned; a failing
// HEAD probe only means the calendar does not exist yet.
func (l *Loader) Load(ctx context.Context, locator string) (*ical.Calendar, error) {
	if _, err := os.Stat(locator); err == nil {
		data, err := os.ReadFile(locator)
		if err != nil {
			return nil, fmt.Errorf("read calendar %s: %w", locator, err)
		}
		cal, err := ParseCalendar(data)
		if err != nil {
			return nil, fmt.Errorf("parse calendar %s: %w", locator, err)
		}
		appLog.Info("calendar loaded from file", "path", locator, "events", len(cal.Events()))
		return cal, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		appLog.Debug("calendar path not accessible", "path", locator, "err", err)
	}

	if l.remoteExists(ctx, locator) {
		body, err := l.fetch(ctx, locator)
		if err != nil {
			return nil, fmt.Errorf("fetch calendar %s: %w", redactURL(locator), err)
		}
		cal, err := ParseCalendar(body)
		if err != nil {
			return nil, fmt.Errorf("parse calendar %s: %w", redactURL(locator), err)
		}
		appLog.Info("calendar loaded from url", "url", redactURL(locator), "events", len(cal.Events()))
		return cal, nil
	}

	appLog.Info("no existing calendar, starting empty", "input", locator)
	return NewCalendar(), nil
}

// remoteExists probes locator with a HEAD request. Anything other than a
// 200 answer, including transport errors and non-URL locators, is "absent".
func (l *Loader) remoteExists(ctx context.Context, locator string) bool {
	u, err := url.Parse(locator)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, locator, nil)
	if err != nil {
		return false
	}
	resp, err := l.client.Do(req)
	if err != nil {
		appLog.Debug("calendar HEAD probe failed", "url", redactURL(locator), "err", err)
		return false
	}
	resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

func (l *Loader) fetch(ctx context.Context, locator string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.New(resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxCalendarBytes))
}

// redactURL hides sensitive parts of a calendar URL for logging purposes.
// Plain file paths are returned unchanged.
//
//	https://example.com/path/to/private.ics?token=abcd
//	-> https://example.com/...(redacted)
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return u
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
