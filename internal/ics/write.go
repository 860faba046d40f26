package ics

import (
	"errors"
	"os"
	"path/filepath"

	ical "github.com/arran4/golang-ical"

	appLog "github.com/PhictionalOne/Toot2Cal/internal/log"
)

// WriteCalendar serializes cal to path, replacing any existing file.
//
// The payload is written to a temp file in the same directory and renamed
// over path, so readers never observe a partially written calendar.
func WriteCalendar(path string, cal *ical.Calendar) error {
	if path == "" {
		return errors.New("output path is empty")
	}
	if cal == nil {
		return errors.New("calendar is nil")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".toot2cal-*.ics.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	// No-op after a successful rename.
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(cal.Serialize()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	appLog.Debug("calendar written", "path", path, "events", len(cal.Events()))
	return nil
}
