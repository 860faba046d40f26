// Package pipeline runs one Mastodon-to-iCal conversion:
// load calendar, resolve watermark, fetch posts, append events, write.
package pipeline

import (
	"context"
	"fmt"

	ical "github.com/arran4/golang-ical"

	"github.com/PhictionalOne/Toot2Cal/internal/ics"
	appLog "github.com/PhictionalOne/Toot2Cal/internal/log"
	"github.com/PhictionalOne/Toot2Cal/internal/mastodon"
	"github.com/PhictionalOne/Toot2Cal/internal/model"
)

// StatusSource is the provider capability the pipeline needs.
// *mastodon.Client implements it.
type StatusSource interface {
	SearchAccount(ctx context.Context, query string) (model.Account, error)
	AccountStatuses(ctx context.Context, accountID string, q mastodon.StatusQuery) (*mastodon.Page, error)
	FetchNext(ctx context.Context, p *mastodon.Page) (*mastodon.Page, error)
}

// CalendarLoader resolves the input locator. *ics.Loader implements it.
type CalendarLoader interface {
	Load(ctx context.Context, locator string) (*ical.Calendar, error)
}

// Settings are the per-run inputs of the pipeline.
type Settings struct {
	Username string
	Input    string
	Output   string
	// Limit is the page size of timeline requests.
	Limit int
}

// Result summarizes a successful run.
type Result struct {
	Output string
	// Events is the total number of events in the written calendar.
	Events int
	// Posts is the number of posts fetched, including skipped ones.
	Posts int
	// Added is the number of events created by this run.
	Added int
}

// Summary is the line reported to the operator after a run.
func (r Result) Summary() string {
	return fmt.Sprintf("Created iCal file with %d events at %s from %d posts", r.Events, r.Output, r.Posts)
}

// Runner executes the conversion.
type Runner struct {
	source    StatusSource
	loader    CalendarLoader
	formatter *ics.Formatter
	settings  Settings
}

// NewRunner wires a Runner.
func NewRunner(source StatusSource, loader CalendarLoader, formatter *ics.Formatter, settings Settings) *Runner {
	return &Runner{
		source:    source,
		loader:    loader,
		formatter: formatter,
		settings:  settings,
	}
}

// Run performs one conversion. Nothing is written unless every step before
// the write succeeded.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	cal, err := r.loader.Load(ctx, r.settings.Input)
	if err != nil {
		return Result{}, err
	}

	wm := ics.ResolveWatermark(cal)
	if wm.Valid() {
		appLog.Info("watermark resolved", "last_id", wm.ID)
	} else {
		appLog.Info("no watermark, fetching full history")
	}

	account, err := r.source.SearchAccount(ctx, r.settings.Username)
	if err != nil {
		return Result{}, err
	}

	posts, err := r.fetchPosts(ctx, account.ID, wm)
	if err != nil {
		return Result{}, err
	}
	appLog.Info("posts fetched", "account", account.Acct, "count", len(posts))

	added := 0
	for _, post := range posts {
		ok, err := r.formatter.Append(cal, post, wm)
		if err != nil {
			return Result{}, err
		}
		if ok {
			added++
		}
	}

	if err := ics.WriteCalendar(r.settings.Output, cal); err != nil {
		return Result{}, fmt.Errorf("write calendar %s: %w", r.settings.Output, err)
	}

	res := Result{
		Output: r.settings.Output,
		Events: len(cal.Events()),
		Posts:  len(posts),
		Added:  added,
	}
	appLog.Info("calendar updated", "output", res.Output, "added", res.Added, "events", res.Events)
	return res, nil
}

// fetchPosts returns the posts to convert, newest first. With a watermark a
// single page of newer posts is requested; without one the whole timeline
// is paged through.
func (r *Runner) fetchPosts(ctx context.Context, accountID string, wm ics.Watermark) ([]model.Post, error) {
	query := mastodon.StatusQuery{
		Limit:          r.settings.Limit,
		ExcludeReplies: true,
		ExcludeReblogs: true,
	}

	if wm.Valid() {
		query.SinceID = wm.ID
		page, err := r.source.AccountStatuses(ctx, accountID, query)
		if err != nil {
			return nil, err
		}
		return page.Posts, nil
	}

	var all []model.Post
	page, err := r.source.AccountStatuses(ctx, accountID, query)
	if err != nil {
		return nil, err
	}
	for page != nil && len(page.Posts) > 0 {
		all = append(all, page.Posts...)
		appLog.Debug("backfill progress", "fetched", len(all))

		page, err = r.source.FetchNext(ctx, page)
		if err != nil {
			return nil, err
		}
	}
	return all, nil
}
