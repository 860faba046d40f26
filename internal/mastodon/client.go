// Package mastodon is a minimal client for the parts of the Mastodon REST API
// needed to read an account's public timeline: account search, account
// statuses and Link-header pagination.
package mastodon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	appLog "github.com/PhictionalOne/Toot2Cal/internal/log"
	"github.com/PhictionalOne/Toot2Cal/internal/model"
)

const (
	defaultUserAgent = "toot2cal/1.0"
	defaultTimeout   = 30 * time.Second

	// maxResponseBytes caps a single API response body.
	maxResponseBytes = 16 << 20
)

// ErrAccountNotFound is returned when account search yields no match.
var ErrAccountNotFound = errors.New("account not found")

// APIError is a non-2xx response from the instance.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("mastodon: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("mastodon: HTTP %d: %s", e.StatusCode, e.Message)
}

// Client talks to a single Mastodon instance with a fixed access token.
type Client struct {
	baseURL    *url.URL
	token      string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLimiter replaces the default request pacer.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		if l != nil {
			c.limiter = l
		}
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// DefaultLimiter paces requests below the stock instance budget of
// 300 requests per 5 minutes.
func DefaultLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(1500*time.Millisecond), 5)
}

// NewClient creates a client for the instance at instanceURL. A bare host
// name such as "mastodon.social" is treated as https.
func NewClient(instanceURL, token string, opts ...Option) (*Client, error) {
	base, err := normalizeInstanceURL(instanceURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:    base,
		token:      token,
		userAgent:  defaultUserAgent,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    DefaultLimiter(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func normalizeInstanceURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("instance URL is empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid instance URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported instance URL scheme: %s", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("instance URL has no host: %s", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// SearchAccount looks the handle up via /api/v1/accounts/search and returns
// the first match.
func (c *Client) SearchAccount(ctx context.Context, query string) (model.Account, error) {
	params := url.Values{}
	params.Set("q", query)

	var accounts []model.Account
	if _, err := c.get(ctx, c.endpoint("/api/v1/accounts/search", params), &accounts); err != nil {
		return model.Account{}, fmt.Errorf("search account %q: %w", query, err)
	}
	if len(accounts) == 0 {
		return model.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, query)
	}

	appLog.Debug("account resolved", "query", query, "id", accounts[0].ID, "acct", accounts[0].Acct)
	return accounts[0], nil
}

// StatusQuery holds the filters for an account timeline request.
type StatusQuery struct {
	// SinceID, if set, returns only statuses newer than this ID.
	SinceID        string
	Limit          int
	ExcludeReplies bool
	ExcludeReblogs bool
}

func (q StatusQuery) values() url.Values {
	v := url.Values{}
	if q.SinceID != "" {
		v.Set("since_id", q.SinceID)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.ExcludeReplies {
		v.Set("exclude_replies", "true")
	}
	if q.ExcludeReblogs {
		v.Set("exclude_reblogs", "true")
	}
	return v
}

// Page is one page of a paginated timeline.
type Page struct {
	Posts []model.Post
	next  string
}

// HasNext reports whether the instance advertised an older page.
func (p *Page) HasNext() bool {
	return p != nil && p.next != ""
}

// AccountStatuses fetches the newest page of an account's statuses.
func (c *Client) AccountStatuses(ctx context.Context, accountID string, q StatusQuery) (*Page, error) {
	path := "/api/v1/accounts/" + url.PathEscape(accountID) + "/statuses"
	page, err := c.fetchPage(ctx, c.endpoint(path, q.values()))
	if err != nil {
		return nil, fmt.Errorf("account statuses %s: %w", accountID, err)
	}
	return page, nil
}

// FetchNext follows the page's "next" link. It returns (nil, nil) once the
// timeline is exhausted.
func (c *Client) FetchNext(ctx context.Context, p *Page) (*Page, error) {
	if !p.HasNext() {
		return nil, nil
	}
	page, err := c.fetchPage(ctx, p.next)
	if err != nil {
		return nil, fmt.Errorf("fetch next page: %w", err)
	}
	return page, nil
}

func (c *Client) fetchPage(ctx context.Context, target string) (*Page, error) {
	var posts []model.Post
	header, err := c.get(ctx, target, &posts)
	if err != nil {
		return nil, err
	}

	next, err := c.resolveNext(header.Get("Link"))
	if err != nil {
		return nil, err
	}
	appLog.Debug("statuses page fetched", "count", len(posts), "has_next", next != "")

	// An empty page ends pagination even if a link was sent.
	if len(posts) == 0 {
		next = ""
	}
	return &Page{Posts: posts, next: next}, nil
}

func (c *Client) endpoint(path string, params url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	u.RawQuery = params.Encode()
	return u.String()
}

// resolveNext extracts the rel="next" target from a Link header and resolves
// it against the instance URL.
func (c *Client) resolveNext(linkHeader string) (string, error) {
	raw := nextLink(linkHeader)
	if raw == "" {
		return "", nil
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid next link %q: %w", raw, err)
	}
	return c.baseURL.ResolveReference(ref).String(), nil
}

// nextLink parses an RFC 8288 Link header value such as
//
//	<https://host/api/v1/...?max_id=1>; rel="next", <...>; rel="prev"
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		segs := strings.Split(part, ";")
		if len(segs) < 2 {
			continue
		}
		target := strings.TrimSpace(segs[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, param := range segs[1:] {
			k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(k), "rel") {
				continue
			}
			for _, rel := range strings.Fields(strings.Trim(strings.TrimSpace(v), `"`)) {
				if strings.EqualFold(rel, "next") {
					return target[1 : len(target)-1]
				}
			}
		}
	}
	return ""
}

func (c *Client) get(ctx context.Context, target string, out any) (http.Header, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return resp.Header, nil
}

func newAPIError(status int, body []byte) *APIError {
	var payload struct {
		Error string `json:"error"`
	}
	msg := ""
	if json.Unmarshal(body, &payload) == nil {
		msg = payload.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{StatusCode: status, Message: msg}
}
