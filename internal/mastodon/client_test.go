package mastodon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/time/rate"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(srv.URL, "secret",
		WithHTTPClient(srv.Client()),
		WithLimiter(rate.NewLimiter(rate.Inf, 1)),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_NormalizesInstanceURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"mastodon.social", "https://mastodon.social", false},
		{"https://example.org/", "https://example.org", false},
		{"http://localhost:3000/sub/?x=1", "http://localhost:3000/sub", false},
		{"", "", true},
		{"ftp://example.org", "", true},
	}
	for _, tt := range tests {
		c, err := NewClient(tt.in, "")
		if (err != nil) != tt.wantErr {
			t.Errorf("NewClient(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && c.baseURL.String() != tt.want {
			t.Errorf("NewClient(%q) base = %s, want %s", tt.in, c.baseURL, tt.want)
		}
	}
}

func TestSearchAccount_ReturnsFirstMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/accounts/search" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "alice" {
			t.Errorf("q = %s, want alice", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		fmt.Fprint(w, `[{"id":"7","username":"alice","acct":"alice"},{"id":"8","username":"alice2","acct":"alice2@other"}]`)
	}))
	defer srv.Close()

	acc, err := newTestClient(t, srv).SearchAccount(context.Background(), "alice")
	if err != nil {
		t.Fatalf("SearchAccount: %v", err)
	}
	if acc.ID != "7" || acc.Acct != "alice" {
		t.Errorf("account = %+v, want id 7", acc)
	}
}

func TestSearchAccount_NoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).SearchAccount(context.Background(), "nobody")
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestAccountStatuses_QueryParameters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/accounts/7/statuses" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		want := map[string]string{
			"since_id":        "100",
			"limit":           "40",
			"exclude_replies": "true",
			"exclude_reblogs": "true",
		}
		for k, v := range want {
			if q.Get(k) != v {
				t.Errorf("%s = %q, want %q", k, q.Get(k), v)
			}
		}
		fmt.Fprint(w, `[{"id":"101","url":"https://example.org/@alice/101","content":"<p>'hi'</p>","created_at":"2024-03-05T23:30:00.000Z"}]`)
	}))
	defer srv.Close()

	page, err := newTestClient(t, srv).AccountStatuses(context.Background(), "7", StatusQuery{
		SinceID:        "100",
		Limit:          40,
		ExcludeReplies: true,
		ExcludeReblogs: true,
	})
	if err != nil {
		t.Fatalf("AccountStatuses: %v", err)
	}
	if len(page.Posts) != 1 {
		t.Fatalf("posts = %d, want 1", len(page.Posts))
	}
	p := page.Posts[0]
	if p.ID != "101" || p.URL != "https://example.org/@alice/101" {
		t.Errorf("post = %+v", p)
	}
	if p.CreatedAt.Day() != 5 || p.CreatedAt.Hour() != 23 {
		t.Errorf("created_at = %v", p.CreatedAt)
	}
	if page.HasNext() {
		t.Error("page without Link header should have no next")
	}
}

func TestFetchNext_FollowsLinkHeader(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("max_id") {
		case "":
			w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/accounts/7/statuses?max_id=2>; rel="next", <%s/api/v1/accounts/7/statuses?min_id=3>; rel="prev"`, srv.URL, srv.URL))
			fmt.Fprint(w, `[{"id":"3","url":"https://example.org/@a/3"}]`)
		case "2":
			w.Header().Set("Link", `</api/v1/accounts/7/statuses?max_id=1>; rel="next"`)
			fmt.Fprint(w, `[{"id":"2","url":"https://example.org/@a/2"}]`)
		case "1":
			w.Header().Set("Link", `</api/v1/accounts/7/statuses?max_id=0>; rel="next"`)
			fmt.Fprint(w, `[]`)
		default:
			t.Errorf("unexpected request %s", r.URL)
			fmt.Fprint(w, `[]`)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	ctx := context.Background()

	page, err := c.AccountStatuses(ctx, "7", StatusQuery{Limit: 1})
	if err != nil {
		t.Fatalf("AccountStatuses: %v", err)
	}

	var ids []string
	for page != nil {
		for _, p := range page.Posts {
			ids = append(ids, p.ID)
		}
		page, err = c.FetchNext(ctx, page)
		if err != nil {
			t.Fatalf("FetchNext: %v", err)
		}
	}

	if fmt.Sprint(ids) != "[3 2]" {
		t.Errorf("ids = %v, want [3 2]", ids)
	}
}

func TestGet_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"The access token is invalid"}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).SearchAccount(context.Background(), "alice")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message != "The access token is invalid" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestNextLink(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{`<https://h/a?max_id=1>; rel="next"`, "https://h/a?max_id=1"},
		{`<https://h/a?min_id=9>; rel="prev", <https://h/a?max_id=1>; rel="next"`, "https://h/a?max_id=1"},
		{`<https://h/a?min_id=9>; rel="prev"`, ""},
		{`https://h/a; rel="next"`, ""},
	}
	for _, tt := range tests {
		if got := nextLink(tt.header); got != tt.want {
			t.Errorf("nextLink(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
