package model

import "time"

// Account is a provider account as returned by account search.
type Account struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Acct        string `json:"acct"`
	DisplayName string `json:"display_name"`
	URL         string `json:"url"`
}

// Post is a single status from an account timeline.
//
// Content is the provider-rendered HTML. URL is the public permalink; its
// trailing numeric path segment is what the calendar side treats as the
// post's identity.
type Post struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
