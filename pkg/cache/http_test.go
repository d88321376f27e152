package cache

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewEntry(t *testing.T) {
	header := http.Header{
		"Content-Type":      []string{"application/json"},
		"Etag":              []string{`"v1"`},
		"Content-Length":    []string{"17"},
		"Date":              []string{"Mon, 01 Jan 2024 00:00:00 GMT"},
		"Set-Cookie":        []string{"session=secret"},
		"X-Ratelimit-Limit": []string{"100"},
		"X-Cache":           []string{"MISS"},
		"Connection":        []string{"keep-alive"},
	}
	body := []byte(`{"id":42,"t":"x"}`)

	entry := NewEntry(http.StatusOK, header, body)

	if entry.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", entry.StatusCode)
	}
	if entry.ContentType != "application/json" {
		t.Errorf("ContentType = %q, want application/json", entry.ContentType)
	}
	if string(entry.Body) != string(body) {
		t.Errorf("Body = %q, want %q", entry.Body, body)
	}
	if entry.CachedAt.IsZero() {
		t.Error("CachedAt not set")
	}
	if entry.Headers.Get("Etag") != `"v1"` {
		t.Error("ETag should be kept")
	}
	for _, dropped := range []string{"Content-Length", "Date", "Set-Cookie", "X-Ratelimit-Limit", "X-Cache", "Connection"} {
		if entry.Headers.Get(dropped) != "" {
			t.Errorf("header %s should not be stored", dropped)
		}
	}

	// Entry owns its body.
	body[0] = '['
	if entry.Body[0] != '{' {
		t.Error("NewEntry must copy the body")
	}
}

func TestWriteEntry(t *testing.T) {
	entry := &Entry{
		Body:        []byte(`[{"id":1}]`),
		StatusCode:  http.StatusOK,
		ContentType: "application/json",
		Headers:     http.Header{"Etag": []string{`"abc"`}},
	}

	rec := httptest.NewRecorder()
	if err := WriteEntry(rec, entry); err != nil {
		t.Fatalf("WriteEntry() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get(HeaderCache); got != StatusHit {
		t.Errorf("X-Cache = %q, want HIT", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Content-Length"); got != "10" {
		t.Errorf("Content-Length = %q, want 10", got)
	}
	if got := rec.Header().Get("Etag"); got != `"abc"` {
		t.Errorf("ETag = %q", got)
	}
	if rec.Body.String() != `[{"id":1}]` {
		t.Errorf("body = %q", rec.Body.String())
	}
}
