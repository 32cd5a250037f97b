package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briefly-ai/briefly/pkg/models"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(&logWriter{t}, nil))
}

type logWriter struct{ t *testing.T }

func (w *logWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}

func TestGetRetriesTransientFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	rest := newRESTClient(srv.Client(), testLogger(t))
	var out map[string]bool
	err := rest.getJSON(context.Background(), "tok", srv.URL, &out)
	require.NoError(t, err)
	assert.True(t, out["ok"])
	assert.Equal(t, 3, calls)
}

func TestGetGivesUpAfterRetryBudget(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rest := newRESTClient(srv.Client(), testLogger(t))
	_, err := rest.get(context.Background(), "tok", srv.URL)
	require.Error(t, err)
	assert.Equal(t, maxAttempts, calls)
	assert.True(t, IsTransient(err))
}

func TestGetUnauthorizedIsTerminal(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	rest := newRESTClient(srv.Client(), testLogger(t))
	_, err := rest.get(context.Background(), "tok", srv.URL)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, calls, "401 must not be retried")
	assert.False(t, IsTransient(err))
}

func TestGetOtherClientErrorsAreTerminal(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"forbidden"}`))
	}))
	defer srv.Close()

	rest := newRESTClient(srv.Client(), testLogger(t))
	_, err := rest.get(context.Background(), "tok", srv.URL)
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}

func TestGetSendsBearerToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	rest := newRESTClient(srv.Client(), testLogger(t))
	_, err := rest.get(context.Background(), "secret-token", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-token", auth)
}

func b64url(s string) string {
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString([]byte(s))
}

func TestMailClientListMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/users/me/messages":
			assert.Contains(t, r.URL.Query().Get("q"), "alice@acme.test")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"messages": []map[string]string{{"id": "m1"}, {"id": "m2"}},
			})
		case strings.HasPrefix(r.URL.Path, "/users/me/messages/"):
			id := strings.TrimPrefix(r.URL.Path, "/users/me/messages/")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":      id,
				"snippet": "snippet " + id,
				"payload": map[string]any{
					"mimeType": "multipart/alternative",
					"headers": []map[string]string{
						{"name": "Subject", "value": "Project sync"},
						{"name": "From", "value": `"Alice Smith" <alice@acme.test>`},
						{"name": "To", "value": "bob@acme.test, carol@acme.test"},
						{"name": "Date", "value": "Tue, 08 Apr 2025 10:00:00 +0000"},
					},
					"parts": []map[string]any{
						{
							"mimeType": "text/plain",
							"body":     map[string]any{"data": b64url("hello from " + id)},
						},
						{
							"mimeType": "application/pdf",
							"filename": "deck.pdf",
							"body":     map[string]any{"data": ""},
						},
					},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewMailClient(srv.Client(), testLogger(t))
	c.baseURL = srv.URL

	msgs, err := c.ListMessages(context.Background(), "tok", "from:alice@acme.test", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	first := msgs[0]
	assert.Equal(t, "m1", first.ID)
	assert.Equal(t, "Project sync", first.Subject)
	assert.Equal(t, `"Alice Smith" <alice@acme.test>`, first.From)
	assert.Equal(t, []string{"bob@acme.test", "carol@acme.test"}, first.To)
	assert.Equal(t, "hello from m1", first.Body)
	assert.Equal(t, []string{"deck.pdf"}, first.Attachments)
	assert.False(t, first.Time().IsZero())
}

func TestMailClientPaginationCap(t *testing.T) {
	page := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/users/me/messages" {
			page++
			resp := map[string]any{
				"messages":      []map[string]string{{"id": fmt.Sprintf("m%d-a", page)}, {"id": fmt.Sprintf("m%d-b", page)}},
				"nextPageToken": fmt.Sprintf("page-%d", page+1),
			}
			_ = json.NewEncoder(w).Encode(resp)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": strings.TrimPrefix(r.URL.Path, "/users/me/messages/"),
			"payload": map[string]any{
				"mimeType": "text/plain",
				"body":     map[string]any{"data": b64url("x")},
			},
		})
	}))
	defer srv.Close()

	c := NewMailClient(srv.Client(), testLogger(t))
	c.baseURL = srv.URL

	msgs, err := c.ListMessages(context.Background(), "tok", "q", 3)
	require.NoError(t, err)
	assert.Len(t, msgs, 3, "pagination must stop at the caller max")
	assert.Equal(t, 2, page)
}

func TestDriveClientListFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/files", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"files": []map[string]any{
				{
					"id":           "f1",
					"name":         "Q2 Roadmap",
					"mimeType":     "application/vnd.google-apps.document",
					"size":         "2048",
					"modifiedTime": "2025-04-01T12:00:00Z",
					"webViewLink":  "https://docs.example/f1",
					"owners": []map[string]string{
						{"displayName": "Alice Smith", "emailAddress": "alice@acme.test"},
					},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewDriveClient(srv.Client(), testLogger(t))
	c.baseURL = srv.URL

	files, err := c.ListFiles(context.Background(), "tok", "query", 10)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "Q2 Roadmap", files[0].Name)
	assert.Equal(t, int64(2048), files[0].Size)
	assert.Equal(t, "alice@acme.test", files[0].OwnerEmail)
}

func TestDriveClientFetchContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/gdoc/export":
			assert.Equal(t, "text/plain", r.URL.Query().Get("mimeType"))
			_, _ = w.Write([]byte("exported content"))
		case "/files/plain":
			assert.Equal(t, "media", r.URL.Query().Get("alt"))
			_, _ = w.Write([]byte("raw content"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewDriveClient(srv.Client(), testLogger(t))
	c.baseURL = srv.URL

	gdoc := models.DocumentArtifact{ID: "gdoc", MimeType: "application/vnd.google-apps.document"}
	require.NoError(t, c.FetchContent(context.Background(), "tok", &gdoc))
	assert.Equal(t, "exported content", gdoc.Content)

	plain := models.DocumentArtifact{ID: "plain", MimeType: "text/plain"}
	require.NoError(t, c.FetchContent(context.Background(), "tok", &plain))
	assert.Equal(t, "raw content", plain.Content)

	binary := models.DocumentArtifact{ID: "bin", MimeType: "image/png"}
	require.NoError(t, c.FetchContent(context.Background(), "tok", &binary))
	assert.Empty(t, binary.Content, "non-text types are metadata only")
}

func TestCalendarClientListMeetings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/calendars/primary/events", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("singleEvents"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{
					"id":      "ev1",
					"summary": "Product sync",
					"start":   map[string]string{"dateTime": "2025-04-10T15:00:00Z"},
					"end":     map[string]string{"dateTime": "2025-04-10T15:30:00Z"},
					"attendees": []map[string]any{
						{"email": "alice@acme.test", "displayName": "Alice Smith"},
					},
					"organizer": map[string]any{"email": "bob@acme.test"},
				},
				{
					"id":     "cancelled",
					"status": "cancelled",
					"start":  map[string]string{"dateTime": "2025-04-10T16:00:00Z"},
				},
				{
					"id":      "allday",
					"summary": "Offsite",
					"start":   map[string]string{"date": "2025-04-11"},
					"end":     map[string]string{"date": "2025-04-12"},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewCalendarClient(srv.Client(), testLogger(t))
	c.baseURL = srv.URL

	from := time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)
	meetings, err := c.ListMeetings(context.Background(), "tok", from, from.Add(48*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, meetings, 2, "cancelled events are dropped")

	assert.Equal(t, "Product sync", meetings[0].Title)
	assert.Equal(t, time.Date(2025, 4, 10, 15, 0, 0, 0, time.UTC), meetings[0].Start)
	assert.NotEmpty(t, meetings[0].Raw, "raw provider payload is preserved")
	assert.Equal(t, "alice@acme.test", meetings[0].Attendees[0].Email)

	assert.Equal(t, "allday", meetings[1].ID)
	assert.Equal(t, time.Date(2025, 4, 11, 0, 0, 0, 0, time.UTC), meetings[1].Start)
}
