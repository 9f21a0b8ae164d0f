package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/pulse-presence/internal/model"
)

// fakePortal is a minimal portal API for client tests.
type fakePortal struct {
	mu       sync.Mutex
	requests []string
	teams    []model.Team
	contacts []model.Contact
	unread   int
	failing  bool
}

func (p *fakePortal) record(r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, r.Method+" "+r.URL.RequestURI())
}

func (p *fakePortal) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.requests...)
}

func (p *fakePortal) router() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			p.record(req)
			if req.Header.Get("Authorization") != "Bearer token-123" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if p.failing {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Get("/api/teams", func(w http.ResponseWriter, req *http.Request) {
		teams := p.teams
		if req.URL.Query().Get("all") != "1" {
			members := make([]model.Team, 0, len(teams))
			for _, t := range teams {
				if t.IsMember {
					members = append(members, t)
				}
			}
			teams = members
		}
		json.NewEncoder(w).Encode(teams)
	})
	r.Get("/api/contacts", func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(p.contacts)
	})
	r.Get("/api/chat-preferences", func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode([]model.ChatPreference{})
	})
	r.Get("/api/settings", func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(model.GlobalSettings{})
	})
	r.Post("/api/chats/{type}/{id}/mute", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/api/chats/{type}/{id}/read", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/api/chats/{type}/{id}/unread", func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(map[string]int{"unread_count": p.unread})
	})
	r.Post("/api/teams/{id}/leave", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func newTestClient(t *testing.T, p *fakePortal) *Client {
	t.Helper()
	srv := httptest.NewServer(p.router())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "token-123")
}

func TestTeamsAllFlag(t *testing.T) {
	p := &fakePortal{teams: []model.Team{
		{ID: "5", IsMember: true},
		{ID: "9", IsMember: false},
	}}
	c := newTestClient(t, p)
	ctx := context.Background()

	teams, err := c.Teams(ctx, false)
	require.NoError(t, err)
	require.Len(t, teams, 1)

	teams, err = c.Teams(ctx, true)
	require.NoError(t, err)
	require.Len(t, teams, 2)

	require.Equal(t, []string{"GET /api/teams", "GET /api/teams?all=1"}, p.seen())
}

func TestContactsCarryUnreadCount(t *testing.T) {
	p := &fakePortal{contacts: []model.Contact{
		{ID: "2", Name: "Birgit", UnreadCount: 4, LastMessageAt: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)},
	}}
	c := newTestClient(t, p)

	contacts, err := c.Contacts(context.Background())
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	require.Equal(t, 4, contacts[0].UnreadCount)
}

func TestMarkUnreadReturnsServerCount(t *testing.T) {
	p := &fakePortal{unread: 7}
	c := newTestClient(t, p)

	count, err := c.MarkUnread(context.Background(), model.ChatRef{ID: "2", Type: model.ChatTypeUser})
	require.NoError(t, err)
	require.Equal(t, 7, count)
	require.Equal(t, []string{"POST /api/chats/user/2/unread"}, p.seen())
}

func TestServerErrorSurfaces(t *testing.T) {
	p := &fakePortal{failing: true}
	c := newTestClient(t, p)

	err := c.SetMuted(context.Background(), model.ChatRef{ID: "5", Type: model.ChatTypeTeam}, true)
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 500")
}

func TestCancelledContextAbortsFetch(t *testing.T) {
	p := &fakePortal{}
	c := newTestClient(t, p)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Teams(ctx, false)
	require.ErrorIs(t, err, context.Canceled)
}
