// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package mattermost

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-irc-relay/pkg/config"
	"github.com/aiku/mattermost-irc-relay/pkg/relay"
)

const (
	testChannelID = "relay-channel"
	testTeamID    = "relay-team"
	testBotUserID = "bot-user-id"
	testToken     = "test-token"
)

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Body   string
}

// fakeMM is a test helper that wraps an httptest.Server simulating the
// Mattermost API. It records calls and provides canned responses.
type fakeMM struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall
	fail  map[string]bool

	// Users maps user ID to model.User for GetUser/GetMe responses.
	Users map[string]*model.User
	// TokenToUser maps bearer tokens to user IDs for GetMe auth.
	TokenToUser map[string]string
	// Channels maps channel ID to model.Channel.
	Channels map[string]*model.Channel
	// Hooks is the list of existing incoming webhooks.
	Hooks []*model.IncomingWebhook
	// FileLinks maps file ID to its public link.
	FileLinks map[string]string
}

func newFakeMM(t *testing.T) *fakeMM {
	t.Helper()
	f := &fakeMM{
		fail:        make(map[string]bool),
		Users:       map[string]*model.User{testBotUserID: {Id: testBotUserID, Username: "relay-bot"}},
		TokenToUser: map[string]string{testToken: testBotUserID},
		Channels:    map[string]*model.Channel{testChannelID: {Id: testChannelID, TeamId: testTeamID, Name: "town-square"}},
		FileLinks:   make(map[string]string),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	t.Cleanup(f.Server.Close)
	return f
}

// failPath makes every request whose path starts with prefix return 500.
func (f *fakeMM) failPath(prefix string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[prefix] = true
}

func (f *fakeMM) record(method, path, body string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: method, Path: path, Body: body})
	for prefix := range f.fail {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}

func (f *fakeMM) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

// CallsTo returns the recorded calls for method and exact path.
func (f *fakeMM) CallsTo(method, path string) []endpointCall {
	var out []endpointCall
	for _, c := range f.Calls() {
		if c.Method == method && c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

// Posts returns the posts created through the REST API.
func (f *fakeMM) Posts() []*model.Post {
	var posts []*model.Post
	for _, c := range f.CallsTo(http.MethodPost, "/api/v4/posts") {
		var p model.Post
		_ = json.Unmarshal([]byte(c.Body), &p)
		posts = append(posts, &p)
	}
	return posts
}

// WebhookPosts returns the payloads delivered to /hooks/<id>.
func (f *fakeMM) WebhookPosts(hookID string) []model.IncomingWebhookRequest {
	var out []model.IncomingWebhookRequest
	for _, c := range f.CallsTo(http.MethodPost, "/hooks/"+hookID) {
		var req model.IncomingWebhookRequest
		_ = json.Unmarshal([]byte(c.Body), &req)
		out = append(out, req)
	}
	return out
}

func (f *fakeMM) resolveToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	for tok, uid := range f.TokenToUser {
		if auth == "BEARER "+tok || auth == "Bearer "+tok {
			return uid
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeMM) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if !f.record(r.Method, r.URL.Path, string(body)) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "fake error"})
		return
	}

	path := r.URL.Path
	switch {
	// GET /api/v4/users/me
	case r.Method == http.MethodGet && path == "/api/v4/users/me":
		uid := f.resolveToken(r)
		if uid == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "unauthorized"})
			return
		}
		writeJSON(w, http.StatusOK, f.Users[uid])

	// GET /api/v4/users/{user_id}
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/api/v4/users/"):
		if u, ok := f.Users[strings.TrimPrefix(path, "/api/v4/users/")]; ok {
			writeJSON(w, http.StatusOK, u)
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "user not found"})

	// GET /api/v4/channels/{channel_id}
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/api/v4/channels/"):
		if ch, ok := f.Channels[strings.TrimPrefix(path, "/api/v4/channels/")]; ok {
			writeJSON(w, http.StatusOK, ch)
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "channel not found"})

	// POST /api/v4/posts
	case r.Method == http.MethodPost && path == "/api/v4/posts":
		var post model.Post
		_ = json.Unmarshal(body, &post)
		post.Id = "created-post-id"
		writeJSON(w, http.StatusCreated, &post)

	// GET /api/v4/hooks/incoming?team_id=...
	case r.Method == http.MethodGet && path == "/api/v4/hooks/incoming":
		teamID := r.URL.Query().Get("team_id")
		hooks := []*model.IncomingWebhook{}
		for _, h := range f.Hooks {
			if teamID == "" || h.TeamId == teamID {
				hooks = append(hooks, h)
			}
		}
		writeJSON(w, http.StatusOK, hooks)

	// POST /api/v4/hooks/incoming
	case r.Method == http.MethodPost && path == "/api/v4/hooks/incoming":
		var hook model.IncomingWebhook
		_ = json.Unmarshal(body, &hook)
		hook.Id = "created-hook-id"
		hook.UserId = f.resolveToken(r)
		hook.TeamId = testTeamID
		writeJSON(w, http.StatusCreated, &hook)

	// GET /api/v4/files/{file_id}/link
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/api/v4/files/") && strings.HasSuffix(path, "/link"):
		fileID := strings.TrimSuffix(strings.TrimPrefix(path, "/api/v4/files/"), "/link")
		if link, ok := f.FileLinks[fileID]; ok {
			writeJSON(w, http.StatusOK, map[string]string{"link": link})
			return
		}
		writeJSON(w, http.StatusNotImplemented, map[string]string{"message": "public links disabled"})

	// POST /hooks/{hook_id}
	case r.Method == http.MethodPost && strings.HasPrefix(path, "/hooks/"):
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))

	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found: " + path})
	}
}

// fakeStream is a channel-backed eventStream.
type fakeStream struct {
	ch     chan *model.WebSocketEvent
	closed atomic.Bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{ch: make(chan *model.WebSocketEvent, 16)}
}

func (s *fakeStream) Events() <-chan *model.WebSocketEvent { return s.ch }
func (s *fakeStream) Close()                                { s.closed.Store(true) }

func testConfig(serverURL string) config.MattermostConfig {
	return config.MattermostConfig{
		ServerURL:   serverURL,
		Token:       testToken,
		ChannelID:   testChannelID,
		BotPrefix:   "relaybot-",
		WebhookName: "IRC Relay",
	}
}

// newTestClient creates a Client against the fake server. Streams opened by
// the client are reported on the returned channel.
func newTestClient(t *testing.T, cfg config.MattermostConfig, opts Options) (*Client, *relay.Health, <-chan *fakeStream) {
	t.Helper()
	health := relay.NewHealth(nil)
	opts.Log = zerolog.Nop()
	opts.Recorder = health
	c := NewClient(cfg, opts)
	streams := make(chan *fakeStream, 16)
	c.openStream = func(context.Context) (eventStream, error) {
		s := newFakeStream()
		streams <- s
		return s, nil
	}
	return c, health, streams
}

// connectTestClient runs the connect handshake once so session data is set.
func connectTestClient(t *testing.T, c *Client) {
	t.Helper()
	if _, err := c.connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
}

// newWebSocketEvent creates a model.WebSocketEvent for testing handlers.
func newWebSocketEvent(eventType model.WebsocketEventType, channelID string, data map[string]any) *model.WebSocketEvent {
	evt := model.NewWebSocketEvent(eventType, "", channelID, "", nil, "")
	return evt.SetData(data)
}

func postedEvent(post *model.Post, senderName string) *model.WebSocketEvent {
	postJSON, _ := json.Marshal(post)
	return newWebSocketEvent(model.WebsocketEventPosted, post.ChannelId, map[string]any{
		"post":        string(postJSON),
		"sender_name": senderName,
	})
}

// recordingHandler captures events delivered to the relay handler.
type recordingHandler struct {
	messages chan *relay.RelayMessage
	ready    chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		messages: make(chan *relay.RelayMessage, 16),
		ready:    make(chan struct{}, 16),
	}
}

func (h *recordingHandler) HandlePlatformMessage(_ context.Context, msg *relay.RelayMessage) {
	h.messages <- msg
}

func (h *recordingHandler) HandlePlatformReady(context.Context) { h.ready <- struct{}{} }

func (h *recordingHandler) HandleNetworkMessage(context.Context, *relay.RelayMessage)  {}
func (h *recordingHandler) HandleNetworkQuit(context.Context, string, string, string) {}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		panic("unreachable")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}
