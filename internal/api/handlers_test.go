package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"streamchat/internal/auth"
	"streamchat/internal/catalog"
	"streamchat/internal/config"
	"streamchat/internal/entitlement"
	"streamchat/internal/models"
	"streamchat/internal/orchestrator"
	"streamchat/internal/prompt"
	"streamchat/internal/provider"
	"streamchat/internal/resolver"
	"streamchat/internal/resumable"
	"streamchat/internal/service/chat"
	"streamchat/internal/storage"
)

func TestHandlersEndToEndFlow(t *testing.T) {
	srv := newTestServer(t, true)
	userID, authHeader := registerAndLogin(t, srv.router)
	chatID := uuid.NewString()

	resp := postSSE(t, srv.router, "/api/chat", chatBody(chatID, "Hello, remember my name is Bob.", "chat-model", "private"), authHeader)
	assertStatus(t, resp, http.StatusOK)
	events := parseSSE(t, resp.Body.String())
	names := eventNames(events)
	want := []string{"start-step", "text-delta", "text-delta", "finish"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected SSE sequence: %v", names)
	}
	if got := countRows(t, srv.db, `SELECT COUNT(*) FROM chats WHERE id = ?`, chatID); got != 1 {
		t.Fatalf("expected one chat, got %d", got)
	}
	if got := countRows(t, srv.db, `SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID); got != 2 {
		t.Fatalf("expected user and assistant messages, got %d", got)
	}

	// A second turn reuses the chat and sends the whole history.
	resp = postSSE(t, srv.router, "/api/chat", chatBody(chatID, "What was my name?", "chat-model", "private"), authHeader)
	assertStatus(t, resp, http.StatusOK)
	if got := countRows(t, srv.db, `SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID); got != 4 {
		t.Fatalf("expected 4 messages after second exchange, got %d", got)
	}
	if n := srv.model.lastInputLen(); n != 4 {
		t.Fatalf("expected system prompt plus 3 transcript messages, got %d", n)
	}

	histResp := doJSONRequest(t, srv.router, http.MethodGet, "/api/chat/"+chatID+"/messages", nil, authHeader)
	assertStatus(t, histResp, http.StatusOK)
	var hist struct {
		Chat     models.Chat       `json:"chat"`
		Messages []*models.Message `json:"messages"`
	}
	decodeJSON(t, histResp.Body.Bytes(), &hist)
	if hist.Chat.Title != "Greeting Bob" {
		t.Fatalf("expected generated title, got %q", hist.Chat.Title)
	}
	if len(hist.Messages) != 4 || hist.Messages[1].Text() != "Hello there!" {
		t.Fatalf("unexpected history: %+v", hist.Messages)
	}

	listResp := doJSONRequest(t, srv.router, http.MethodGet, "/api/history", nil, authHeader)
	assertStatus(t, listResp, http.StatusOK)
	var list struct {
		Chats []models.Chat `json:"chats"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &list)
	if len(list.Chats) != 1 || list.Chats[0].ID != chatID {
		t.Fatalf("unexpected chat list: %+v", list.Chats)
	}

	logoutResp := doJSONRequest(t, srv.router, http.MethodPost, "/api/users/logout", nil, authHeader)
	assertStatus(t, logoutResp, http.StatusNoContent)
	if got := srv.jobs.users(); len(got) != 1 || got[0] != userID {
		t.Fatalf("expected queued work of user %d to be cancelled on logout, got %v", userID, got)
	}
	again := doJSONRequest(t, srv.router, http.MethodGet, "/api/history", nil, authHeader)
	assertStatus(t, again, http.StatusUnauthorized)
}

func TestPostChatWithoutResumableStreams(t *testing.T) {
	srv := newTestServer(t, false)
	_, authHeader := registerAndLogin(t, srv.router)

	resp := postSSE(t, srv.router, "/api/chat", chatBody(uuid.NewString(), "hi", "chat-model", "private"), authHeader)
	assertStatus(t, resp, http.StatusOK)
	names := eventNames(parseSSE(t, resp.Body.String()))
	if len(names) == 0 || names[0] != "start-step" || names[len(names)-1] != "finish" {
		t.Fatalf("unexpected SSE sequence: %v", names)
	}
}

func TestPostChatValidation(t *testing.T) {
	srv := newTestServer(t, true)
	_, authHeader := registerAndLogin(t, srv.router)

	cases := map[string]func(body map[string]any){
		"chat id not uuid":      func(b map[string]any) { b["id"] = "not-a-uuid" },
		"empty content":         func(b map[string]any) { msg(b)["content"] = "" },
		"content too long":      func(b map[string]any) { msg(b)["content"] = strings.Repeat("a", 2001) },
		"assistant role":        func(b map[string]any) { msg(b)["role"] = "assistant" },
		"no parts":              func(b map[string]any) { msg(b)["parts"] = []any{} },
		"empty part text":       func(b map[string]any) { msg(b)["parts"] = []any{map[string]any{"type": "text", "text": ""}} },
		"part text too long":    func(b map[string]any) { msg(b)["parts"] = []any{map[string]any{"type": "text", "text": strings.Repeat("a", 2001)}} },
		"non text part":         func(b map[string]any) { msg(b)["parts"] = []any{map[string]any{"type": "image", "text": "x"}} },
		"gif attachment":        func(b map[string]any) { msg(b)["attachments"] = []any{attachment("image/gif")} },
		"unknown model":         func(b map[string]any) { b["selectedChatModel"] = "gpt-x" },
		"loose uuid model":      func(b map[string]any) { b["selectedChatModel"] = "{" + uuid.NewString() + "}" },
		"unknown visibility":    func(b map[string]any) { b["selectedVisibilityType"] = "secret" },
		"missing message id":    func(b map[string]any) { delete(msg(b), "id") },
		"missing createdAt":     func(b map[string]any) { delete(msg(b), "createdAt") },
		"attachment name length": func(b map[string]any) {
			a := attachment("image/png")
			a["name"] = strings.Repeat("n", 2001)
			msg(b)["attachments"] = []any{a}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			body := chatBody(uuid.NewString(), "hello", "chat-model", "private")
			mutate(body)
			resp := doJSONRequest(t, srv.router, http.MethodPost, "/api/chat", body, authHeader)
			assertStatus(t, resp, http.StatusBadRequest)
		})
	}

	valid := chatBody(uuid.NewString(), "hello", "chat-model", "public")
	msg(valid)["attachments"] = []any{attachment("image/png"), attachment("image/jpg"), attachment("image/jpeg"), attachment("application/pdf")}
	resp := postSSE(t, srv.router, "/api/chat", valid, authHeader)
	assertStatus(t, resp, http.StatusOK)

	persisted := chatBody(uuid.NewString(), "hello", uuid.NewString(), "private")
	resp = postSSE(t, srv.router, "/api/chat", persisted, authHeader)
	assertStatus(t, resp, http.StatusOK)

	if got := countRows(t, srv.db, `SELECT COUNT(*) FROM chats`); got != 2 {
		t.Fatalf("rejected bodies must not create chats, got %d", got)
	}
}

func TestPostChatChecksInputBeforeCredentials(t *testing.T) {
	srv := newTestServer(t, true)

	bad := chatBody("nope", "hello", "chat-model", "private")
	resp := doJSONRequest(t, srv.router, http.MethodPost, "/api/chat", bad, nil)
	assertStatus(t, resp, http.StatusBadRequest)

	good := chatBody(uuid.NewString(), "hello", "chat-model", "private")
	resp = doJSONRequest(t, srv.router, http.MethodPost, "/api/chat", good, nil)
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestPostChatQuotaHasNoSideEffects(t *testing.T) {
	srv := newTestServer(t, true)
	userID, authHeader := registerAndLogin(t, srv.router)
	ctx := context.Background()

	existing := uuid.NewString()
	if err := srv.chats.SaveChat(ctx, &models.Chat{ID: existing, UserID: userID, Title: "old"}); err != nil {
		t.Fatalf("save chat: %v", err)
	}
	for i := 0; i < 3; i++ {
		m := &models.Message{
			ID: uuid.NewString(), ChatID: existing, Role: models.RoleUser,
			Parts:     []models.Part{{Type: models.PartText, Text: "x"}},
			CreatedAt: time.Now().UTC().Add(-time.Duration(i) * time.Hour),
		}
		if err := srv.chats.SaveMessages(ctx, m); err != nil {
			t.Fatalf("save message: %v", err)
		}
	}

	chatID := uuid.NewString()
	resp := doJSONRequest(t, srv.router, http.MethodPost, "/api/chat", chatBody(chatID, "one more", "chat-model", "private"), authHeader)
	assertStatus(t, resp, http.StatusTooManyRequests)
	if got := countRows(t, srv.db, `SELECT COUNT(*) FROM chats WHERE id = ?`, chatID); got != 0 {
		t.Fatalf("chat created despite quota")
	}
	if got := countRows(t, srv.db, `SELECT COUNT(*) FROM messages`); got != 3 {
		t.Fatalf("message persisted despite quota: %d", got)
	}
	if srv.model.streamCalls() != 0 {
		t.Fatalf("model called despite quota")
	}

	// Messages older than a day fall out of the window.
	srv.handler.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	resp = postSSE(t, srv.router, "/api/chat", chatBody(chatID, "next day", "chat-model", "private"), authHeader)
	assertStatus(t, resp, http.StatusOK)
}

func TestGuestModelEntitlement(t *testing.T) {
	srv := newTestServer(t, true)
	resp := doJSONRequest(t, srv.router, http.MethodPost, "/api/users/guest", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		AuthToken string `json:"auth_token"`
		Type      string `json:"type"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	if body.Type != string(models.UserTypeGuest) {
		t.Fatalf("expected guest user, got %q", body.Type)
	}
	authHeader := bearer(body.AuthToken)

	resp = doJSONRequest(t, srv.router, http.MethodPost, "/api/chat", chatBody(uuid.NewString(), "hi", "openai-gpt4o", "private"), authHeader)
	assertStatus(t, resp, http.StatusForbidden)

	resp = postSSE(t, srv.router, "/api/chat", chatBody(uuid.NewString(), "hi", "chat-model", "private"), authHeader)
	assertStatus(t, resp, http.StatusOK)
}

func TestChatOwnership(t *testing.T) {
	srv := newTestServer(t, true)
	_, owner := registerAndLogin(t, srv.router)
	_, other := registerAndLogin(t, srv.router)

	private := uuid.NewString()
	assertStatus(t, postSSE(t, srv.router, "/api/chat", chatBody(private, "secret", "chat-model", "private"), owner), http.StatusOK)
	public := uuid.NewString()
	assertStatus(t, postSSE(t, srv.router, "/api/chat", chatBody(public, "hello all", "chat-model", "public"), owner), http.StatusOK)

	assertStatus(t, doJSONRequest(t, srv.router, http.MethodGet, "/api/chat?chatId="+private, nil, other), http.StatusForbidden)
	assertStatus(t, doJSONRequest(t, srv.router, http.MethodDelete, "/api/chat?id="+private, nil, other), http.StatusForbidden)
	assertStatus(t, doJSONRequest(t, srv.router, http.MethodGet, "/api/chat/"+private+"/messages", nil, other), http.StatusForbidden)
	assertStatus(t, doJSONRequest(t, srv.router, http.MethodPost, "/api/chat", chatBody(private, "let me in", "chat-model", "private"), other), http.StatusForbidden)

	assertStatus(t, doJSONRequest(t, srv.router, http.MethodGet, "/api/chat?chatId="+public, nil, other), http.StatusOK)
	assertStatus(t, doJSONRequest(t, srv.router, http.MethodGet, "/api/chat/"+public+"/messages", nil, other), http.StatusOK)
	assertStatus(t, doJSONRequest(t, srv.router, http.MethodDelete, "/api/chat?id="+public, nil, other), http.StatusForbidden)
}

func TestResumeChatPreconditions(t *testing.T) {
	srv := newTestServer(t, true)
	_, authHeader := registerAndLogin(t, srv.router)

	assertStatus(t, doJSONRequest(t, srv.router, http.MethodGet, "/api/chat", nil, authHeader), http.StatusBadRequest)
	assertStatus(t, doJSONRequest(t, srv.router, http.MethodGet, "/api/chat?chatId="+uuid.NewString(), nil, nil), http.StatusUnauthorized)
	assertStatus(t, doJSONRequest(t, srv.router, http.MethodGet, "/api/chat?chatId="+uuid.NewString(), nil, authHeader), http.StatusNotFound)

	userID := currentUser(t, srv, authHeader)
	chatID := uuid.NewString()
	if err := srv.chats.SaveChat(context.Background(), &models.Chat{ID: chatID, UserID: userID, Title: "t"}); err != nil {
		t.Fatalf("save chat: %v", err)
	}
	resp := doJSONRequest(t, srv.router, http.MethodGet, "/api/chat?chatId="+chatID, nil, authHeader)
	assertStatus(t, resp, http.StatusNotFound)

	disabled := newTestServer(t, false)
	_, h2 := registerAndLogin(t, disabled.router)
	assertStatus(t, doJSONRequest(t, disabled.router, http.MethodGet, "/api/chat?chatId="+uuid.NewString(), nil, h2), http.StatusNoContent)
}

func TestResumeContinuesLiveStream(t *testing.T) {
	srv := newTestServer(t, true)
	_, authHeader := registerAndLogin(t, srv.router)
	gate := make(chan struct{})
	srv.model.setScript([]string{"one ", "two ", "three ", "four"}, gate, 2)
	chatID := uuid.NewString()

	var wg sync.WaitGroup
	postRec := newNotifyingRecorder()
	wg.Add(1)
	go func() {
		defer wg.Done()
		serve(srv.router, http.MethodPost, "/api/chat", chatBody(chatID, "count", "chat-model", "private"), authHeader, postRec)
	}()

	// start-step plus two text deltas are stored before the model stalls.
	var streamID string
	waitFor(t, func() bool {
		ids, err := srv.chats.GetStreamIDsByChatID(context.Background(), chatID)
		if err != nil || len(ids) == 0 {
			return false
		}
		streamID = ids[len(ids)-1]
		frames, _ := srv.store.Range(context.Background(), streamID, 0)
		return len(frames) >= 3
	})

	getRec := newNotifyingRecorder()
	headers := map[string]string{"Last-Event-ID": "1"}
	for k, v := range authHeader {
		headers[k] = v
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		serve(srv.router, http.MethodGet, "/api/chat?chatId="+chatID, nil, headers, getRec)
	}()
	select {
	case <-getRec.wrote:
	case <-time.After(5 * time.Second):
		t.Fatalf("reconnect did not attach")
	}
	close(gate)
	wg.Wait()

	full := parseSSE(t, postRec.Body.String())
	tail := parseSSE(t, getRec.Body.String())
	if len(full) < 4 || len(tail) != len(full)-2 {
		t.Fatalf("unexpected frame counts: full=%d tail=%d", len(full), len(tail))
	}
	for i, ev := range tail {
		if ev != full[i+2] {
			t.Fatalf("frame %d differs: %+v vs %+v", i, ev, full[i+2])
		}
	}
	if tail[0].ID != "2" {
		t.Fatalf("expected resume to start after Last-Event-ID, got id %s", tail[0].ID)
	}
}

func TestResumeGraceWindow(t *testing.T) {
	srv := newTestServer(t, true)
	_, authHeader := registerAndLogin(t, srv.router)
	userID := currentUser(t, srv, authHeader)
	ctx := context.Background()

	chatID := uuid.NewString()
	if err := srv.chats.SaveChat(ctx, &models.Chat{ID: chatID, UserID: userID, Title: "t"}); err != nil {
		t.Fatalf("save chat: %v", err)
	}
	streamID := uuid.NewString()
	if err := srv.chats.CreateStreamID(ctx, streamID, chatID); err != nil {
		t.Fatalf("create stream: %v", err)
	}
	persistedAt := time.Now().UTC().Truncate(time.Second)
	if err := srv.chats.SaveMessages(ctx, &models.Message{
		ID: uuid.NewString(), ChatID: chatID, Role: models.RoleAssistant,
		Parts: []models.Part{{Type: models.PartText, Text: "done already"}}, CreatedAt: persistedAt,
	}); err != nil {
		t.Fatalf("save message: %v", err)
	}

	for _, finished := range []bool{false, true} {
		if finished {
			if err := srv.store.Create(ctx, streamID); err != nil {
				t.Fatalf("create: %v", err)
			}
			if err := srv.store.Finish(ctx, streamID); err != nil {
				t.Fatalf("finish: %v", err)
			}
		}

		srv.handler.now = func() time.Time { return persistedAt.Add(10 * time.Second) }
		resp := doJSONRequest(t, srv.router, http.MethodGet, "/api/chat?chatId="+chatID, nil, authHeader)
		assertStatus(t, resp, http.StatusOK)
		events := parseSSE(t, resp.Body.String())
		if len(events) != 1 || events[0].Name != "append-message" {
			t.Fatalf("finished=%v: expected one append-message event, got %+v", finished, events)
		}
		var payload struct {
			Message models.Message `json:"message"`
		}
		decodeJSON(t, []byte(events[0].Data), &payload)
		if payload.Message.Text() != "done already" {
			t.Fatalf("unexpected synthesized message: %+v", payload.Message)
		}

		srv.handler.now = func() time.Time { return persistedAt.Add(20 * time.Second) }
		resp = doJSONRequest(t, srv.router, http.MethodGet, "/api/chat?chatId="+chatID, nil, authHeader)
		assertStatus(t, resp, http.StatusOK)
		if strings.TrimSpace(resp.Body.String()) != "" {
			t.Fatalf("finished=%v: expected empty body, got %q", finished, resp.Body.String())
		}
	}
}

func TestDeleteChat(t *testing.T) {
	srv := newTestServer(t, true)
	_, authHeader := registerAndLogin(t, srv.router)
	chatID := uuid.NewString()
	assertStatus(t, postSSE(t, srv.router, "/api/chat", chatBody(chatID, "bye", "chat-model", "private"), authHeader), http.StatusOK)

	assertStatus(t, doJSONRequest(t, srv.router, http.MethodDelete, "/api/chat", nil, authHeader), http.StatusNotFound)
	assertStatus(t, doJSONRequest(t, srv.router, http.MethodDelete, "/api/chat?id="+chatID, nil, nil), http.StatusUnauthorized)

	resp := doJSONRequest(t, srv.router, http.MethodDelete, "/api/chat?id="+chatID, nil, authHeader)
	assertStatus(t, resp, http.StatusOK)
	var deleted models.Chat
	decodeJSON(t, resp.Body.Bytes(), &deleted)
	if deleted.ID != chatID {
		t.Fatalf("expected deleted chat in response, got %+v", deleted)
	}
	if got := countRows(t, srv.db, `SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID); got != 0 {
		t.Fatalf("messages left after delete: %d", got)
	}
	assertStatus(t, doJSONRequest(t, srv.router, http.MethodDelete, "/api/chat?id="+chatID, nil, authHeader), http.StatusNotFound)
}

func TestListModels(t *testing.T) {
	srv := newTestServer(t, true)
	assertStatus(t, doJSONRequest(t, srv.router, http.MethodGet, "/api/models", nil, nil), http.StatusUnauthorized)

	_, authHeader := registerAndLogin(t, srv.router)
	resp := doJSONRequest(t, srv.router, http.MethodGet, "/api/models", nil, authHeader)
	assertStatus(t, resp, http.StatusOK)
	var body struct {
		Providers []catalog.Group `json:"providers"`
	}
	decodeJSON(t, resp.Body.Bytes(), &body)
	total := 0
	for _, g := range body.Providers {
		total += len(g.Models)
	}
	if total != len(provider.StaticModels) {
		t.Fatalf("expected built-in models, got %d", total)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	srv := newTestServer(t, true)
	rec := doJSONRequest(t, srv.router, http.MethodGet, "/healthz", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	if _, err := uuid.Parse(rec.Header().Get("X-Request-Id")); err != nil {
		t.Fatalf("expected generated request id, got %q", rec.Header().Get("X-Request-Id"))
	}
	id := uuid.NewString()
	rec = doJSONRequest(t, srv.router, http.MethodGet, "/healthz", nil, map[string]string{"X-Request-Id": id})
	if rec.Header().Get("X-Request-Id") != id {
		t.Fatalf("expected request id to be propagated")
	}
}

// test server

type testServer struct {
	router  *gin.Engine
	db      *sql.DB
	handler *Handler
	chats   *chat.Service
	model   *scriptedModel
	store   *resumable.MemoryStore
	jobs    *cancelRecorder
}

type cancelRecorder struct {
	mu        sync.Mutex
	cancelled []int64
}

func (r *cancelRecorder) CancelUser(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, userID)
}

func (r *cancelRecorder) users() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.cancelled...)
}

type fakeProvider struct{ model *scriptedModel }

func (p fakeProvider) Slug() string { return "fake" }

func (p fakeProvider) ConstructModel(ctx context.Context, nativeID string) (model.ToolCallingChatModel, error) {
	return p.model, nil
}

func newTestServer(t *testing.T, resumableStreams bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	chats := chat.NewService(db)
	fake := &scriptedModel{chunks: []string{"Hello ", "there!"}}
	reg := provider.NewRegistry("fake", "fake-1", nil)
	reg.Register(fakeProvider{model: fake})

	srv := &testServer{db: db, chats: chats, model: fake}
	var streams *resumable.Lazy
	if resumableStreams {
		srv.store = resumable.NewMemoryStore(time.Hour)
		streams = resumable.NewLazy(func() (*resumable.Context, error) {
			return resumable.NewContext(srv.store, resumable.WithTimeout(10*time.Second)), nil
		}, nil)
	}

	srv.jobs = &cancelRecorder{}
	srv.handler = NewHandler(Deps{
		Chats:        chats,
		Auth:         auth.NewService(db, nil, time.Hour),
		Resolver:     resolver.New(reg, resolver.Options{Store: chats}),
		Prompts:      prompt.NewBuilder(chats, nil),
		Orchestrator: orchestrator.New(nil, chats, nil),
		Streams:      streams,
		Catalog:      catalog.New(chats, nil),
		Entitlements: entitlement.FromConfig(map[string]config.EntitlementRule{
			"guest":   {MaxMessagesPerDay: 2, AvailableModelIDs: []string{"chat-model"}},
			"regular": {MaxMessagesPerDay: 3, AvailableModelIDs: []string{"*"}},
		}),
		Jobs:       srv.jobs,
		TitleModel: fake,
	})

	srv.router = gin.New()
	srv.router.Use(RequestIDMiddleware())
	srv.handler.RegisterRoutes(srv.router)
	return srv
}

type scriptedModel struct {
	mu        sync.Mutex
	chunks    []string
	gate      chan struct{}
	gateAt    int
	streams   int
	lastInput int
}

func (m *scriptedModel) setScript(chunks []string, gate chan struct{}, gateAt int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks, m.gate, m.gateAt = chunks, gate, gateAt
}

func (m *scriptedModel) streamCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams
}

func (m *scriptedModel) lastInputLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastInput
}

func (m *scriptedModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return schema.AssistantMessage("Greeting Bob", nil), nil
}

func (m *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.mu.Lock()
	m.streams++
	m.lastInput = len(input)
	chunks, gate, gateAt := m.chunks, m.gate, m.gateAt
	m.mu.Unlock()

	sr, sw := schema.Pipe[*schema.Message](len(chunks))
	go func() {
		defer sw.Close()
		for i, c := range chunks {
			if gate != nil && i == gateAt {
				<-gate
			}
			sw.Send(schema.AssistantMessage(c, nil), nil)
		}
	}()
	return sr, nil
}

func (m *scriptedModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

// notifyingRecorder signals its first write so tests can sequence a
// concurrent reconnect.
type notifyingRecorder struct {
	*httptest.ResponseRecorder
	once  sync.Once
	wrote chan struct{}
}

func newNotifyingRecorder() *notifyingRecorder {
	return &notifyingRecorder{ResponseRecorder: httptest.NewRecorder(), wrote: make(chan struct{})}
}

func (r *notifyingRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseRecorder.Write(b)
	r.once.Do(func() { close(r.wrote) })
	return n, err
}

// helpers

func chatBody(chatID, text, modelID, visibility string) map[string]any {
	return map[string]any{
		"id": chatID,
		"message": map[string]any{
			"id":          uuid.NewString(),
			"createdAt":   time.Now().UTC().Format(time.RFC3339),
			"role":        "user",
			"content":     text,
			"parts":       []any{map[string]any{"type": "text", "text": text}},
			"attachments": []any{},
		},
		"selectedChatModel":      modelID,
		"selectedVisibilityType": visibility,
	}
}

func msg(body map[string]any) map[string]any {
	return body["message"].(map[string]any)
}

func attachment(contentType string) map[string]any {
	return map[string]any{"url": "https://files.example.com/a", "name": "a", "contentType": contentType}
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func currentUser(t *testing.T, srv *testServer, headers map[string]string) int64 {
	t.Helper()
	token := strings.TrimPrefix(headers["Authorization"], "Bearer ")
	id, err := srv.handler.auth.ValidateToken(context.Background(), token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	return id
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

type sseEvent struct {
	ID   string
	Name string
	Data string
}

func parseSSE(t *testing.T, payload string) []sseEvent {
	t.Helper()
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}
	chunks := strings.Split(payload, "\n\n")
	var events []sseEvent
	for _, chunk := range chunks {
		lines := strings.Split(strings.TrimSpace(chunk), "\n")
		if len(lines) == 0 {
			continue
		}
		var evt sseEvent
		for _, line := range lines {
			switch {
			case strings.HasPrefix(line, "id:"):
				evt.ID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
			case strings.HasPrefix(line, "event:"):
				evt.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if evt.Data == "" {
					evt.Data = data
				} else {
					evt.Data += "\n" + data
				}
			}
		}
		events = append(events, evt)
	}
	return events
}

func eventNames(events []sseEvent) []string {
	names := make([]string, 0, len(events))
	for _, e := range events {
		names = append(names, e.Name)
	}
	return names
}

func serve(router *gin.Engine, method, path string, body interface{}, headers map[string]string, w http.ResponseWriter) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	router.ServeHTTP(w, req)
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	serve(router, method, path, body, headers, rec)
	return rec
}

func postSSE(t *testing.T, router *gin.Engine, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	return doJSONRequest(t, router, http.MethodPost, path, body, headers)
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var count int
	if err := db.QueryRow(query, args...).Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return count
}

func registerAndLogin(t *testing.T, router *gin.Engine) (int64, map[string]string) {
	t.Helper()
	email := fmt.Sprintf("tester_%d@example.org", time.Now().UnixNano())
	password := "pass123"
	regResp := doJSONRequest(t, router, http.MethodPost, "/api/users/register", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	assertStatus(t, regResp, http.StatusCreated)
	var regBody struct {
		ID int64 `json:"id"`
	}
	decodeJSON(t, regResp.Body.Bytes(), &regBody)

	loginResp := doJSONRequest(t, router, http.MethodPost, "/api/users/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	assertStatus(t, loginResp, http.StatusOK)
	var loginBody struct {
		AuthToken string `json:"auth_token"`
	}
	decodeJSON(t, loginResp.Body.Bytes(), &loginBody)
	if loginBody.AuthToken == "" {
		t.Fatalf("expected auth token after login")
	}
	return regBody.ID, bearer(loginBody.AuthToken)
}
