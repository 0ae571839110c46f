package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/newsrag/models"
	"github.com/mohammad-safakhou/newsrag/provider"
)

type fakeProvider struct {
	embedErr    error
	generateOut string
	failSoft    bool

	lastContext string
	lastQuery   string
}

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return []float32{0.1, 0.2}, nil
}

func (f *fakeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, []int, error) {
	return nil, nil, fmt.Errorf("not used")
}

func (f *fakeProvider) Generate(ctx context.Context, query, contextBlock string) string {
	f.lastQuery = query
	f.lastContext = contextBlock
	if f.failSoft {
		// The real client swallows failures and returns the fallback.
		return provider.FallbackResponse
	}
	return f.generateOut
}

type fakeSearchStore struct {
	results   []models.SearchResult
	searchErr error
	count     uint64
	countOK   bool
}

func (f *fakeSearchStore) Search(ctx context.Context, vector []float32, topK int, threshold float32) ([]models.SearchResult, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.results, nil
}

func (f *fakeSearchStore) Count(ctx context.Context) (uint64, bool) { return f.count, f.countOK }

type fakeSessions struct {
	histories map[string][]models.ChatMessage
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{histories: map[string][]models.ChatMessage{}}
}

func (f *fakeSessions) AppendMessage(ctx context.Context, id string, msg models.ChatMessage) error {
	f.histories[id] = append(f.histories[id], msg)
	return nil
}

func (f *fakeSessions) History(ctx context.Context, id string) ([]models.ChatMessage, error) {
	msgs := f.histories[id]
	if msgs == nil {
		return []models.ChatMessage{}, nil
	}
	return msgs, nil
}

func (f *fakeSessions) Clear(ctx context.Context, id string) error {
	delete(f.histories, id)
	return nil
}

func (f *fakeSessions) Info(ctx context.Context, id string) (models.SessionInfo, bool, error) {
	msgs, ok := f.histories[id]
	if !ok {
		return models.SessionInfo{}, false, nil
	}
	return models.SessionInfo{
		LastActivity: msgs[len(msgs)-1].Timestamp,
		MessageCount: int64(len(msgs)),
	}, true, nil
}

func newTestHandler(p *fakeProvider, s *fakeSearchStore, sess *fakeSessions) *ChatHandler {
	return &ChatHandler{
		Provider:       p,
		Store:          s,
		Sessions:       sess,
		TopK:           5,
		ScoreThreshold: 0.3,
	}
}

func doChat(t *testing.T, h *ChatHandler, body string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return rec, h.chat(e.NewContext(req, rec))
}

func TestChatRejectsMissingFields(t *testing.T) {
	h := newTestHandler(&fakeProvider{}, &fakeSearchStore{}, newFakeSessions())

	for _, body := range []string{`{}`, `{"sessionId":"s1"}`, `{"message":"hi"}`, `{"sessionId":"s1","message":"  "}`} {
		_, err := doChat(t, h, body)
		he, ok := err.(*echo.HTTPError)
		if !ok || he.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %v", body, err)
		}
	}
}

func TestChatAssemblesContextFromSearchResults(t *testing.T) {
	const seeded = "Market rally continues amid rate cut hopes"
	p := &fakeProvider{generateOut: "Rates look set to fall."}
	store := &fakeSearchStore{results: []models.SearchResult{
		{ID: 1, Score: 0.9, Payload: models.Payload{Content: seeded, Source: "Reuters"}},
	}}
	sessions := newFakeSessions()
	h := newTestHandler(p, store, sessions)

	rec, err := doChat(t, h, `{"sessionId":"s1","message":"What's happening with rates?"}`)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(p.lastContext, seeded) {
		t.Fatalf("generation did not receive seeded content, got context %q", p.lastContext)
	}
	if p.lastQuery != "What's happening with rates?" {
		t.Fatalf("unexpected query passed to generation: %q", p.lastQuery)
	}

	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Response != "Rates look set to fall." || resp.SessionID != "s1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(resp.Sources) != 1 || resp.Sources[0] != "Reuters" {
		t.Fatalf("unexpected sources: %v", resp.Sources)
	}

	history := sessions.histories["s1"]
	if len(history) != 1 || history[0].Bot != "Rates look set to fall." {
		t.Fatalf("exchange not stored: %+v", history)
	}
}

func TestChatContextJoinsResultsWithBlankLines(t *testing.T) {
	p := &fakeProvider{generateOut: "ok"}
	store := &fakeSearchStore{results: []models.SearchResult{
		{Score: 0.9, Payload: models.Payload{Content: "first"}},
		{Score: 0.8, Payload: models.Payload{Content: "second"}},
	}}
	h := newTestHandler(p, store, newFakeSessions())

	if _, err := doChat(t, h, `{"sessionId":"s1","message":"q"}`); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if p.lastContext != "first\n\nsecond" {
		t.Fatalf("unexpected context assembly: %q", p.lastContext)
	}
}

func TestChatGenerationFailureStillReturns200(t *testing.T) {
	p := &fakeProvider{failSoft: true}
	sessions := newFakeSessions()
	h := newTestHandler(p, &fakeSearchStore{}, sessions)

	rec, err := doChat(t, h, `{"sessionId":"s1","message":"hello"}`)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 despite generation failure, got %d", rec.Code)
	}

	var resp chatResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Response != provider.FallbackResponse {
		t.Fatalf("expected fallback text, got %q", resp.Response)
	}
	history := sessions.histories["s1"]
	if len(history) != 1 || history[0].Bot != provider.FallbackResponse {
		t.Fatalf("fallback not stored as bot message: %+v", history)
	}
}

func TestChatEmbedFailureIs500(t *testing.T) {
	p := &fakeProvider{embedErr: fmt.Errorf("provider down")}
	h := newTestHandler(p, &fakeSearchStore{}, newFakeSessions())

	_, err := doChat(t, h, `{"sessionId":"s1","message":"hello"}`)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", err)
	}
	if fmt.Sprint(he.Message) != "failed to process message" {
		t.Fatalf("unexpected error message: %v", he.Message)
	}
}

func TestChatSearchFailureIs500(t *testing.T) {
	store := &fakeSearchStore{searchErr: fmt.Errorf("qdrant down")}
	h := newTestHandler(&fakeProvider{}, store, newFakeSessions())

	_, err := doChat(t, h, `{"sessionId":"s1","message":"hello"}`)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", err)
	}
}

func TestChatTwiceKeepsHistoryInOrder(t *testing.T) {
	p := &fakeProvider{generateOut: "answer"}
	sessions := newFakeSessions()
	h := newTestHandler(p, &fakeSearchStore{}, sessions)

	for _, msg := range []string{"first question", "second question"} {
		if _, err := doChat(t, h, fmt.Sprintf(`{"sessionId":"s1","message":"%s"}`, msg)); err != nil {
			t.Fatalf("chat %q: %v", msg, err)
		}
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("sessionId")
	ctx.SetParamValues("s1")
	if err := h.history(ctx); err != nil {
		t.Fatalf("history: %v", err)
	}

	var resp struct {
		History []models.ChatMessage `json:"history"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(resp.History) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(resp.History))
	}
	if resp.History[0].User != "first question" || resp.History[1].User != "second question" {
		t.Fatalf("history out of order: %+v", resp.History)
	}
}

func TestHistoryUnknownSessionIsEmptyList(t *testing.T) {
	h := newTestHandler(&fakeProvider{}, &fakeSearchStore{}, newFakeSessions())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("sessionId")
	ctx.SetParamValues("never-created")
	if err := h.history(ctx); err != nil {
		t.Fatalf("history: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"history":[]}` {
		t.Fatalf("expected empty history list, got %s", got)
	}
}

func TestClearHistoryThenEmpty(t *testing.T) {
	sessions := newFakeSessions()
	sessions.histories["s1"] = []models.ChatMessage{{User: "q", Bot: "a", Timestamp: time.Now()}}
	h := newTestHandler(&fakeProvider{}, &fakeSearchStore{}, sessions)

	e := echo.New()
	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("sessionId")
	ctx.SetParamValues("s1")
	if err := h.clearHistory(ctx); err != nil {
		t.Fatalf("clearHistory: %v", err)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"success":true}` {
		t.Fatalf("unexpected body: %s", got)
	}

	if msgs, _ := sessions.History(context.Background(), "s1"); len(msgs) != 0 {
		t.Fatalf("history survived clear: %+v", msgs)
	}
	if _, ok, _ := sessions.Info(context.Background(), "s1"); ok {
		t.Fatal("session metadata survived clear")
	}
}

func TestNewSessionIssuesID(t *testing.T) {
	h := newTestHandler(&fakeProvider{}, &fakeSearchStore{}, newFakeSessions())

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/session", nil)
	rec := httptest.NewRecorder()
	if err := h.newSession(e.NewContext(req, rec)); err != nil {
		t.Fatalf("newSession: %v", err)
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["sessionId"] == "" {
		t.Fatal("expected a session id")
	}
}

func TestHealthReportsDocumentCount(t *testing.T) {
	h := newTestHandler(&fakeProvider{}, &fakeSearchStore{count: 42, countOK: true}, newFakeSessions())

	e := echo.New()
	rec := httptest.NewRecorder()
	if err := h.health(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
		t.Fatalf("health: %v", err)
	}

	var resp map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != "OK" {
		t.Fatalf("unexpected status: %v", resp["status"])
	}
	if resp["documents"] != float64(42) {
		t.Fatalf("unexpected documents: %v", resp["documents"])
	}
}

func TestHealthWhenCountUnavailable(t *testing.T) {
	h := newTestHandler(&fakeProvider{}, &fakeSearchStore{countOK: false}, newFakeSessions())

	e := echo.New()
	rec := httptest.NewRecorder()
	if err := h.health(e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)); err != nil {
		t.Fatalf("health: %v", err)
	}

	var resp map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["documents"] != "unavailable" {
		t.Fatalf("expected documents unavailable, got %v", resp["documents"])
	}
}
