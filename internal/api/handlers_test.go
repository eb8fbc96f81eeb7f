package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/quintal/alix/internal/analysis"
	"github.com/quintal/alix/internal/assistant"
	"github.com/quintal/alix/internal/composer"
	"github.com/quintal/alix/internal/llm"
	"github.com/quintal/alix/internal/profile"
	"github.com/quintal/alix/internal/search"
	"github.com/quintal/alix/internal/storage"
)

const testToken = "test-token-12345"

// stubChatter answers the three prompt shapes the pipeline produces:
// conversation (leading system message), profile extraction, analysis.
type stubChatter struct {
	reply string
}

func (c *stubChatter) Chat(_ context.Context, messages []llm.Message, _ int, _ float64) (string, error) {
	last := messages[len(messages)-1].Content
	switch {
	case messages[0].Role == llm.RoleSystem:
		return c.reply, nil
	case strings.HasPrefix(last, "Message utilisateur"):
		return "{}", nil
	default:
		return "Bon rapport qualité-prix pour cet usage.", nil
	}
}

type stubSearcher struct {
	products []search.Product
	cached   bool
	err      error

	lastQuery string
	lastMin   float64
	lastMax   float64
	lastN     int
}

func (s *stubSearcher) Search(_ context.Context, query string, minPrice, maxPrice float64, n int) ([]search.Product, bool, error) {
	s.lastQuery = query
	s.lastMin = minPrice
	s.lastMax = maxPrice
	s.lastN = n
	if s.err != nil {
		return nil, false, s.err
	}
	return s.products, s.cached, nil
}

type testApp struct {
	handler  http.Handler
	store    *storage.Store
	chatter  *stubChatter
	searcher *stubSearcher
}

func setupAppHandler(t *testing.T, token string) *testApp {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	chatter := &stubChatter{reply: "Très bon choix ! Quel est votre budget ? 😊"}
	searcher := &stubSearcher{products: []search.Product{
		{Title: "Casque Alpha", Price: 89.99, PriceLabel: "$89.99", Rating: 4.5, ReviewsCount: 1200},
		{Title: "Casque Beta", Price: 119, PriceLabel: "$119.00", Rating: 4.2, ReviewsCount: 640},
	}}

	profiles := profile.NewManager(store)
	asst := assistant.New(
		store,
		chatter,
		searcher,
		composer.New(8),
		profiles,
		profile.NewUpdater(chatter),
		analysis.NewAnalyzer(chatter),
		4,
	)

	handler := NewAppHandler(AppDeps{
		Store:     store,
		Assistant: asst,
		Profiles:  profiles,
		Searcher:  searcher,
		Token:     token,
	})
	return &testApp{handler: handler, store: store, chatter: chatter, searcher: searcher}
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func createSession(t *testing.T, app *testApp, title string) string {
	t.Helper()
	body := ""
	if title != "" {
		body = `{"title":"` + title + `"}`
	}
	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/v1/sessions", body, testToken)
	app.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("create session status = %d, want %d; body = %s", rr.Code, http.StatusCreated, rr.Body.String())
	}

	var detail SessionDetail
	if err := json.NewDecoder(rr.Body).Decode(&detail); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if detail.Session.ID == "" {
		t.Fatal("create response missing session ID")
	}
	return detail.Session.ID
}

func TestHealth_NoAuth(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	app.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if body := strings.TrimSpace(rr.Body.String()); body != `{"status":"ok"}` {
		t.Errorf("body = %q, want %q", body, `{"status":"ok"}`)
	}
}

func TestSessions_NoAuth(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/v1/sessions", "", "")
	app.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestSessions_WrongToken(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/v1/sessions", "", "not-the-token")
	app.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestCreateSession(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/v1/sessions", `{"title":"Casque télétravail"}`, testToken)
	app.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusCreated, rr.Body.String())
	}

	var detail SessionDetail
	if err := json.NewDecoder(rr.Body).Decode(&detail); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if detail.Session.Title != "Casque télétravail" {
		t.Errorf("Title = %q, want %q", detail.Session.Title, "Casque télétravail")
	}
	if len(detail.Turns) != 1 {
		t.Fatalf("got %d turns, want 1 welcome turn", len(detail.Turns))
	}
	if detail.Turns[0].Role != "assistant" {
		t.Errorf("welcome turn role = %q, want %q", detail.Turns[0].Role, "assistant")
	}
	if !strings.Contains(detail.Turns[0].Content, "Alex") {
		t.Errorf("welcome turn does not introduce the advisor: %q", detail.Turns[0].Content)
	}
}

func TestCreateSession_EmptyBody(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/v1/sessions", "", testToken)
	app.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
}

func TestListSessions_Empty(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/v1/sessions", "", testToken)
	app.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if body := strings.TrimSpace(rr.Body.String()); body != "[]" {
		t.Errorf("body = %q, want %q", body, "[]")
	}
}

func TestListSessions_Limit(t *testing.T) {
	app := setupAppHandler(t, testToken)

	for _, title := range []string{"a", "b", "c"} {
		createSession(t, app, title)
	}

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/v1/sessions?limit=2", "", testToken)
	app.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var sessions []storage.Session
	if err := json.NewDecoder(rr.Body).Decode(&sessions); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
}

func TestGetSession(t *testing.T) {
	app := setupAppHandler(t, testToken)
	id := createSession(t, app, "Vélo")

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/v1/sessions/"+id, "", testToken)
	app.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var detail SessionDetail
	if err := json.NewDecoder(rr.Body).Decode(&detail); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if detail.Session.ID != id {
		t.Errorf("ID = %q, want %q", detail.Session.ID, id)
	}
	if len(detail.Turns) != 1 {
		t.Errorf("got %d turns, want 1", len(detail.Turns))
	}
}

func TestGetSession_NotFound(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/v1/sessions/nonexistent", "", testToken)
	app.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestDeleteSession(t *testing.T) {
	app := setupAppHandler(t, testToken)
	id := createSession(t, app, "")

	rr := httptest.NewRecorder()
	req := authReq(http.MethodDelete, "/v1/sessions/"+id, "", testToken)
	app.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp map[string]string
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["status"] != "deleted" {
		t.Errorf("status = %q, want %q", resp["status"], "deleted")
	}

	rr = httptest.NewRecorder()
	req = authReq(http.MethodGet, "/v1/sessions/"+id, "", testToken)
	app.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status after delete = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestDeleteSession_NotFound(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodDelete, "/v1/sessions/nonexistent", "", testToken)
	app.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestPostMessage(t *testing.T) {
	app := setupAppHandler(t, testToken)
	id := createSession(t, app, "")

	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/v1/sessions/"+id+"/messages", `{"message":"Je cherche un casque"}`, testToken)
	app.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp assistant.Response
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SessionID != id {
		t.Errorf("SessionID = %q, want %q", resp.SessionID, id)
	}
	if resp.Reply != app.chatter.reply {
		t.Errorf("Reply = %q, want %q", resp.Reply, app.chatter.reply)
	}
	if resp.Meta.SearchTriggered {
		t.Error("SearchTriggered = true for a plain reply")
	}

	turns, err := app.store.ListTurns(id)
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3 (welcome, user, assistant)", len(turns))
	}
}

func TestPostMessage_TriggersSearch(t *testing.T) {
	app := setupAppHandler(t, testToken)
	app.chatter.reply = "Parfait ! Cherchons un casque audio entre 50 et 150 😊"
	id := createSession(t, app, "")

	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/v1/sessions/"+id+"/messages", `{"message":"Vas-y"}`, testToken)
	app.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp assistant.Response
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Meta.SearchTriggered {
		t.Fatal("SearchTriggered = false, want true")
	}
	if resp.Search == nil || resp.Search.Query != "un casque audio" {
		t.Fatalf("Search = %+v, want query %q", resp.Search, "un casque audio")
	}
	if len(resp.Products) != 2 {
		t.Fatalf("got %d products, want 2", len(resp.Products))
	}
	for _, p := range resp.Products {
		if p.Analysis == "" {
			t.Errorf("product %q missing analysis", p.Title)
		}
	}
	if app.searcher.lastQuery != "un casque audio" {
		t.Errorf("searcher query = %q, want %q", app.searcher.lastQuery, "un casque audio")
	}
}

func TestPostMessage_MissingMessage(t *testing.T) {
	app := setupAppHandler(t, testToken)
	id := createSession(t, app, "")

	for _, body := range []string{`{"message":"  "}`, `{}`, `not json`} {
		rr := httptest.NewRecorder()
		req := authReq(http.MethodPost, "/v1/sessions/"+id+"/messages", body, testToken)
		app.handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want %d", body, rr.Code, http.StatusBadRequest)
		}
	}
}

func TestPostMessage_SessionNotFound(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/v1/sessions/nonexistent/messages", `{"message":"Bonjour"}`, testToken)
	app.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestResetSession(t *testing.T) {
	app := setupAppHandler(t, testToken)
	id := createSession(t, app, "")

	rr := httptest.NewRecorder()
	req := authReq(http.MethodPost, "/v1/sessions/"+id+"/messages", `{"message":"Bonjour"}`, testToken)
	app.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("message status = %d, want %d", rr.Code, http.StatusOK)
	}

	rr = httptest.NewRecorder()
	req = authReq(http.MethodPost, "/v1/sessions/"+id+"/reset", "", testToken)
	app.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("reset status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp map[string]string
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["status"] != "reset" {
		t.Errorf("status = %q, want %q", resp["status"], "reset")
	}

	turns, err := app.store.ListTurns(id)
	if err != nil {
		t.Fatalf("ListTurns: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("got %d turns after reset, want 1 welcome turn", len(turns))
	}
}

func TestProfileRoundTrip(t *testing.T) {
	app := setupAppHandler(t, testToken)
	id := createSession(t, app, "")

	rr := httptest.NewRecorder()
	req := authReq(http.MethodPatch, "/v1/sessions/"+id+"/profile", `{"budget":150,"usage":"télétravail"}`, testToken)
	app.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("PATCH status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var patchResp map[string]string
	json.NewDecoder(rr.Body).Decode(&patchResp)
	if patchResp["status"] != "updated" {
		t.Errorf("PATCH status = %q, want %q", patchResp["status"], "updated")
	}

	rr = httptest.NewRecorder()
	req = authReq(http.MethodGet, "/v1/sessions/"+id+"/profile", "", testToken)
	app.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want %d", rr.Code, http.StatusOK)
	}

	var known map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&known); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if known["budget"] != "150" {
		t.Errorf("budget = %q, want %q", known["budget"], "150")
	}
	if known["usage"] != "télétravail" {
		t.Errorf("usage = %q, want %q", known["usage"], "télétravail")
	}
}

func TestProfile_SessionNotFound(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/v1/sessions/nonexistent/profile", "", testToken)
	app.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("GET status = %d, want %d", rr.Code, http.StatusNotFound)
	}

	rr = httptest.NewRecorder()
	req = authReq(http.MethodPatch, "/v1/sessions/nonexistent/profile", `{"budget":"150"}`, testToken)
	app.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("PATCH status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestSearchEndpoint(t *testing.T) {
	app := setupAppHandler(t, testToken)
	app.searcher.cached = true

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/v1/search?q=casque+audio&min=50&max=150&n=2", "", testToken)
	app.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp SearchResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Query != "casque audio" {
		t.Errorf("Query = %q, want %q", resp.Query, "casque audio")
	}
	if resp.MinPrice != 50 || resp.MaxPrice != 150 {
		t.Errorf("price range = %v..%v, want 50..150", resp.MinPrice, resp.MaxPrice)
	}
	if !resp.CacheHit {
		t.Error("CacheHit = false, want true")
	}
	if len(resp.Products) != 2 {
		t.Fatalf("got %d products, want 2", len(resp.Products))
	}
	if app.searcher.lastN != 2 {
		t.Errorf("searcher n = %d, want 2", app.searcher.lastN)
	}
	if app.searcher.lastMin != 50 || app.searcher.lastMax != 150 {
		t.Errorf("searcher range = %v..%v, want 50..150", app.searcher.lastMin, app.searcher.lastMax)
	}
}

func TestSearchEndpoint_Defaults(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/v1/search?q=souris", "", testToken)
	app.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if app.searcher.lastMin != 0 || app.searcher.lastMax != 1000 {
		t.Errorf("searcher range = %v..%v, want 0..1000", app.searcher.lastMin, app.searcher.lastMax)
	}
	if app.searcher.lastN != 4 {
		t.Errorf("searcher n = %d, want 4", app.searcher.lastN)
	}
}

func TestSearchEndpoint_MissingQuery(t *testing.T) {
	app := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/v1/search", "", testToken)
	app.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestSearchEndpoint_UpstreamError(t *testing.T) {
	app := setupAppHandler(t, testToken)
	app.searcher.err = errors.New("serpapi unreachable")

	rr := httptest.NewRecorder()
	req := authReq(http.MethodGet, "/v1/search?q=casque", "", testToken)
	app.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadGateway)
	}
}
