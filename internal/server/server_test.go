package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/app"
	"caseline/internal/config"
	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/migrate"
	"caseline/internal/repo"
	caselinesdk "caseline/sdk/go"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
}

func newTestServer(t *testing.T, tweak ...func(*config.Config)) *testServer {
	t.Helper()
	workspace := t.TempDir()
	_, err := db.EnsureWorkspace(workspace)
	require.NoError(t, err)
	cfg := config.Default("colegio-test")
	for _, fn := range tweak {
		fn(cfg)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))
	e := engine.New(conn, cfg)

	ctx := context.Background()
	for actor, role := range map[string]string{
		"ana":   "docente",
		"luis":  "docente",
		"maria": "supervisor",
		"rosa":  "psicologo",
		"jorge": "admin",
	} {
		_, err := app.EnsureActor(ctx, e.Repo, cfg, actor, role, "")
		require.NoError(t, err)
	}

	handler, err := New(Config{
		Engine: e,
		Auth:   AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true, EnableDevLogin: true},
	})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
		e.Wait()
		conn.Close()
	})
	return &testServer{URL: "http://" + ln.Addr().String(), Engine: e, client: &http.Client{}}
}

func (s *testServer) do(t *testing.T, method, path, actor string, body any) (*http.Response, []byte) {
	t.Helper()
	var headers map[string]string
	if actor != "" {
		headers = map[string]string{"X-Actor-Id": actor}
	}
	return doJSON(t, s.client, method, s.URL+path, body, headers)
}

func doJSON(t *testing.T, client *http.Client, method, target string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	reader := bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, target, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func studentCase() map[string]any {
	return map[string]any{
		"type":          "student",
		"incident_date": "2025-03-09",
		"category_id":   "bullying",
		"room_name":     "3A",
		"student_name":  "Pedro Quispe",
		"description":   "Pushed a classmate during recess",
	}
}

func TestCaseLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	res, data := s.do(t, http.MethodPost, "/v1/cases", "ana", studentCase())
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	created := decode[CaseResponse](t, data)
	assert.Equal(t, domain.StatusRegistered, created.Status)
	assert.NotEmpty(t, created.Correlative)
	assert.Empty(t, created.AllowedTransitions)
	base := "/v1/cases/" + created.ID

	// The owner opening it changes nothing.
	res, data = s.do(t, http.MethodPost, base+"/open", "ana", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, domain.StatusRegistered, decode[CaseResponse](t, data).Status)

	res, data = s.do(t, http.MethodPost, base+"/open", "maria", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	opened := decode[CaseResponse](t, data)
	assert.Equal(t, domain.StatusRead, opened.Status)
	assert.Equal(t, []domain.Status{domain.StatusAttention, domain.StatusResolved}, opened.AllowedTransitions)

	res, data = s.do(t, http.MethodPost, base+"/transitions", "rosa", map[string]any{
		"status":        "attention",
		"justification": "Parents summoned",
	})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "Parents summoned", decode[CaseResponse](t, data).Justification)

	res, data = s.do(t, http.MethodPost, base+"/transitions", "maria", map[string]any{
		"status":        "resolved",
		"justification": "Agreement signed",
	})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, domain.StatusResolved, decode[CaseResponse](t, data).Status)

	res, data = s.do(t, http.MethodGet, base+"/logs?order=asc", "jorge", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	logs := decode[LogEntriesResponse](t, data)
	require.Len(t, logs.Items, 3)
	assert.Equal(t, domain.StatusRead, logs.Items[0].Status)
	assert.True(t, logs.Items[0].System)
	assert.Equal(t, domain.StatusResolved, logs.Items[2].Status)

	// Deleting the newest entry rolls the case back to attention.
	res, data = s.do(t, http.MethodDelete, "/v1/logs/"+logs.Items[2].ID, "maria", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	reconciled := decode[CaseResponse](t, data)
	assert.Equal(t, domain.StatusAttention, reconciled.Status)
	assert.Equal(t, "Parents summoned", reconciled.Justification)

	res, data = s.do(t, http.MethodPatch, "/v1/logs/"+logs.Items[1].ID, "rosa", map[string]any{"comment": "Parents met the tutor"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "Parents met the tutor", decode[CaseResponse](t, data).Justification)

	res, data = s.do(t, http.MethodGet, "/v1/stats", "maria", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	stats := decode[domain.Stats](t, data)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Pending)
}

func TestTransitionErrors(t *testing.T) {
	s := newTestServer(t)
	_, data := s.do(t, http.MethodPost, "/v1/cases", "ana", studentCase())
	c := decode[CaseResponse](t, data)
	base := "/v1/cases/" + c.ID

	res, data := s.do(t, http.MethodPost, base+"/transitions", "ana", map[string]any{"status": "read"})
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	env := decode[errorEnvelope](t, data)
	assert.Equal(t, "transition_unauthorized", env.Error.Code)
	assert.Equal(t, "role-cannot-transition", env.Error.Details["rule"])

	s.do(t, http.MethodPost, base+"/open", "maria", nil)
	res, data = s.do(t, http.MethodPost, base+"/transitions", "maria", map[string]any{"status": "attention"})
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	env = decode[errorEnvelope](t, data)
	assert.Equal(t, "validation_failed", env.Error.Code)
	assert.Equal(t, "comment", env.Error.Details["field"])

	res, data = s.do(t, http.MethodPost, base+"/transitions", "maria", map[string]any{"status": "bogus"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = s.do(t, http.MethodPost, base+"/transitions", "maria", map[string]any{"status": "read"})
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	assert.Equal(t, "same-status", decode[errorEnvelope](t, data).Error.Details["rule"])

	res, data = s.do(t, http.MethodPost, "/v1/cases/missing/transitions", "maria", map[string]any{"status": "read"})
	assert.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
}

func TestCaseVisibilityAndEditing(t *testing.T) {
	s := newTestServer(t)
	_, data := s.do(t, http.MethodPost, "/v1/cases", "ana", studentCase())
	c := decode[CaseResponse](t, data)
	base := "/v1/cases/" + c.ID

	res, _ := s.do(t, http.MethodGet, base, "luis", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, data = s.do(t, http.MethodGet, "/v1/cases", "luis", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Empty(t, decode[paginatedCases](t, data).Items)

	res, data = s.do(t, http.MethodPatch, base, "ana", map[string]any{"description": "Pushed a classmate twice"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "Pushed a classmate twice", decode[CaseResponse](t, data).Description)

	res, data = s.do(t, http.MethodPatch, base, "ana", map[string]any{"description": "  "})
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	assert.Equal(t, "description", decode[errorEnvelope](t, data).Error.Details["field"])

	res, _ = s.do(t, http.MethodDelete, base, "maria", nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	res, _ = s.do(t, http.MethodDelete, base, "jorge", nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	res, _ = s.do(t, http.MethodGet, base, "jorge", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestCreateCaseValidationOverHTTP(t *testing.T) {
	s := newTestServer(t)
	body := studentCase()
	delete(body, "student_name")
	res, data := s.do(t, http.MethodPost, "/v1/cases", "ana", body)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	assert.Equal(t, "student_name", decode[errorEnvelope](t, data).Error.Details["field"])

	res, _ = s.do(t, http.MethodPost, "/v1/cases", "ana", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestListCasesPaginates(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 3; i++ {
		res, data := s.do(t, http.MethodPost, "/v1/cases", "ana", studentCase())
		require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	}
	seen := map[string]bool{}
	cursor := ""
	for page := 0; page < 3; page++ {
		path := "/v1/cases?limit=2"
		if cursor != "" {
			path += "&cursor=" + url.QueryEscape(cursor)
		}
		res, data := s.do(t, http.MethodGet, path, "maria", nil)
		require.Equal(t, http.StatusOK, res.StatusCode, string(data))
		p := decode[paginatedCases](t, data)
		for _, c := range p.Items {
			seen[c.ID] = true
		}
		if p.NextCursor == "" {
			break
		}
		cursor = p.NextCursor
	}
	assert.Len(t, seen, 3)

	res, _ := s.do(t, http.MethodGet, "/v1/cases?cursor=garbage", "maria", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)

	res, _ := s.do(t, http.MethodGet, "/v1/cases", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = s.do(t, http.MethodGet, "/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, data := s.do(t, http.MethodGet, "/v1/me", "stranger", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Empty(t, decode[WhoAmIResponse](t, data).Role)
	res, _ = s.do(t, http.MethodGet, "/v1/cases", "stranger", nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, data = doJSON(t, s.client, http.MethodPost, s.URL+"/v1/auth/dev/login", map[string]any{"actor_id": "nuevo", "role": "secretaria"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	token := decode[DevLoginResponse](t, data).Token
	res, data = doJSON(t, s.client, http.MethodGet, s.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	me := decode[WhoAmIResponse](t, data)
	assert.Equal(t, "nuevo", me.ActorID)
	assert.Equal(t, "secretary", me.Role)
	assert.Equal(t, "jwt", me.Source)
	assert.False(t, me.Reviews)

	res, _ = doJSON(t, s.client, http.MethodGet, s.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	key := "ck_test_key"
	require.NoError(t, s.Engine.Repo.InsertAPIKey(context.Background(), nil, domain.APIKey{
		ID:        "key-1",
		ActorID:   "rosa",
		Name:      "ci",
		KeyHash:   repo.HashAPIKey(key),
		CreatedAt: repo.FormatTime(time.Now()),
	}))
	res, data = doJSON(t, s.client, http.MethodGet, s.URL+"/v1/me", nil, map[string]string{"X-Api-Key": key})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	me = decode[WhoAmIResponse](t, data)
	assert.Equal(t, "counselor", me.Role)
	assert.True(t, me.Reviews)
}

func TestEventsAreReviewerOnly(t *testing.T) {
	s := newTestServer(t)
	_, data := s.do(t, http.MethodPost, "/v1/cases", "ana", studentCase())
	c := decode[CaseResponse](t, data)
	s.do(t, http.MethodPost, "/v1/cases/"+c.ID+"/open", "maria", nil)

	res, _ := s.do(t, http.MethodGet, "/v1/events", "ana", nil)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, data = s.do(t, http.MethodGet, "/v1/events?entity_id="+c.ID, "jorge", nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	items := decode[paginatedEvents](t, data).Items
	require.Len(t, items, 2)
	assert.Equal(t, "case.transitioned", items[0].Type)
	assert.Equal(t, "case.created", items[1].Type)
}

func TestOpenAPIIsServed(t *testing.T) {
	s := newTestServer(t)
	res, data := s.do(t, http.MethodGet, "/v1/openapi.json", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/v1/cases/{case_id}/transitions")
}

func TestOpenAPIConcurrentFirstRequests(t *testing.T) {
	s := newTestServer(t)
	const n = 8
	bodies := make([][]byte, n)
	statuses := make([]int, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			res, err := s.client.Get(s.URL + "/v1/openapi.json")
			if err != nil {
				return
			}
			defer res.Body.Close()
			statuses[i] = res.StatusCode
			bodies[i], _ = io.ReadAll(res.Body)
		}(i)
	}
	close(start)
	wg.Wait()
	for i := 0; i < n; i++ {
		require.Equal(t, http.StatusOK, statuses[i])
		assert.Equal(t, bodies[0], bodies[i])
	}
	var doc map[string]any
	require.NoError(t, json.Unmarshal(bodies[0], &doc))
	assert.Contains(t, doc, "security")
}

func TestDevLoginIsOffByDefault(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	e := engine.New(conn, config.Default("colegio-test"))

	handler, err := New(Config{
		Engine: e,
		Auth:   AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	body := map[string]any{"actor_id": "intruso", "role": "admin"}
	res, _ := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev/login", body, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev/login", body, map[string]string{"X-Actor-Id": "intruso"})
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestSDKRoundTrip(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	ana := caselinesdk.New(s.URL)
	ana.BearerToken = devToken(t, s, "ana")
	maria := caselinesdk.New(s.URL)
	maria.BearerToken = devToken(t, s, "maria")

	c, err := ana.CreateCase(ctx, caselinesdk.NewCase{
		Type:         "general",
		IncidentDate: "2025-03-09",
		CategoryID:   "infrastructure",
		RoomName:     "Patio",
		Description:  "Broken fence near the gate",
	})
	require.NoError(t, err)

	c, err = maria.OpenCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "read", c.Status)

	_, err = maria.Transition(ctx, c.ID, "resolved", "", false)
	var apiErr *caselinesdk.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "validation_failed", apiErr.Code)

	c, err = maria.Transition(ctx, c.ID, "resolved", "Fence repaired", false)
	require.NoError(t, err)
	assert.Equal(t, "resolved", c.Status)

	entries, err := ana.Logs(ctx, c.ID, "desc")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Fence repaired", entries[0].Comment)

	page, err := maria.ListCases(ctx, map[string]string{"status": "resolved"}, 10, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	stats, err := ana.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Resolved)
}

func devToken(t *testing.T, s *testServer, actor string) string {
	t.Helper()
	res, data := doJSON(t, s.client, http.MethodPost, s.URL+"/v1/auth/dev/login", map[string]any{"actor_id": actor}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	return decode[DevLoginResponse](t, data).Token
}

func TestWebhookDispatcherDeliversNewEvents(t *testing.T) {
	var (
		mu       sync.Mutex
		received []webhookEvent
		headers  []http.Header
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		received = append(received, evt)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Webhooks = []config.WebhookConfig{{
			URL:    hook.URL,
			Events: []string{"case.transitioned"},
			Secret: "s3cret",
		}}
	})
	ctx := context.Background()
	d := NewWebhookDispatcher(s.Engine, nil)

	_, data := s.do(t, http.MethodPost, "/v1/cases", "ana", studentCase())
	c := decode[CaseResponse](t, data)
	// The first round only positions the cursor at the newest event.
	d.DispatchAll(ctx)
	mu.Lock()
	assert.Empty(t, received)
	mu.Unlock()

	s.do(t, http.MethodPost, "/v1/cases/"+c.ID+"/open", "maria", nil)
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "case.transitioned", received[0].Type)
	assert.Equal(t, c.ID, received[0].EntityID)
	assert.Equal(t, "colegio-test", received[0].SchoolID)
	assert.Equal(t, "case.transitioned", headers[0].Get("X-Caseline-Event"))
	assert.Equal(t, "s3cret", headers[0].Get("X-Caseline-Secret"))
}
