package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"civic/api/internal/auth"
	"civic/api/internal/lifecycle"
	"civic/api/internal/store"
)

func newTestServer(env *testEnv) http.Handler {
	return NewHTTPServer(env.svc, HTTPConfig{CORSOrigin: "*"}).Handler()
}

func tokenFor(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte("test-secret"), userID, role, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return token
}

func doRequest(handler http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(newTestEnv(t))

	rr := doRequest(server, http.MethodGet, "/api/health", "", "")
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated request id")
	}
	var response map[string]any
	decodeResponse(t, rr, &response)
	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestReadyEndpoint(t *testing.T) {
	env := newTestEnv(t)
	server := newTestServer(env)

	rr := doRequest(server, http.MethodGet, "/api/ready", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	env.store.pingFn = func(context.Context) error {
		return errors.New("connection refused")
	}
	rr = doRequest(server, http.MethodGet, "/api/ready", "", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	var response map[string]any
	decodeResponse(t, rr, &response)
	checks, ok := response["checks"].(map[string]any)
	if !ok {
		t.Fatalf("expected checks object, got %v", response["checks"])
	}
	storeCheck, _ := checks["store"].(map[string]any)
	if storeCheck["status"] != "error" || storeCheck["error"] != "connection refused" {
		t.Fatalf("unexpected store check %v", storeCheck)
	}
}

func TestListLawsViewerScoped(t *testing.T) {
	env := newTestEnv(t)
	env.placeHouses("alice")
	env.publishLaw(t, "law-1", t0)
	env.clock.Set(t0.Add(30 * time.Hour))
	if _, err := env.svc.Vote(context.Background(), "law-1", "alice", direction(store.DirectionUp)); err != nil {
		t.Fatalf("Vote() error = %v", err)
	}
	server := newTestServer(env)

	var anon struct {
		Laws []lifecycle.Projection `json:"laws"`
	}
	rr := doRequest(server, http.MethodGet, "/api/laws", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	decodeResponse(t, rr, &anon)
	if len(anon.Laws) != 1 || anon.Laws[0].Upvotes != 1 || anon.Laws[0].UserVote != nil {
		t.Fatalf("unexpected anonymous list %+v", anon.Laws)
	}

	var scoped struct {
		Laws []lifecycle.Projection `json:"laws"`
	}
	rr = doRequest(server, http.MethodGet, "/api/laws", tokenFor(t, "alice", "citizen"), "")
	decodeResponse(t, rr, &scoped)
	if scoped.Laws[0].UserVote == nil || *scoped.Laws[0].UserVote != store.DirectionUp {
		t.Fatalf("expected alice's vote in her list, got %+v", scoped.Laws[0])
	}

	rr = doRequest(server, http.MethodGet, "/api/laws", "garbage", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("an invalid token should read anonymously, got %d", rr.Code)
	}
}

func TestGetLawEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.publishLaw(t, "law-1", t0)
	server := newTestServer(env)

	rr := doRequest(server, http.MethodGet, "/api/laws/law-1", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var law map[string]any
	decodeResponse(t, rr, &law)
	if law["id"] != "law-1" || law["phase"] != "pending" || law["isVotable"] != false {
		t.Fatalf("unexpected law payload %v", law)
	}
	if _, ok := law["votingEndsAt"].(string); !ok {
		t.Fatalf("expected votingEndsAt for a pending law, got %v", law["votingEndsAt"])
	}

	rr = doRequest(server, http.MethodGet, "/api/laws/missing", "", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	var errBody map[string]any
	decodeResponse(t, rr, &errBody)
	if errBody["code"] != CodeNotFound {
		t.Fatalf("expected NOT_FOUND code, got %v", errBody)
	}
}

func TestVoteEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.placeHouses("alice")
	env.publishLaw(t, "law-1", t0)
	env.clock.Set(t0.Add(30 * time.Hour))
	server := newTestServer(env)
	alice := tokenFor(t, "alice", "")

	cases := []struct {
		name   string
		token  string
		body   string
		status int
		code   string
	}{
		{name: "anonymous", body: `{"vote":"up"}`, status: http.StatusUnauthorized, code: CodeUnauthorized},
		{name: "viewer role", token: tokenFor(t, "alice", "viewer"), body: `{"vote":"up"}`, status: http.StatusForbidden, code: CodeForbidden},
		{name: "missing field", token: alice, body: `{}`, status: http.StatusUnprocessableEntity, code: CodeInvalidArgument},
		{name: "bad direction", token: alice, body: `{"vote":"sideways"}`, status: http.StatusUnprocessableEntity, code: CodeInvalidArgument},
		{name: "bad type", token: alice, body: `{"vote":1}`, status: http.StatusUnprocessableEntity, code: CodeInvalidArgument},
		{name: "no house", token: tokenFor(t, "drifter", "citizen"), body: `{"vote":"up"}`, status: http.StatusForbidden, code: CodeIneligible},
		{name: "cast", token: alice, body: `{"vote":"up"}`, status: http.StatusOK},
		{name: "retract", token: alice, body: `{"vote":null}`, status: http.StatusOK},
		{name: "recast", token: alice, body: `{"vote":"up"}`, status: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := doRequest(server, http.MethodPost, "/api/laws/law-1/vote", tc.token, tc.body)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if tc.code == "" {
				return
			}
			var errBody map[string]any
			decodeResponse(t, rr, &errBody)
			if errBody["code"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, errBody["code"])
			}
		})
	}

	env.clock.Set(t0.Add(lifecycle.VotingDelay + lifecycle.VotingDuration))
	rr := doRequest(server, http.MethodPost, "/api/laws/law-1/vote", alice, `{"vote":"down"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 after the window, got %d", rr.Code)
	}
}

func TestSuggestionEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.placeHouses("alice")
	server := newTestServer(env)
	alice := tokenFor(t, "alice", "citizen")

	rr := doRequest(server, http.MethodPost, "/api/suggestions", alice, `{"title":"Gardens","text":"`+strings.Repeat("plant ", 10)+`"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var law lifecycle.Projection
	decodeResponse(t, rr, &law)
	if law.Title != "Gardens" || law.Status != store.StatusActive {
		t.Fatalf("unexpected created law %+v", law)
	}

	rr = doRequest(server, http.MethodPost, "/api/suggestions", alice, `{"title":"Tax","text":"`+strings.Repeat("plant ", 10)+`"}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	var errBody map[string]any
	decodeResponse(t, rr, &errBody)
	if errBody["code"] != CodeValidation || errBody["details"] == nil {
		t.Fatalf("unexpected validation error %v", errBody)
	}

	rr = doRequest(server, http.MethodPost, "/api/suggestions", alice, `{not json`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rr.Code)
	}
}

func TestUserStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.placeHouses("alice")
	server := newTestServer(env)

	var anon map[string]any
	decodeResponse(t, doRequest(server, http.MethodGet, "/api/user/status", "", ""), &anon)
	if anon["authenticated"] != false || anon["userId"] != nil {
		t.Fatalf("unexpected anonymous status %v", anon)
	}

	var alice map[string]any
	decodeResponse(t, doRequest(server, http.MethodGet, "/api/user/status", tokenFor(t, "alice", "citizen"), ""), &alice)
	if alice["authenticated"] != true || alice["hasHouse"] != true || alice["userId"] != "alice" {
		t.Fatalf("unexpected status for alice %v", alice)
	}
}

func TestSeedLawsEndpointRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	server := newTestServer(env)

	rr := doRequest(server, http.MethodPost, "/api/admin/seed-laws", tokenFor(t, "alice", "citizen"), "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for citizen, got %d", rr.Code)
	}

	rr = doRequest(server, http.MethodPost, "/api/admin/seed-laws", tokenFor(t, "root", "admin"), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", rr.Code)
	}
	var result SeedResult
	decodeResponse(t, rr, &result)
	if !result.Created || result.Count != len(DefaultSeeds()) {
		t.Fatalf("unexpected seed result %+v", result)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "civic_probe_total", Help: "probe"}))
	server := NewHTTPServer(env.svc, HTTPConfig{
		CORSOrigin: "*",
		Metrics:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}).Handler()

	rr := doRequest(server, http.MethodGet, "/metrics", "", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "civic_probe_total") {
		t.Fatalf("unexpected metrics response %d: %s", rr.Code, rr.Body.String())
	}
}

func TestUnknownRouteAndOptions(t *testing.T) {
	server := newTestServer(newTestEnv(t))

	if rr := doRequest(server, http.MethodGet, "/api/nothing", "", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr := doRequest(server, http.MethodDelete, "/api/laws/law-1", "", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unsupported method, got %d", rr.Code)
	}
	rr := doRequest(server, http.MethodOptions, "/api/laws", "", "")
	if rr.Code != http.StatusNoContent || rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("unexpected preflight response %d %v", rr.Code, rr.Header())
	}
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{err: votingClosed("law-1"), status: http.StatusConflict, code: CodeVotingClosed},
		{err: store.ErrConflict, status: http.StatusConflict, code: CodeConflict},
		{err: store.ErrNotFound, status: http.StatusNotFound, code: CodeNotFound},
		{err: auth.ErrExpiredToken, status: http.StatusUnauthorized, code: CodeUnauthorized},
		{err: errors.New("boom"), status: http.StatusInternalServerError, code: CodeServerError},
	}
	for _, tc := range cases {
		status, code, _, _ := mapError(tc.err)
		if status != tc.status || code != tc.code {
			t.Fatalf("mapError(%v) = %d %s, want %d %s", tc.err, status, code, tc.status, tc.code)
		}
	}
}
