package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/infra/api"
	"policy-brief-pipeline/internal/infra/logging"
	"policy-brief-pipeline/internal/infra/memqueue"
	"policy-brief-pipeline/internal/pipeline"
)

const testSecret = "0123456789abcdef0123"

type stubStatus struct {
	states map[string]*pipeline.JobState
}

func (s *stubStatus) Status(ctx context.Context, jobID string) (*pipeline.JobState, error) {
	if st, ok := s.states[jobID]; ok {
		return st, nil
	}
	return &pipeline.JobState{JobID: jobID, Status: model.JobStatusUnknown}, nil
}

type fixture struct {
	srv    *httptest.Server
	broker *memqueue.Broker
	token  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	auth, err := api.NewAuthManager(testSecret)
	if err != nil {
		t.Fatalf("NewAuthManager: %v", err)
	}
	token, err := auth.Mint("ops", time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	b := memqueue.NewBroker(time.Minute)
	s := api.NewServer(api.Deps{
		Jobs: &stubStatus{states: map[string]*pipeline.JobState{
			"job-1": {JobID: "job-1", Status: model.JobStatusScripting, Artifacts: []string{"metadata", "script"}},
		}},
		Requests: pipeline.Requests(b),
		Dead:     b,
		Auth:     auth,
	}, logging.Nop())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, broker: b, token: token}
}

func (f *fixture) do(t *testing.T, method, path string, body []byte, auth bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	if resp := f.do(t, http.MethodGet, "/health", nil, false); resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
	resp := f.do(t, http.MethodGet, "/metrics", nil, false)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestV1RequiresToken(t *testing.T) {
	f := newFixture(t)
	if resp := f.do(t, http.MethodGet, "/v1/jobs/job-1", nil, false); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	other, _ := api.NewAuthManager("another-secret-of-16+")
	forged, _ := other.Mint("ops", time.Hour)
	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/v1/jobs/job-1", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a foreign signature, got %d", resp.StatusCode)
	}
}

func TestGetJob(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/v1/jobs/job-1", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var st pipeline.JobState
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Status != model.JobStatusScripting || len(st.Artifacts) != 2 {
		t.Errorf("unexpected state %+v", st)
	}

	if resp := f.do(t, http.MethodGet, "/v1/jobs/nope", nil, true); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown job, got %d", resp.StatusCode)
	}
}

func TestCreateJob(t *testing.T) {
	f := newFixture(t)

	body := []byte(`{"user_id":"u1","policy_interests":["housing"],"brief_type":"weekly"}`)
	resp := f.do(t, http.MethodPost, "/v1/jobs", body, true)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		RequestID string `json:"request_id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out.RequestID == "" {
		t.Error("expected a request id")
	}

	env, err := f.broker.Receive(context.Background(), model.StageOrchestrate.Queue(), 100*time.Millisecond)
	if err != nil || env == nil {
		t.Fatalf("expected a queued request, got %v %v", env, err)
	}
	var req model.JobRequest
	if err := json.Unmarshal(env.Body, &req); err != nil {
		t.Fatal(err)
	}
	if req.UserID != "u1" || req.BriefType != model.BriefWeekly || req.RequestID != out.RequestID {
		t.Errorf("unexpected request %+v", req)
	}

	for _, bad := range []string{
		`{"user_id":"u1","policy_interests":[]}`,
		`{"user_id":"","policy_interests":["housing"]}`,
		`{"user_id":"u1","policy_interests":["housing"],"brief_type":"monthly"}`,
		`{"user_id":"u1","policy_interests":["housing"],"surprise":true}`,
		`not json`,
	} {
		if resp := f.do(t, http.MethodPost, "/v1/jobs", []byte(bad), true); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", bad, resp.StatusCode)
		}
	}
}

func TestDeadLetters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := model.StageScript.Queue()
	if err := f.broker.Publish(ctx, q, []byte(`{"job_id":"j1"}`)); err != nil {
		t.Fatal(err)
	}
	env, _ := f.broker.Receive(ctx, q, 100*time.Millisecond)
	if env == nil {
		t.Fatal("expected an envelope")
	}
	if err := f.broker.DeadLetter(ctx, q, env, "artifact missing"); err != nil {
		t.Fatal(err)
	}

	resp := f.do(t, http.MethodGet, "/v1/queues/script/dead?limit=10", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out []struct {
		ID        string          `json:"id"`
		LastError string          `json:"last_error"`
		Body      json.RawMessage `json:"body"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].LastError != "artifact missing" || string(out[0].Body) != `{"job_id":"j1"}` {
		t.Errorf("unexpected dead letters %+v", out)
	}

	if resp := f.do(t, http.MethodGet, "/v1/queues/bogus/dead", nil, true); resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown stage, got %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/v1/queues/script/dead?limit=0", nil, true); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", resp.StatusCode)
	}
}

func TestNewAuthManager_ShortSecret(t *testing.T) {
	if _, err := api.NewAuthManager("short"); err == nil {
		t.Fatal("expected an error for a short secret")
	}
}
