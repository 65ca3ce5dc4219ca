package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"policy-brief-pipeline/internal/config"
	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/domain/ports/adapter"
	"policy-brief-pipeline/internal/domain/ports/queue"
	"policy-brief-pipeline/internal/infra/logging"
	"policy-brief-pipeline/internal/infra/memqueue"
)

// --- fakes

type fakeNews struct {
	calls      atomic.Int32
	SearchFunc func(ctx context.Context, q adapter.SearchQuery) ([]model.Article, error)
}

func (f *fakeNews) Search(ctx context.Context, q adapter.SearchQuery) ([]model.Article, error) {
	f.calls.Add(1)
	if f.SearchFunc != nil {
		return f.SearchFunc(ctx, q)
	}
	return []model.Article{
		{Title: "Council weighs rent caps", URL: "https://news.example/rent", Summary: "A vote is expected next week.", Source: "Metro Daily", PublishedAt: time.Now()},
		{Title: "Council weighs rent caps", URL: "https://news.example/rent/", Summary: "Duplicate.", Source: "Metro Daily"},
	}, nil
}

type fakeModel struct {
	calls        atomic.Int32
	GenerateFunc func(ctx context.Context, msgs []adapter.Message) (string, adapter.Usage, error)
}

func (f *fakeModel) Provider() string { return "fake" }
func (f *fakeModel) Model() string    { return "fake-1" }

func (f *fakeModel) Generate(ctx context.Context, msgs []adapter.Message) (string, adapter.Usage, error) {
	f.calls.Add(1)
	if f.GenerateFunc != nil {
		return f.GenerateFunc(ctx, msgs)
	}
	return goodReply, adapter.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150}, nil
}

const goodReply = "Here you go:\n```json\n" + `[
 {"host":"hostA","text":"Welcome back. Housing is the story today."},
 {"host":"hostB","text":"The rent stabilization act cleared committee."},
 {"host":"Alex","text":"What does it change for renters?"},
 {"host":"Jordan","text":"It caps yearly increases at five percent."},
 {"host":"hostA","text":"That's the brief."}
]` + "\n```"

type fakeSpeech struct {
	calls     atomic.Int32
	mu        sync.Mutex
	lastLines []adapter.VoiceLine
	SynthFunc func(ctx context.Context, lines []adapter.VoiceLine) (*adapter.Audio, error)
}

func (f *fakeSpeech) Provider() string { return "fake" }

func (f *fakeSpeech) SynthesizeDialogue(ctx context.Context, lines []adapter.VoiceLine) (*adapter.Audio, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastLines = lines
	f.mu.Unlock()
	if f.SynthFunc != nil {
		return f.SynthFunc(ctx, lines)
	}
	return &adapter.Audio{Data: makeWAV(24000, 2*time.Second), ContentType: "audio/wav"}, nil
}

// makeWAV builds a silent 16-bit mono PCM WAV.
func makeWAV(rate int, d time.Duration) []byte {
	n := int(float64(rate)*d.Seconds()) * 2
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+n))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(rate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(rate*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(n))
	buf.Write(make([]byte, n))
	return buf.Bytes()
}

// --- harness

type harness struct {
	t       *testing.T
	cfg     *config.Config
	store   *memqueue.Store
	briefs  *memqueue.Briefs
	objects *memqueue.Objects
	bills   *memqueue.Bills
	coord   *memqueue.Coordinator
	news    *fakeNews
	model   *fakeModel
	speech  *fakeSpeech
	capture *CaptureDispatcher
	p       *Pipeline
	clock   time.Time
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Script.MinLines = 4
	cfg.Script.MaxValidationAttempts = 3
	return cfg
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		cfg:     testConfig(),
		store:   memqueue.NewStore(),
		briefs:  memqueue.NewBriefs(),
		objects: memqueue.NewObjects(),
		coord:   memqueue.NewCoordinator(),
		news:    &fakeNews{},
		model:   &fakeModel{},
		speech:  &fakeSpeech{},
		capture: &CaptureDispatcher{},
		clock:   time.Date(2026, 10, 14, 7, 30, 0, 0, time.UTC),
	}
	h.bills = memqueue.NewBills(model.Bill{
		ID: "HB-12", Title: "Rent Stabilization Act", Summary: "Caps annual rent increases. Applies statewide.",
		PolicyArea: "Housing", ImpactScore: 8.5, IntroducedAt: h.clock.Add(-72 * time.Hour),
	})
	p, err := New(Clients{
		Store:      h.store,
		Dispatcher: h.capture,
		Locker:     h.coord,
		Ledger:     h.coord,
		News:       h.news,
		Bills:      h.bills,
		Model:      h.model,
		Speech:     h.speech,
		Storage:    h.objects,
		Briefs:     h.briefs,
	}, h.cfg, logging.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.p = p.WithClock(func() time.Time { return h.clock })
	return h
}

func request(id string) model.JobRequest {
	return model.JobRequest{
		RequestID:       id,
		UserID:          "user-1",
		UserEmail:       "user-1@example.com",
		PolicyInterests: []string{"housing"},
		Location:        &model.Location{State: "CA"},
	}
}

func delivery[T any](msg T, attempt int) queue.Delivery[T] {
	return queue.Delivery[T]{ID: fmt.Sprintf("d-%d", attempt), Attempt: attempt, EnqueuedAt: time.Now(), Message: msg}
}

// next pops the captured hand-off and checks its stage.
func (h *harness) next(want model.Stage) []byte {
	h.t.Helper()
	st, body, ok := h.capture.Take()
	if !ok {
		h.t.Fatalf("expected a hand-off to %s, got none", want)
	}
	if st != want {
		h.t.Fatalf("expected a hand-off to %s, got %s", want, st)
	}
	return body
}

func (h *harness) noHandOff() {
	h.t.Helper()
	if st, _, ok := h.capture.Take(); ok {
		h.t.Fatalf("expected no hand-off, got one to %s", st)
	}
}

func decodeInto[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	return v
}

func mustAck(t *testing.T, out queue.Outcome) {
	t.Helper()
	if out.Kind != queue.OutcomeAck {
		t.Fatalf("expected ack, got %s: %v", out.Kind, out.Err)
	}
}

// runToScript drives a fresh request through orchestrate and fetch and
// returns the job id with the script hand-off pending.
func (h *harness) runToScript() string {
	h.t.Helper()
	ctx := context.Background()
	mustAck(h.t, h.p.Orchestrate(ctx, delivery(request("r-1"), 1)))
	fm := decodeInto[model.FetchMessage](h.t, h.next(model.StageFetch))
	mustAck(h.t, h.p.Fetch(ctx, delivery(fm, 1)))
	h.next(model.StageScript)
	return fm.JobID
}

func (h *harness) runToPublish() string {
	h.t.Helper()
	ctx := context.Background()
	jobID := h.runToScript()
	mustAck(h.t, h.p.Script(ctx, delivery(model.JobMessage{JobID: jobID}, 1)))
	h.next(model.StageSynthesize)
	mustAck(h.t, h.p.Synthesize(ctx, delivery(model.JobMessage{JobID: jobID}, 1)))
	h.next(model.StagePublish)
	return jobID
}
