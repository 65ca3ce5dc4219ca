package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"policy-brief-pipeline/internal/domain"
	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/domain/ports/adapter"
	"policy-brief-pipeline/internal/domain/ports/queue"
)

func TestStages_HappyPath(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	mustAck(t, h.p.Orchestrate(ctx, delivery(request("r-1"), 1)))
	fm := decodeInto[model.FetchMessage](t, h.next(model.StageFetch))
	if fm.JobID == "" || fm.UserID != "user-1" || fm.BriefType != model.BriefDaily {
		t.Fatalf("unexpected fetch message %+v", fm)
	}
	if st, _ := h.p.Status(ctx, fm.JobID); st.Status != model.JobStatusPending {
		t.Errorf("status after orchestrate = %s", st.Status)
	}

	mustAck(t, h.p.Fetch(ctx, delivery(fm, 1)))
	jm := decodeInto[model.JobMessage](t, h.next(model.StageScript))
	if jm.JobID != fm.JobID {
		t.Fatalf("job id changed: %s -> %s", fm.JobID, jm.JobID)
	}
	news := decodeInto[[]model.Article](t, mustGet(t, h, fm.JobID, model.ArtifactNews))
	if len(news) != 1 {
		t.Errorf("expected duplicate article urls to collapse, got %d", len(news))
	}
	if st, _ := h.p.Status(ctx, fm.JobID); st.Status != model.JobStatusFetching {
		t.Errorf("status after fetch = %s", st.Status)
	}

	mustAck(t, h.p.Script(ctx, delivery(jm, 1)))
	h.next(model.StageSynthesize)
	script := decodeInto[model.Script](t, mustGet(t, h, fm.JobID, model.ArtifactScript))
	if len(script) != 5 || script[2].Speaker != model.HostA || script[3].Speaker != model.HostB {
		t.Errorf("unexpected script %+v", script)
	}
	if present, _ := h.store.Present(ctx, fm.JobID); present[model.ArtifactBills] || present[model.ArtifactNews] {
		t.Error("script stage should purge bills and news")
	}

	mustAck(t, h.p.Synthesize(ctx, delivery(jm, 1)))
	h.next(model.StagePublish)
	if present, _ := h.store.Present(ctx, fm.JobID); present[model.ArtifactScript] || !present[model.ArtifactAudio] {
		t.Errorf("unexpected artifacts after synthesis: %v", present)
	}
	h.speech.mu.Lock()
	first := h.speech.lastLines[0]
	h.speech.mu.Unlock()
	if first.Speaker != "Alex" || first.VoiceID != "Kore" {
		t.Errorf("unexpected voice line %+v", first)
	}

	mustAck(t, h.p.Publish(ctx, delivery(jm, 1)))
	h.noHandOff()

	b, err := h.briefs.FindByJobID(ctx, nil, fm.JobID)
	if err != nil {
		t.Fatalf("brief not stored: %v", err)
	}
	wantKey := "briefs/user-1/20261014T073000Z-" + fm.JobID + ".wav"
	if b.AudioURL != "memory://"+wantKey {
		t.Errorf("audio url = %s, want memory://%s", b.AudioURL, wantKey)
	}
	if b.Duration != 2*time.Second {
		t.Errorf("duration = %s", b.Duration)
	}
	if !strings.HasPrefix(b.Transcript, "Alex: Welcome back.") {
		t.Errorf("unexpected transcript %q", b.Transcript)
	}
	if !strings.Contains(b.WrittenDigest, "Rent Stabilization Act") || len(b.PolicyAreas) != 1 || b.PolicyAreas[0] != "Housing" {
		t.Errorf("unexpected digest %q areas %v", b.WrittenDigest, b.PolicyAreas)
	}
	if keys := h.store.Keys(); len(keys) != 0 {
		t.Errorf("artifacts leaked after publish: %v", keys)
	}
	st, _ := h.p.Status(ctx, fm.JobID)
	if st.Status != model.JobStatusComplete || st.Brief == nil {
		t.Errorf("final state %+v", st)
	}
}

func mustGet(t *testing.T, h *harness, jobID string, kind model.ArtifactKind) []byte {
	t.Helper()
	raw, err := h.store.Get(context.Background(), jobID, kind)
	if err != nil {
		t.Fatalf("get %s: %v", kind, err)
	}
	return raw
}

func TestOrchestrate(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid request is dead-lettered", func(t *testing.T) {
		h := newHarness(t)
		req := request("r-x")
		req.PolicyInterests = nil
		out := h.p.Orchestrate(ctx, delivery(req, 1))
		if out.Kind != queue.OutcomeDeadLetter || !errors.Is(out.Err, domain.ErrInvalidArgument) {
			t.Fatalf("expected invalid-argument dead letter, got %+v", out)
		}
		h.noHandOff()
	})

	t.Run("redelivered request reuses its job", func(t *testing.T) {
		h := newHarness(t)
		mustAck(t, h.p.Orchestrate(ctx, delivery(request("r-1"), 1)))
		first := decodeInto[model.FetchMessage](t, h.next(model.StageFetch))

		mustAck(t, h.p.Orchestrate(ctx, delivery(request("r-1"), 2)))
		second := decodeInto[model.FetchMessage](t, h.next(model.StageFetch))
		if first.JobID != second.JobID {
			t.Fatalf("expected the same job, got %s and %s", first.JobID, second.JobID)
		}
	})

	t.Run("request for a finished job is acked without a new hand-off", func(t *testing.T) {
		h := newHarness(t)
		jobID := h.runToPublish()
		mustAck(t, h.p.Publish(ctx, delivery(model.JobMessage{JobID: jobID}, 1)))

		mustAck(t, h.p.Orchestrate(ctx, delivery(request("r-1"), 1)))
		h.noHandOff()
	})

	t.Run("force regenerate opens a new job", func(t *testing.T) {
		h := newHarness(t)
		mustAck(t, h.p.Orchestrate(ctx, delivery(request("r-1"), 1)))
		first := decodeInto[model.FetchMessage](t, h.next(model.StageFetch))

		req := request("r-1")
		req.ForceRegenerate = true
		mustAck(t, h.p.Orchestrate(ctx, delivery(req, 1)))
		second := decodeInto[model.FetchMessage](t, h.next(model.StageFetch))
		if first.JobID == second.JobID {
			t.Fatal("expected a fresh job id")
		}
	})
}

func TestFetch(t *testing.T) {
	ctx := context.Background()

	t.Run("upstream failure retries and writes nothing", func(t *testing.T) {
		h := newHarness(t)
		h.news.SearchFunc = func(ctx context.Context, q adapter.SearchQuery) ([]model.Article, error) {
			return nil, domain.NewUpstreamError("news", 503, errors.New("unavailable"))
		}
		mustAck(t, h.p.Orchestrate(ctx, delivery(request("r-1"), 1)))
		fm := decodeInto[model.FetchMessage](t, h.next(model.StageFetch))

		out := h.p.Fetch(ctx, delivery(fm, 1))
		if out.Kind != queue.OutcomeRetry || out.Delay != h.cfg.Pipeline.Fetch.RetryDelay {
			t.Fatalf("expected retry with the fetch delay, got %+v", out)
		}
		if present, _ := h.store.Present(ctx, fm.JobID); present[model.ArtifactBills] || present[model.ArtifactNews] {
			t.Error("a failed fetch must not write partial output")
		}
		h.noHandOff()
	})

	t.Run("stale delivery after the job moved on is acked without work", func(t *testing.T) {
		h := newHarness(t)
		jobID := h.runToScript()
		mustAck(t, h.p.Script(ctx, delivery(model.JobMessage{JobID: jobID}, 1)))
		h.next(model.StageSynthesize)
		calls := h.news.calls.Load()

		fm := model.FetchMessage{JobID: jobID, UserID: "user-1", PolicyInterests: []string{"housing"}}
		mustAck(t, h.p.Fetch(ctx, delivery(fm, 2)))
		if h.news.calls.Load() != calls {
			t.Error("stale fetch called the news api")
		}
		if present, _ := h.store.Present(ctx, jobID); present[model.ArtifactBills] {
			t.Error("stale fetch rewrote bills")
		}
		h.noHandOff()
	})

	t.Run("redelivery after output was written hands off again", func(t *testing.T) {
		h := newHarness(t)
		jobID := h.runToScript()
		calls := h.news.calls.Load()

		fm := model.FetchMessage{JobID: jobID, UserID: "user-1", PolicyInterests: []string{"housing"}}
		mustAck(t, h.p.Fetch(ctx, delivery(fm, 2)))
		h.next(model.StageScript)
		if h.news.calls.Load() != calls {
			t.Error("redelivered fetch searched again")
		}
	})

	t.Run("weekly briefs widen the window", func(t *testing.T) {
		h := newHarness(t)
		var since time.Time
		h.news.SearchFunc = func(ctx context.Context, q adapter.SearchQuery) ([]model.Article, error) {
			since = q.Since
			return nil, nil
		}
		req := request("r-w")
		req.BriefType = model.BriefWeekly
		mustAck(t, h.p.Orchestrate(ctx, delivery(req, 1)))
		fm := decodeInto[model.FetchMessage](t, h.next(model.StageFetch))
		mustAck(t, h.p.Fetch(ctx, delivery(fm, 1)))

		want := h.clock.Add(-h.cfg.Fetch.NewsWindow * time.Duration(h.cfg.Fetch.WeeklyWindows))
		if !since.Equal(want) {
			t.Errorf("since = %s, want %s", since, want)
		}
		if raw := mustGet(t, h, fm.JobID, model.ArtifactNews); string(raw) != "[]" {
			t.Errorf("empty news should be stored as [], got %s", raw)
		}
	})

	t.Run("held lease backs off", func(t *testing.T) {
		h := newHarness(t)
		mustAck(t, h.p.Orchestrate(ctx, delivery(request("r-1"), 1)))
		fm := decodeInto[model.FetchMessage](t, h.next(model.StageFetch))
		if _, err := h.coord.TryLock(ctx, leaseKey(fm.JobID, model.StageFetch), time.Minute); err != nil {
			t.Fatal(err)
		}
		out := h.p.Fetch(ctx, delivery(fm, 1))
		if out.Kind != queue.OutcomeRetry || !errors.Is(out.Err, domain.ErrLeaseHeld) {
			t.Fatalf("expected lease retry, got %+v", out)
		}
		if h.news.calls.Load() != 0 {
			t.Error("fetch ran while the lease was held")
		}
	})
}

func TestScript(t *testing.T) {
	ctx := context.Background()

	t.Run("missing inputs dead-letter", func(t *testing.T) {
		h := newHarness(t)
		jobID := h.runToScript()
		_ = h.store.Delete(ctx, jobID, model.ArtifactNews)

		out := h.p.Script(ctx, delivery(model.JobMessage{JobID: jobID}, 1))
		if out.Kind != queue.OutcomeDeadLetter || !domain.IsIntegrity(out.Err) {
			t.Fatalf("expected integrity dead letter, got %+v", out)
		}
		if h.model.calls.Load() != 0 {
			t.Error("model called without inputs")
		}
	})

	t.Run("unknown job dead-letters", func(t *testing.T) {
		h := newHarness(t)
		out := h.p.Script(ctx, delivery(model.JobMessage{JobID: "01NOPE"}, 1))
		if out.Kind != queue.OutcomeDeadLetter {
			t.Fatalf("expected dead letter, got %+v", out)
		}
	})

	t.Run("bad model output retries then falls back to the template", func(t *testing.T) {
		h := newHarness(t)
		h.model.GenerateFunc = func(ctx context.Context, msgs []adapter.Message) (string, adapter.Usage, error) {
			return "I'd rather not.", adapter.Usage{}, nil
		}
		jobID := h.runToScript()
		msg := model.JobMessage{JobID: jobID}

		for attempt := 1; attempt < h.cfg.Script.MaxValidationAttempts; attempt++ {
			out := h.p.Script(ctx, delivery(msg, attempt))
			if out.Kind != queue.OutcomeRetry || !domain.IsValidation(out.Err) {
				t.Fatalf("attempt %d: expected validation retry, got %+v", attempt, out)
			}
		}
		mustAck(t, h.p.Script(ctx, delivery(msg, h.cfg.Script.MaxValidationAttempts)))
		h.next(model.StageSynthesize)

		script := decodeInto[model.Script](t, mustGet(t, h, jobID, model.ArtifactScript))
		if len(script) < h.cfg.Script.MinLines || !strings.Contains(script[2].Text, "Rent Stabilization Act") {
			t.Errorf("unexpected template script %+v", script)
		}
	})

	t.Run("upstream errors retry", func(t *testing.T) {
		h := newHarness(t)
		h.model.GenerateFunc = func(ctx context.Context, msgs []adapter.Message) (string, adapter.Usage, error) {
			return "", adapter.Usage{}, domain.NewUpstreamError("llm", 429, errors.New("slow down"))
		}
		jobID := h.runToScript()
		out := h.p.Script(ctx, delivery(model.JobMessage{JobID: jobID}, 1))
		if out.Kind != queue.OutcomeRetry {
			t.Fatalf("expected retry, got %+v", out)
		}
		if present, _ := h.store.Present(ctx, jobID); !present[model.ArtifactBills] || present[model.ArtifactScript] {
			t.Errorf("failed script changed artifacts: %v", present)
		}
	})

	t.Run("redelivery after the script landed finishes cleanup", func(t *testing.T) {
		h := newHarness(t)
		jobID := h.runToScript()
		// a crash between writing the script and deleting the inputs
		_ = h.store.Put(ctx, jobID, model.ArtifactScript, []byte(`[{"speaker":"hostA","text":"hi"}]`))

		mustAck(t, h.p.Script(ctx, delivery(model.JobMessage{JobID: jobID}, 2)))
		h.next(model.StageSynthesize)
		if h.model.calls.Load() != 0 {
			t.Error("model called again")
		}
		if present, _ := h.store.Present(ctx, jobID); present[model.ArtifactBills] || present[model.ArtifactNews] {
			t.Errorf("inputs not purged: %v", present)
		}
	})
}

func TestSynthesize(t *testing.T) {
	ctx := context.Background()

	t.Run("empty audio retries and keeps the script", func(t *testing.T) {
		h := newHarness(t)
		h.speech.SynthFunc = func(ctx context.Context, lines []adapter.VoiceLine) (*adapter.Audio, error) {
			return &adapter.Audio{}, nil
		}
		jobID := h.runToScript()
		mustAck(t, h.p.Script(ctx, delivery(model.JobMessage{JobID: jobID}, 1)))
		h.next(model.StageSynthesize)

		out := h.p.Synthesize(ctx, delivery(model.JobMessage{JobID: jobID}, 1))
		if out.Kind != queue.OutcomeRetry || !errors.Is(out.Err, domain.ErrEmptyAudio) {
			t.Fatalf("expected empty-audio retry, got %+v", out)
		}
		if present, _ := h.store.Present(ctx, jobID); !present[model.ArtifactScript] {
			t.Error("script was lost after a failed synthesis")
		}
	})

	t.Run("stale delivery after publish is acked", func(t *testing.T) {
		h := newHarness(t)
		jobID := h.runToPublish()
		mustAck(t, h.p.Publish(ctx, delivery(model.JobMessage{JobID: jobID}, 1)))
		calls := h.speech.calls.Load()

		mustAck(t, h.p.Synthesize(ctx, delivery(model.JobMessage{JobID: jobID}, 2)))
		if h.speech.calls.Load() != calls {
			t.Error("stale synthesis called the tts provider")
		}
		h.noHandOff()
		if keys := h.store.Keys(); len(keys) != 0 {
			t.Errorf("stale delivery left artifacts: %v", keys)
		}
	})
}

func TestPublish(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate deliveries create one brief", func(t *testing.T) {
		h := newHarness(t)
		jobID := h.runToPublish()
		msg := model.JobMessage{JobID: jobID}

		mustAck(t, h.p.Publish(ctx, delivery(msg, 1)))
		mustAck(t, h.p.Publish(ctx, delivery(msg, 2)))

		if h.briefs.Count() != 1 {
			t.Fatalf("expected one brief, got %d", h.briefs.Count())
		}
		if _, puts := h.objects.Keys(); puts != 1 {
			t.Errorf("expected one upload, got %d", puts)
		}
	})

	t.Run("crash after insert is finished by the redelivery", func(t *testing.T) {
		h := newHarness(t)
		jobID := h.runToPublish()
		ticket, _ := h.p.loadTicket(ctx, jobID)
		_, _ = h.briefs.Insert(ctx, nil, model.NewBrief(ticket, "memory://x", time.Second, h.clock))

		mustAck(t, h.p.Publish(ctx, delivery(model.JobMessage{JobID: jobID}, 2)))
		if keys := h.store.Keys(); len(keys) != 0 {
			t.Errorf("leftovers not purged: %v", keys)
		}
		if _, puts := h.objects.Keys(); puts != 0 {
			t.Error("redelivery uploaded again")
		}
	})

	t.Run("upload failure retries and keeps the audio", func(t *testing.T) {
		h := newHarness(t)
		jobID := h.runToPublish()
		h.p.c.Storage = failingStorage{}

		out := h.p.Publish(ctx, delivery(model.JobMessage{JobID: jobID}, 1))
		if out.Kind != queue.OutcomeRetry {
			t.Fatalf("expected retry, got %+v", out)
		}
		if present, _ := h.store.Present(ctx, jobID); !present[model.ArtifactAudio] {
			t.Error("audio lost after failed upload")
		}
		if h.briefs.Count() != 0 {
			t.Error("brief written without audio")
		}
	})

	t.Run("empty audio falls back to the transcript estimate", func(t *testing.T) {
		h := newHarness(t)
		jobID := h.runToPublish()
		_ = h.store.Put(ctx, jobID, model.ArtifactAudio, makeWAV(24000, 0))

		mustAck(t, h.p.Publish(ctx, delivery(model.JobMessage{JobID: jobID}, 1)))
		b, _ := h.briefs.FindByJobID(ctx, nil, jobID)
		if b == nil || b.Duration <= 0 {
			t.Fatalf("expected a positive duration, got %+v", b)
		}
	})

	t.Run("audio without any measurable duration dead-letters", func(t *testing.T) {
		h := newHarness(t)
		jobID := h.runToPublish()
		_ = h.store.Put(ctx, jobID, model.ArtifactAudio, makeWAV(24000, 0))
		ticket, _ := h.p.loadTicket(ctx, jobID)
		ticket.Transcript = ""
		if err := h.p.saveTicket(ctx, ticket); err != nil {
			t.Fatalf("saveTicket: %v", err)
		}

		out := h.p.Publish(ctx, delivery(model.JobMessage{JobID: jobID}, 1))
		if out.Kind != queue.OutcomeDeadLetter || !domain.IsIntegrity(out.Err) {
			t.Fatalf("expected integrity dead letter, got %+v", out)
		}
		if h.briefs.Count() != 0 {
			t.Error("zero-length brief committed")
		}
		if _, puts := h.objects.Keys(); puts != 0 {
			t.Error("unusable audio uploaded")
		}
	})

	t.Run("missing audio dead-letters", func(t *testing.T) {
		h := newHarness(t)
		jobID := h.runToPublish()
		_ = h.store.Delete(ctx, jobID, model.ArtifactAudio)
		out := h.p.Publish(ctx, delivery(model.JobMessage{JobID: jobID}, 1))
		if out.Kind != queue.OutcomeDeadLetter || !domain.IsIntegrity(out.Err) {
			t.Fatalf("expected integrity dead letter, got %+v", out)
		}
	})
}

type failingStorage struct{}

func (failingStorage) PutObject(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return "", domain.NewUpstreamError("storage", 503, errors.New("unavailable"))
}

func TestObjectKey(t *testing.T) {
	tk := &model.JobTicket{JobID: "01J", UserID: "u-9", CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	if got := ObjectKey("/audio/", tk, "mp3"); got != "audio/u-9/20260102T030405Z-01J.mp3" {
		t.Errorf("ObjectKey = %s", got)
	}
}
