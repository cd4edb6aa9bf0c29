package services

import (
	"context"
	"strings"
	"testing"
	"time"

	apperrors "github.com/Corphon/ScriptMaster/internal/errors"
	"github.com/Corphon/ScriptMaster/internal/llm"
	"github.com/Corphon/ScriptMaster/internal/models"
	"github.com/Corphon/ScriptMaster/internal/prompts"
)

func newTestGenerator(t *testing.T, results ...fakeResult) (*GeneratorService, *fakeProvider, *recordingNotifier) {
	t.Helper()
	provider := &fakeProvider{results: results}
	g, err := NewGeneratorService(provider, testGenerationConfig(), testMetrics())
	if err != nil {
		t.Fatalf("NewGeneratorService: %v", err)
	}
	notifier := &recordingNotifier{}
	g.SetNotifier(notifier)
	return g, provider, notifier
}

func newTestSession() *models.ScriptSession {
	s := models.NewScriptSession("s1", testGenerationConfig().Defaults)
	s.Topic = "How to brew great coffee"
	s.Tone = "Casual"
	return s
}

func TestGenerateOutlineBuildsRequest(t *testing.T) {
	g, provider, _ := newTestGenerator(t, fakeResult{text: "\n\n  " + longText("outline") + "  \n"})
	session := newTestSession()

	text, err := g.GenerateOutline(context.Background(), session)
	if err != nil {
		t.Fatalf("GenerateOutline: %v", err)
	}
	if text != strings.TrimSpace(longText("outline")) {
		t.Errorf("text not trimmed: %q", text)
	}

	req := provider.requests[0]
	if req.SystemPrompt != prompts.OutlineSystemPrompt {
		t.Errorf("SystemPrompt = %q, want %q", req.SystemPrompt, prompts.OutlineSystemPrompt)
	}
	if !strings.Contains(req.Prompt, "'How to brew great coffee'") || !strings.Contains(req.Prompt, "Casual tone") {
		t.Errorf("Prompt = %q", req.Prompt)
	}
	if req.Model != "gpt-test" || req.MaxTokens != 1000 || req.Temperature != 0.7 || req.TopP != 1 {
		t.Errorf("params not forwarded: %+v", req)
	}
	if session.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", session.RetryCount)
	}
}

func TestGenerateSectionIncludesOutline(t *testing.T) {
	g, provider, _ := newTestGenerator(t, ok("hook"))
	session := newTestSession()
	session.Outline = "1. grind 2. brew"

	if _, err := g.GenerateSection(context.Background(), session, "Hook"); err != nil {
		t.Fatalf("GenerateSection: %v", err)
	}
	req := provider.requests[0]
	if req.SystemPrompt != prompts.SectionSystemPrompt {
		t.Errorf("SystemPrompt = %q, want %q", req.SystemPrompt, prompts.SectionSystemPrompt)
	}
	for _, want := range []string{"Write the Hook section", "Tone: Casual", "Current script outline: 1. grind 2. brew"} {
		if !strings.Contains(req.Prompt, want) {
			t.Errorf("Prompt missing %q: %q", want, req.Prompt)
		}
	}
}

func TestGenerateRetriesTransientThenSucceeds(t *testing.T) {
	g, provider, notifier := newTestGenerator(t, transient(), transient(), ok("outline"))
	session := newTestSession()

	if _, err := g.GenerateOutline(context.Background(), session); err != nil {
		t.Fatalf("GenerateOutline: %v", err)
	}
	if provider.calls() != 3 {
		t.Errorf("calls = %d, want 3", provider.calls())
	}
	if session.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", session.RetryCount)
	}
	if n := notifier.count(EventGenerationRetry); n != 2 {
		t.Errorf("retry events = %d, want 2", n)
	}
}

func TestGenerateStopsAtRetryLimit(t *testing.T) {
	g, provider, notifier := newTestGenerator(t, transient())
	session := newTestSession()

	text, err := g.GenerateOutline(context.Background(), session)
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
	if apperrors.TypeOf(err) != apperrors.ErrorTypeUnavailable {
		t.Fatalf("err = %v, want service_unavailable", err)
	}
	if provider.calls() != 3 {
		t.Errorf("calls = %d, want 3 (never a 4th attempt)", provider.calls())
	}
	if session.RetryCount != 3 {
		t.Errorf("RetryCount = %d, want 3", session.RetryCount)
	}
	if n := notifier.count(EventGenerationFailed); n != 1 {
		t.Errorf("failed events = %d, want 1", n)
	}
	if got := g.metrics.Collector().GetCounterValue("llm_failures_service_unavailable"); got != 1 {
		t.Errorf("failure counter = %d, want 1", got)
	}
}

func TestGenerateUnexpectedErrorNotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"plain error", errBoom},
		{"unexpected kind", &llm.Error{Kind: llm.KindUnexpected, Message: "bad json"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, provider, _ := newTestGenerator(t, fakeResult{err: tt.err})
			session := newTestSession()

			_, err := g.GenerateOutline(context.Background(), session)
			if apperrors.TypeOf(err) != apperrors.ErrorTypeError {
				t.Fatalf("err type = %q, want %q", apperrors.TypeOf(err), apperrors.ErrorTypeError)
			}
			if provider.calls() != 1 {
				t.Errorf("calls = %d, want 1", provider.calls())
			}
			if session.RetryCount != 0 {
				t.Errorf("RetryCount = %d, want 0", session.RetryCount)
			}
		})
	}
}

func TestGenerateRejectsShortResponses(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"whitespace", "   \n\t "},
		{"too short", "Just a hook."},
		{"99 runes", strings.Repeat("é", 99)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, provider, _ := newTestGenerator(t, fakeResult{text: tt.text})
			_, err := g.GenerateOutline(context.Background(), newTestSession())
			if apperrors.TypeOf(err) != apperrors.ErrorTypeEmptyResponse {
				t.Fatalf("err = %v, want empty_response", err)
			}
			if provider.calls() != 1 {
				t.Errorf("calls = %d, want 1", provider.calls())
			}
		})
	}
}

func TestGenerateAcceptsMinimumRuneCount(t *testing.T) {
	g, _, _ := newTestGenerator(t, fakeResult{text: strings.Repeat("é", 100)})
	if _, err := g.GenerateOutline(context.Background(), newTestSession()); err != nil {
		t.Fatalf("GenerateOutline: %v", err)
	}
}

func TestGenerateWaitCancelled(t *testing.T) {
	g, provider, _ := newTestGenerator(t, transient())
	g.cfg.RetryDelay = time.Second
	var waited []time.Duration
	g.wait = func(ctx context.Context, d time.Duration) error {
		waited = append(waited, d)
		return context.Canceled
	}

	_, err := g.GenerateOutline(context.Background(), newTestSession())
	if apperrors.TypeOf(err) != apperrors.ErrorTypeError {
		t.Fatalf("err = %v, want processing_error", err)
	}
	if provider.calls() != 1 {
		t.Errorf("calls = %d, want 1", provider.calls())
	}
	if len(waited) != 1 || waited[0] != time.Second {
		t.Errorf("waited = %v, want [1s]", waited)
	}
}

func TestGenerateDeadlineIsTimeout(t *testing.T) {
	deadline := fakeResult{err: &llm.Error{Kind: llm.KindConnection, Provider: "Fake", Message: "request failed", Err: context.DeadlineExceeded}}
	g, provider, notifier := newTestGenerator(t, deadline)
	session := newTestSession()

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err := g.GenerateOutline(ctx, session)
	if apperrors.TypeOf(err) != apperrors.ErrorTypeTimeout {
		t.Fatalf("err = %v, want timeout", err)
	}
	if provider.calls() != 1 {
		t.Errorf("calls = %d, want 1", provider.calls())
	}
	if session.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", session.RetryCount)
	}
	if notifier.count(EventGenerationFailed) != 1 {
		t.Error("missing generation_failed event")
	}

	g, _, _ = newTestGenerator(t, transient())
	g.wait = func(context.Context, time.Duration) error { return context.DeadlineExceeded }
	if _, err := g.GenerateOutline(context.Background(), newTestSession()); apperrors.TypeOf(err) != apperrors.ErrorTypeTimeout {
		t.Errorf("wait deadline: err = %v, want timeout", err)
	}
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); err != context.Canceled {
		t.Errorf("sleepContext(cancelled) = %v, want context.Canceled", err)
	}
	if err := sleepContext(context.Background(), 0); err != nil {
		t.Errorf("sleepContext(0) = %v, want nil", err)
	}
}

func TestNewGeneratorServiceRequiresProvider(t *testing.T) {
	if _, err := NewGeneratorService(nil, testGenerationConfig(), nil); !apperrors.IsConfigurationError(err) {
		t.Errorf("err = %v, want configuration_error", err)
	}
}
