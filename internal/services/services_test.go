package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/Corphon/ScriptMaster/internal/config"
	"github.com/Corphon/ScriptMaster/internal/llm"
	"github.com/Corphon/ScriptMaster/internal/models"
	"github.com/Corphon/ScriptMaster/internal/prompts"
	"github.com/Corphon/ScriptMaster/internal/utils"
)

type fakeResult struct {
	text string
	err  error
}

// fakeProvider 按顺序返回预设结果，用完后重复最后一个
type fakeProvider struct {
	mu       sync.Mutex
	results  []fakeResult
	requests []llm.CompletionRequest
}

func (p *fakeProvider) Initialize(map[string]string) error { return nil }
func (p *fakeProvider) GetName() string                     { return "Fake" }
func (p *fakeProvider) GetSupportedModels() []string        { return []string{"gpt-test"} }

func (p *fakeProvider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)
	if len(p.results) == 0 {
		return &llm.CompletionResponse{Text: longText("default"), TokensUsed: 10}, nil
	}
	r := p.results[0]
	if len(p.results) > 1 {
		p.results = p.results[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	return &llm.CompletionResponse{Text: r.text, TokensUsed: 10, ModelName: req.Model}, nil
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *fakeProvider) push(results ...fakeResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = results
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []SessionEvent
}

func (n *recordingNotifier) NotifySession(sessionID string, event SessionEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) count(eventType string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Type == eventType {
			c++
		}
	}
	return c
}

func longText(prefix string) string {
	return prefix + " " + strings.Repeat("content ", 20)
}

func ok(prefix string) fakeResult { return fakeResult{text: longText(prefix)} }

func transient() fakeResult {
	return fakeResult{err: &llm.Error{Kind: llm.KindRateLimit, Provider: "Fake", StatusCode: 429, Message: "slow down"}}
}

func testGenerationConfig() config.GenerationConfig {
	return config.GenerationConfig{
		Defaults: models.GenerationParams{
			Model:       "gpt-test",
			MaxTokens:   1000,
			Temperature: 0.7,
			TopP:        1,
		},
		MaxTokensLimit:    8000,
		RetryLimit:        3,
		MinResponseLength: 100,
		Tones:             append([]string(nil), models.DefaultTones...),
		Templates:         prompts.DefaultTemplateSet(),
	}
}

func testMetrics() *utils.ScriptMetrics {
	return utils.NewScriptMetrics(utils.NewMetricsCollector(), utils.NewLogger(io.Discard, utils.ERROR))
}

type fixture struct {
	provider *fakeProvider
	notifier *recordingNotifier
	metrics  *utils.ScriptMetrics
	store    *SessionStore
	script   *ScriptService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testGenerationConfig()
	provider := &fakeProvider{}
	metrics := testMetrics()

	generator, err := NewGeneratorService(provider, cfg, metrics)
	if err != nil {
		t.Fatalf("NewGeneratorService: %v", err)
	}
	store := NewSessionStore(cfg.Defaults, 0, metrics)
	script := NewScriptService(store, generator, NewExportService(nil), cfg)
	notifier := &recordingNotifier{}
	script.SetNotifier(notifier)

	return &fixture{provider: provider, notifier: notifier, metrics: metrics, store: store, script: script}
}

// toSection 推进到 section 步骤
func (f *fixture) toSection(t *testing.T) string {
	t.Helper()
	view := f.script.CreateSession()
	f.provider.push(ok("outline"))
	if _, err := f.script.SubmitTopic(context.Background(), view.ID, "How to brew great coffee", "Casual"); err != nil {
		t.Fatalf("SubmitTopic: %v", err)
	}
	if _, err := f.script.ConfirmOutline(view.ID); err != nil {
		t.Fatalf("ConfirmOutline: %v", err)
	}
	return view.ID
}

func mustSession(t *testing.T, store *SessionStore, id string) *models.ScriptSession {
	t.Helper()
	s, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	return s
}

var errBoom = errors.New("boom")
