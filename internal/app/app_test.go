package app

import (
	"testing"
	"time"

	"github.com/Corphon/ScriptMaster/internal/config"
	"github.com/Corphon/ScriptMaster/internal/di"
	apperrors "github.com/Corphon/ScriptMaster/internal/errors"
	"github.com/Corphon/ScriptMaster/internal/models"
	"github.com/Corphon/ScriptMaster/internal/prompts"
	"github.com/Corphon/ScriptMaster/internal/services"
)

func testConfig(t *testing.T, provider string) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:     t.TempDir(),
		LLMProvider: provider,
		LLMConfig:   map[string]string{"api_key": "sk-test"},
		Generation: config.GenerationConfig{
			Defaults:          models.GenerationParams{Model: "gpt-3.5-turbo-16k", MaxTokens: 4000, Temperature: 0.7, TopP: 1},
			MaxTokensLimit:    8000,
			RetryLimit:        3,
			MinResponseLength: 100,
			Tones:             models.DefaultTones,
			Templates:         prompts.DefaultTemplateSet(),
		},
		SessionTTL:    time.Hour,
		ExportArchive: true,
	}
}

func TestRegisterServices(t *testing.T) {
	container := di.NewContainer()
	if err := RegisterServices(container, testConfig(t, "openai")); err != nil {
		t.Fatalf("RegisterServices: %v", err)
	}
	defer Cleanup(container)

	for _, name := range []string{
		di.ServiceConfig, di.ServiceMetrics, di.ServiceProvider, di.ServiceStorage,
		di.ServiceSessions, di.ServiceGenerator, di.ServiceExport, di.ServiceScript,
	} {
		if !container.Has(name) {
			t.Errorf("service %s not registered", name)
		}
	}

	script, err := di.Resolve[*services.ScriptService](container, di.ServiceScript)
	if err != nil {
		t.Fatalf("Resolve script: %v", err)
	}
	view := script.CreateSession()
	if view.Step != models.StepInput {
		t.Errorf("Step = %s, want input", view.Step)
	}
}

func TestRegisterServicesWithoutArchive(t *testing.T) {
	cfg := testConfig(t, "openrouter")
	cfg.ExportArchive = false

	container := di.NewContainer()
	if err := RegisterServices(container, cfg); err != nil {
		t.Fatalf("RegisterServices: %v", err)
	}
	defer Cleanup(container)

	if container.Has(di.ServiceStorage) {
		t.Error("storage registered with archive disabled")
	}
}

func TestRegisterServicesUnknownProvider(t *testing.T) {
	err := RegisterServices(di.NewContainer(), testConfig(t, "nope"))
	if !apperrors.IsConfigurationError(err) {
		t.Errorf("err = %v, want configuration_error", err)
	}
}

func TestInitServicesRequiresConfig(t *testing.T) {
	config.SetCurrentConfig(nil)
	if err := InitServices(); !apperrors.IsConfigurationError(err) {
		t.Errorf("err = %v, want configuration_error", err)
	}
}

func TestCleanupInterval(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want time.Duration
	}{
		{0, 0},
		{2 * time.Minute, time.Minute},
		{2 * time.Hour, maxCleanupInterval},
	}
	for _, tt := range tests {
		if got := cleanupInterval(tt.ttl); got != tt.want {
			t.Errorf("cleanupInterval(%v) = %v, want %v", tt.ttl, got, tt.want)
		}
	}
}
