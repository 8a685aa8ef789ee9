package config_test

import (
	"testing"
	"time"

	"github.com/MrWong99/readaloud/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:   config.ServerConfig{LogLevel: config.LogInfo},
		Defaults: config.DefaultsConfig{Engine: config.EngineEdge, Voice: "zh-CN, XiaoxiaoNeural"},
	}
	d := config.Diff(cfg, cfg)
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false for identical configs")
	}
	if d.DefaultsChanged {
		t.Error("expected DefaultsChanged=false for identical configs")
	}
	if d.OrchestratorChanged {
		t.Error("expected OrchestratorChanged=false for identical configs")
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_DefaultsChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Defaults: config.DefaultsConfig{Engine: config.EngineEdge, Voice: "zh-CN, XiaoxiaoNeural"},
	}
	new := &config.Config{
		Defaults: config.DefaultsConfig{Engine: config.EngineEdge, Voice: "zh-CN, YunxiNeural"},
	}

	d := config.Diff(old, new)
	if !d.DefaultsChanged {
		t.Error("expected DefaultsChanged=true")
	}
	if d.NewDefaults.Voice != "zh-CN, YunxiNeural" {
		t.Errorf("NewDefaults.Voice: got %q", d.NewDefaults.Voice)
	}
	if d.LogLevelChanged {
		t.Error("expected LogLevelChanged=false")
	}
}

func TestDiff_OrchestratorChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{
		Orchestrator: config.OrchestratorConfig{MaxRetries: 5, RetryDelay: 500 * time.Millisecond},
	}
	new := &config.Config{
		Orchestrator: config.OrchestratorConfig{MaxRetries: 3, RetryDelay: 500 * time.Millisecond},
	}

	d := config.Diff(old, new)
	if !d.OrchestratorChanged {
		t.Error("expected OrchestratorChanged=true")
	}
	if d.NewOrchestrator.MaxRetries != 3 {
		t.Errorf("NewOrchestrator.MaxRetries: got %d, want 3", d.NewOrchestrator.MaxRetries)
	}
}

func TestDiff_EngineSettingsIgnored(t *testing.T) {
	t.Parallel()
	// Engine settings need a restart, so the diff deliberately skips them.
	old := &config.Config{
		Engines: config.EnginesConfig{Edge: config.EdgeConfig{MaxChunk: 1024}},
	}
	new := &config.Config{
		Engines: config.EnginesConfig{Edge: config.EdgeConfig{MaxChunk: 4096}},
	}

	d := config.Diff(old, new)
	if d.LogLevelChanged || d.DefaultsChanged || d.OrchestratorChanged {
		t.Errorf("engine-only change should produce an empty diff, got %+v", d)
	}
}
