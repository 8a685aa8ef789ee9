package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	DefaultsChanged bool
	NewDefaults     DefaultsConfig

	OrchestratorChanged bool
	NewOrchestrator     OrchestratorConfig
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart; engine
// settings and the metrics listener address require a restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Defaults != new.Defaults {
		d.DefaultsChanged = true
		d.NewDefaults = new.Defaults
	}

	if old.Orchestrator != new.Orchestrator {
		d.OrchestratorChanged = true
		d.NewOrchestrator = new.Orchestrator
	}

	return d
}
