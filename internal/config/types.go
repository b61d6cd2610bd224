package config

// TestctlConfig is the top-level configuration structure for testctl.
type TestctlConfig struct {
	GlobalSettings GlobalSettings        `yaml:"globalSettings"`
	Profiles       []ProfileDefinition   `yaml:"profiles"`
	Exclusions     []ExclusionDefinition `yaml:"exclusions"`
}

// GlobalSettings holds settings that apply across all commands.
type GlobalSettings struct {
	LogLevel  string `yaml:"logLevel,omitempty"`  // "debug", "info", "warn", "error"
	LogFormat string `yaml:"logFormat,omitempty"` // "text" or "json"
}

// ProfileDefinition names a logical run profile that run requests can be
// tagged with, e.g. "run", "debug" or "coverage".
type ProfileDefinition struct {
	ID      string `yaml:"id"`
	Label   string `yaml:"label,omitempty"`
	Default bool   `yaml:"default,omitempty"` // used when a request carries no profile
}

// ExclusionDefinition names one item a producer should never run unless a
// request overrides the exclusion set explicitly.
type ExclusionDefinition struct {
	ProducerID string `yaml:"producerId"`
	ItemID     string `yaml:"itemId"`
}
