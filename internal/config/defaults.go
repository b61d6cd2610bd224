package config

// GetDefaultConfig returns the built-in configuration used when no user or
// project config file overrides it.
func GetDefaultConfig() TestctlConfig {
	return TestctlConfig{
		GlobalSettings: GlobalSettings{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Profiles: []ProfileDefinition{
			{ID: "run", Label: "Run", Default: true},
			{ID: "debug", Label: "Debug"},
		},
	}
}

// DefaultProfileID returns the id of the profile marked default, falling
// back to the first profile, or "run" when none are configured.
func (c TestctlConfig) DefaultProfileID() string {
	for _, p := range c.Profiles {
		if p.Default {
			return p.ID
		}
	}
	if len(c.Profiles) > 0 {
		return c.Profiles[0].ID
	}
	return "run"
}
