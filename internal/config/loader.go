package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"testctl/internal/itemid"
	"testctl/internal/runreq"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd

const (
	userConfigDir    = ".config/testctl"
	projectConfigDir = ".testctl"
	configFileName   = "config.yaml"
)

// LoadConfig loads the testctl configuration by layering default, user, and
// project settings.
func LoadConfig() (TestctlConfig, error) {
	// 1. Start with the default configuration
	config := GetDefaultConfig()

	// 2. Determine user-specific configuration path
	userConfigPath, err := getUserConfigPath()
	if err != nil {
		// Log this error but don't fail; user config is optional
		fmt.Fprintf(os.Stderr, "Warning: Could not determine user config path: %v\n", err)
	} else {
		if _, err := os.Stat(userConfigPath); !os.IsNotExist(err) {
			userConfig, err := loadConfigFromFile(userConfigPath)
			if err != nil {
				return TestctlConfig{}, fmt.Errorf("error loading user config from %s: %w", userConfigPath, err)
			}
			config = mergeConfigs(config, userConfig)
		}
	}

	// 3. Determine project-specific configuration path
	projectConfigPath, err := getProjectConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not determine project config path: %v\n", err)
	} else {
		if _, err := os.Stat(projectConfigPath); !os.IsNotExist(err) {
			projectConfig, err := loadConfigFromFile(projectConfigPath)
			if err != nil {
				return TestctlConfig{}, fmt.Errorf("error loading project config from %s: %w", projectConfigPath, err)
			}
			config = mergeConfigs(config, projectConfig)
		}
	}

	return config, nil
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir() // Use mockable variable
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd() // Use mockable variable
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

// loadConfigFromFile loads a TestctlConfig from a YAML file.
func loadConfigFromFile(filePath string) (TestctlConfig, error) {
	var config TestctlConfig
	data, err := os.ReadFile(filePath)
	if err != nil {
		return TestctlConfig{}, err
	}
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return TestctlConfig{}, err
	}
	return config, nil
}

// mergeConfigs merges 'overlay' config into 'base' config. Scalar settings
// replace when set; profiles merge by id; exclusion lists append.
func mergeConfigs(base, overlay TestctlConfig) TestctlConfig {
	merged := base

	if overlay.GlobalSettings.LogLevel != "" {
		merged.GlobalSettings.LogLevel = overlay.GlobalSettings.LogLevel
	}
	if overlay.GlobalSettings.LogFormat != "" {
		merged.GlobalSettings.LogFormat = overlay.GlobalSettings.LogFormat
	}

	for _, profile := range overlay.Profiles {
		replaced := false
		for i, existing := range merged.Profiles {
			if existing.ID == profile.ID {
				merged.Profiles[i] = profile
				replaced = true
				break
			}
		}
		if !replaced {
			merged.Profiles = append(merged.Profiles, profile)
		}
	}

	merged.Exclusions = append(merged.Exclusions, overlay.Exclusions...)

	return merged
}

// Exclusions adapts the configured exclusion list to the resolver's
// ExclusionSource contract. Entries with malformed item ids are skipped at
// this boundary so they never reach the resolver.
type Exclusions struct {
	refs []runreq.ItemRef
}

// NewExclusions builds the default exclusion source from a loaded config.
func NewExclusions(cfg TestctlConfig) *Exclusions {
	refs := make([]runreq.ItemRef, 0, len(cfg.Exclusions))
	for _, def := range cfg.Exclusions {
		id, err := itemid.Parse(def.ItemID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: skipping exclusion with malformed id %q: %v\n", def.ItemID, err)
			continue
		}
		refs = append(refs, runreq.ItemRef{ProducerID: def.ProducerID, ID: id})
	}
	return &Exclusions{refs: refs}
}

// Excluded returns the current default exclusion set.
func (e *Exclusions) Excluded() []runreq.ItemRef {
	return e.refs
}
