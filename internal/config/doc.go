// Package config provides configuration management for testctl.
//
// This package implements a layered configuration system that allows users to
// customize testctl's behavior through YAML files. Configuration is loaded
// from multiple sources and merged in a specific order, with later sources
// overriding earlier ones.
//
// # Configuration Layers
//
// Configuration is loaded and merged in the following order:
//
//  1. Default Configuration (embedded in binary)
//     - Provides sensible defaults for all settings
//     - Ensures testctl works out-of-the-box
//
//  2. User Configuration (~/.config/testctl/config.yaml)
//     - User-specific settings that apply to all projects
//     - Useful for personal preferences and common overrides
//
//  3. Project Configuration (./.testctl/config.yaml)
//     - Project-specific settings in the current directory
//     - Allows teams to share configuration via version control
//
// # Configuration Structure
//
// The configuration file uses YAML format with the following main sections:
//
//	globalSettings:
//	  logLevel: info
//	  logFormat: text
//
//	profiles:
//	  - id: run
//	    label: Run
//	    default: true
//	  - id: coverage
//	    label: Coverage
//
//	exclusions:
//	  - producerId: fs-local
//	    itemId: "pkg\x00flaky_test.go\x00TestKnownFlaky"
//
// The exclusion list is the default exclusion source for run requests that
// do not carry an explicit one; item ids use the encoded form described in
// the itemid package.
package config
