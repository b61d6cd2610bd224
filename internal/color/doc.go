// Package color provides terminal color detection and theming for testctl.
//
// This package handles the complexity of terminal color support detection
// and provides consistent color theming for the CLI tree rendering. It
// ensures that testctl displays correctly in various terminal environments.
//
// # Core Functionality
//
// The package provides:
//   - Adaptive color styles for suites, files and tests
//   - Dark and light theme support
//   - NO_COLOR environment variable handling
//
// Styles are plain lipgloss values; callers compose them freely when
// rendering tree lines.
package color
