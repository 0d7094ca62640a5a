package writer

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Export directory format: optimization_1a2b3c4d
var exportNameRegex = regexp.MustCompile(`^optimization_[0-9a-f]{8}$`)

// ValidateExportName validates an export directory name to prevent path traversal attacks.
// It checks for:
//   - Path traversal attempts (..)
//   - Absolute paths
//   - Path separators (the name should be a simple directory name)
//   - Expected format (optimization_<first 8 uuid characters>)
//
// This prevents CWE-22 (Improper Limitation of a Pathname to a Restricted Directory)
func ValidateExportName(name string) error {
	if name == "" {
		return fmt.Errorf("export name cannot be empty")
	}

	if strings.Contains(name, "..") {
		return fmt.Errorf("invalid export name: contains '..' (path traversal attempt)")
	}

	if filepath.IsAbs(name) {
		return fmt.Errorf("invalid export name: must be relative path")
	}

	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("invalid export name: must be directory name without path separators")
	}

	if !exportNameRegex.MatchString(name) {
		return fmt.Errorf("invalid export name format: expected 'optimization_xxxxxxxx', got '%s'", name)
	}

	return nil
}

// ResolveExportPath joins baseDir and a validated name, ensuring the result stays under baseDir
func ResolveExportPath(baseDir, name string) (string, error) {
	if err := ValidateExportName(name); err != nil {
		return "", err
	}

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve output directory: %w", err)
	}

	absPath, err := filepath.Abs(filepath.Join(baseDir, name))
	if err != nil {
		return "", fmt.Errorf("failed to resolve export path: %w", err)
	}

	// Separator suffix prevents "/var/out" matching "/var/out-other"
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("export path escapes output directory")
	}

	return absPath, nil
}
