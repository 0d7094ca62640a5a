package config

import (
	"fmt"
	"net/url"
	"unicode"
)

const (
	// MaxModelNameLength is the maximum allowed length for model names
	MaxModelNameLength = 100

	// MaxTemplateSize is the maximum allowed size for template content
	MaxTemplateSize = 50 * 1024 // 50KB
)

// ValidateInputs performs additional security validation on user-controllable fields.
func (c *Config) ValidateInputs() error {
	if err := validateModelName(c.Engine.ModelName); err != nil {
		return err
	}

	if err := validateBaseURL(c.Engine.BaseURL); err != nil {
		return err
	}

	if err := c.validateTemplateSizes(); err != nil {
		return err
	}

	return nil
}

// validateModelName checks model name for security issues
func validateModelName(modelName string) error {
	if len(modelName) > MaxModelNameLength {
		return fmt.Errorf("engine model name exceeds maximum length of %d (got %d)",
			MaxModelNameLength, len(modelName))
	}

	if containsControlChars(modelName) {
		return fmt.Errorf("engine model name contains invalid control characters")
	}

	return nil
}

// validateBaseURL checks that the base URL is properly formatted and safe
func validateBaseURL(baseURL string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("engine has invalid base_url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("engine base_url must use http or https scheme (got %s)", u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("engine base_url must have a host")
	}

	return nil
}

// validateTemplateSizes checks that templates are within reasonable size limits
func (c *Config) validateTemplateSizes() error {
	templates := []struct {
		name  string
		value string
	}{
		{"prompt_template", c.Engine.PromptTemplate},
		{"system_prompt", c.Engine.SystemPrompt},
	}

	for _, tmpl := range templates {
		if len(tmpl.value) > MaxTemplateSize {
			return fmt.Errorf("template '%s' exceeds maximum size of %d bytes (got %d)",
				tmpl.name, MaxTemplateSize, len(tmpl.value))
		}
	}

	return nil
}

// containsControlChars checks if a string contains control characters
// (excluding newlines, tabs, and carriage returns which are acceptable)
func containsControlChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return true
		}
	}
	return false
}
