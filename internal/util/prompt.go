package util

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"
)

var (
	// Any {{ ... }} action in a prompt body
	actionRegex = regexp.MustCompile(`\{\{-?([\s\S]*?)-?\}\}`)
	// Bare identifiers; fields (.x), variables ($x) and digits-led tokens are skipped
	identifierRegex = regexp.MustCompile(`(?:^|[^A-Za-z0-9_.$])([A-Za-z_][A-Za-z0-9_]*)`)
	// Quoted literals are dropped before identifiers are collected
	stringLiteralRegex = regexp.MustCompile(`"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'|` + "`[^`]*`")
	// Matches various think/reasoning tag formats emitted by reasoning models
	thinkTagRegex = regexp.MustCompile(`(?i)<think(?:ing)?>([\s\S]*?)</think(?:ing)?>`)
	// A response wrapped in a single fenced block
	codeFenceRegex = regexp.MustCompile("^```[a-zA-Z]*\\s*\\n([\\s\\S]*?)\\n?```$")
)

// Keywords that look like parameters but are control flow in prompt templates
var reservedParameterNames = map[string]bool{
	"if":    true,
	"elif":  true,
	"else":  true,
	"end":   true,
	"for":   true,
	"in":    true,
	"range": true,
	"with":  true,
	"not":   true,
	"and":   true,
	"or":    true,
	"true":  true,
	"false": true,
	"nil":   true,
	"null":  true,
}

// RenderTemplate renders a template string with the given data
// Includes validation to prevent template injection attacks
func RenderTemplate(tmpl string, data map[string]any) (string, error) {
	// Block: call (function calls), define (template definition), template (template inclusion)
	forbiddenDirectives := []string{"{{call", "{{define", "{{template", "{{block"}
	for _, directive := range forbiddenDirectives {
		if strings.Contains(tmpl, directive) {
			return "", fmt.Errorf("template contains forbidden directive: %s", directive)
		}
	}

	t, err := template.New("engine").
		Option("missingkey=error").
		Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// ExtractParameters returns the parameter names referenced by a prompt,
// in order of first appearance and without duplicates. Identifiers inside
// control actions count too; loop variables bound by {{ for x in items }}
// do not.
func ExtractParameters(prompt string) []string {
	seen := make(map[string]bool)
	loopVars := make(map[string]bool)
	params := make([]string, 0)

	for _, action := range actionRegex.FindAllStringSubmatch(prompt, -1) {
		body := strings.TrimSpace(action[1])
		if strings.HasPrefix(body, "/*") {
			continue
		}
		body = stringLiteralRegex.ReplaceAllString(body, " ")

		var names []string
		for _, match := range identifierRegex.FindAllStringSubmatch(body, -1) {
			names = append(names, match[1])
		}

		if len(names) > 0 && names[0] == "for" {
			for k := 1; k < len(names) && names[k] != "in"; k++ {
				loopVars[names[k]] = true
			}
		}

		for _, name := range names {
			if reservedParameterNames[name] || loopVars[name] || seen[name] {
				continue
			}
			seen[name] = true
			params = append(params, name)
		}
	}
	return params
}

// CleanEngineOutput strips reasoning tags and a wrapping code fence from a model answer
func CleanEngineOutput(response string) string {
	result := strings.TrimSpace(thinkTagRegex.ReplaceAllString(response, ""))
	if matches := codeFenceRegex.FindStringSubmatch(result); len(matches) > 1 {
		result = strings.TrimSpace(matches[1])
	}
	return result
}

// TruncateString truncates a string to maxLen runes (Unicode-safe)
func TruncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
