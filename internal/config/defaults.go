package config

// GetDefaultEngineTemplate returns the default template used by the llm engine.
// It is rendered with the baseline prompt, scope flags and labelled trainset examples.
func GetDefaultEngineTemplate() string {
	return `You are improving a production prompt. The current prompt is:

<prompt>
{{.Prompt}}
</prompt>

Below are examples of parameter values the prompt was rendered with in production.
Examples marked NEGATIVE produced outputs that were flagged as issues.
Examples marked POSITIVE produced acceptable outputs.
{{range .Examples}}
[{{.Label}}]
{{range $name, $value := .Values}}- {{$name}}: {{$value}}
{{end}}{{end}}
Rewrite the prompt so it keeps the behaviour of the POSITIVE examples and fixes the NEGATIVE ones.
{{if not .Scope.Configuration}}Do not change the configuration header between the --- markers.
{{end}}{{if not .Scope.Instructions}}Only adjust the configuration header; keep the instructions verbatim.
{{end}}Keep every {{"{{"}} parameter {{"}}"}} reference intact.

Return ONLY the new prompt (no markdown fences, no commentary).`
}
