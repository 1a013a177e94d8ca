package ai

import (
	_ "embed"
	"text/template"
)

//go:embed prompts/vacancy_screening.md
var screeningPromptRaw string

// ScreeningTemplate is the prompt used by Screener. Fields: Title, Description, Context.
var ScreeningTemplate = template.Must(template.New("vacancy_screening").Parse(screeningPromptRaw))
