package rag

import (
	"fmt"
	"strings"
	"text/template"
)

// DefaultPromptTemplate grounds the model in retrieved context. The
// template receives .Context and .Question.
const DefaultPromptTemplate = `Answer the question using only the context below. If the context does not contain the answer, say that you don't know instead of guessing.

Context:
{{.Context}}

Question: {{.Question}}

Answer:`

// promptData is the input to a prompt template.
type promptData struct {
	Context  string
	Question string
}

func parsePromptTemplate(text string) (*template.Template, error) {
	tmpl, err := template.New("prompt").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing prompt template: %w", err)
	}
	return tmpl, nil
}

func renderPrompt(tmpl *template.Template, contextBlob, question string) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, promptData{Context: contextBlob, Question: question}); err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}
	return sb.String(), nil
}
