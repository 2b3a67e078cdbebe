package prompt

// The prompt package provides the question-answering templates used by the
// RAG pipeline. A template carries two named slots, {context} and {question},
// that are filled at query time.

import "strings"

// Style selects one of the built-in template flavors.
type Style string

const (
	// StyleEducation is the IEP-assistant flavored template and the default.
	StyleEducation Style = "education"
	// StyleConcise is a bare template with no guidance text.
	StyleConcise Style = "concise"
)

const educationTemplate = `You are an educational assistant helping teachers work with IEPs, lesson plans and curriculum documents.
Use the following pieces of context to answer the question at the end.
If you don't know the answer based on the context, just say that you don't know. Do not make up an answer.

{context}

Question: {question}
Helpful Answer:`

const conciseTemplate = `{context}

Question: {question}
Answer:`

const genericTemplate = `Use the following context to answer the question.

{context}

Question: {question}
Answer:`

// Template is parameterized instruction text for the language model.
// The zero value is "unset"; the pipeline substitutes its own default.
type Template struct {
	text string
}

// New wraps raw template text. The text should contain the {context} and
// {question} slots; Render leaves missing slots alone.
func New(text string) Template {
	return Template{text: text}
}

// ForStyle returns the template for the given style. Unrecognized styles fall
// back to the generic template rather than returning an error.
func ForStyle(style Style) Template {
	switch style {
	case StyleEducation:
		return Template{text: educationTemplate}
	case StyleConcise:
		return Template{text: conciseTemplate}
	default:
		return Template{text: genericTemplate}
	}
}

// Default returns the template used when no style is specified.
func Default() Template {
	return ForStyle(StyleEducation)
}

// Render fills the {context} and {question} slots.
func (t Template) Render(context, question string) string {
	r := strings.NewReplacer("{context}", context, "{question}", question)
	return r.Replace(t.text)
}

// Text returns the raw template text.
func (t Template) Text() string {
	return t.text
}

// IsZero reports whether the template is unset.
func (t Template) IsZero() bool {
	return t.text == ""
}
