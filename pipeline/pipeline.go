// Package pipeline assembles a language model client, a retriever and a
// prompt template into a ready-to-use RAG pipeline, and provides lifecycle
// observability hooks around its execution.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"eduassist/llm"
	"eduassist/prompt"
	"eduassist/vectorstore"
)

// NoAnswerMessage is returned when retrieval finds nothing above the score
// threshold; the language model is not called in that case.
const NoAnswerMessage = "I couldn't find any relevant information to answer your question."

// Generator produces a completion for a prompt. *llm.Client implements it.
type Generator interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (llm.Completion, error)
	Model() string
}

// Retriever returns ranked chunks for a query. *vectorstore.Retriever
// implements it.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]vectorstore.SearchResult, error)
	TopK() int
}

// Pipeline is the assembled retrieval-plus-generation unit.
type Pipeline struct {
	generator      Generator
	retriever      Retriever
	template       prompt.Template
	scoreThreshold float32
	callbacks      []Callback
	logger         *slog.Logger
	store          vectorstore.Store // nil when the caller supplied only a retriever
	ownsStore      bool
}

// Result is the outcome of one pipeline run.
type Result struct {
	Question        string                     `json:"question"`
	Answer          string                     `json:"answer"`
	Sources         []vectorstore.SearchResult `json:"sources"`
	ExecutionTime   time.Duration              `json:"execution_time"`
	RetrievalTime   time.Duration              `json:"retrieval_time"`
	GenerationTime  time.Duration              `json:"generation_time"`
	TokensGenerated int                        `json:"tokens_generated,omitempty"`
}

// New assembles a pipeline. An unset template falls back to the default
// education template.
func New(generator Generator, retriever Retriever, template prompt.Template, opts ...PipelineOption) (*Pipeline, error) {
	if generator == nil {
		return nil, fmt.Errorf("pipeline: generator must not be nil")
	}
	if retriever == nil {
		return nil, fmt.Errorf("pipeline: retriever must not be nil")
	}
	if template.IsZero() {
		template = prompt.Default()
	}

	p := &Pipeline{
		generator: generator,
		retriever: retriever,
		template:  template,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// PipelineOption configures optional pipeline behavior at construction.
type PipelineOption func(*Pipeline)

// WithScoreThreshold drops retrieved chunks scoring below the threshold.
func WithScoreThreshold(threshold float32) PipelineOption {
	return func(p *Pipeline) {
		p.scoreThreshold = threshold
	}
}

// WithPipelineLogger sets the pipeline logger.
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func withStore(store vectorstore.Store, owned bool) PipelineOption {
	return func(p *Pipeline) {
		p.store = store
		p.ownsStore = owned
	}
}

func withCallbacks(callbacks []Callback) PipelineOption {
	return func(p *Pipeline) {
		p.callbacks = append(p.callbacks, callbacks...)
	}
}

// Run answers a question: retrieve, assemble context, generate.
func (p *Pipeline) Run(ctx context.Context, question string) (*Result, error) {
	start := time.Now()

	retrievalStart := time.Now()
	retrieved, err := p.retriever.Retrieve(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("pipeline: retrieval: %w", err)
	}

	sources := retrieved[:0:0]
	for _, r := range retrieved {
		if r.Score >= p.scoreThreshold {
			sources = append(sources, r)
		}
	}
	retrievalTime := time.Since(retrievalStart)

	p.emit(StageRetrieval, question, sources)
	p.logger.Debug("retrieval complete",
		"retrieved", len(retrieved), "kept", len(sources), "took", retrievalTime)

	if len(sources) == 0 {
		result := &Result{
			Question:      question,
			Answer:        NoAnswerMessage,
			Sources:       []vectorstore.SearchResult{},
			ExecutionTime: time.Since(start),
			RetrievalTime: retrievalTime,
		}
		p.emit(StageEnd, question, endPayload(result.ExecutionTime))
		return result, nil
	}

	promptText := p.template.Render(buildContext(sources), question)

	generationStart := time.Now()
	completion, err := p.generator.Complete(ctx, "", promptText)
	if err != nil {
		return nil, fmt.Errorf("pipeline: generation: %w", err)
	}
	generationTime := time.Since(generationStart)

	answer := strings.TrimSpace(completion.Content)
	p.emit(StageGeneration, promptText, answer)

	result := &Result{
		Question:        question,
		Answer:          answer,
		Sources:         sources,
		ExecutionTime:   time.Since(start),
		RetrievalTime:   retrievalTime,
		GenerationTime:  generationTime,
		TokensGenerated: completion.CompletionTokens,
	}

	p.emit(StageEnd, question, endPayload(result.ExecutionTime))
	return result, nil
}

// endPayload is the output handed to StageEnd callbacks.
func endPayload(elapsed time.Duration) map[string]any {
	return map[string]any{"execution_time": elapsed.Seconds()}
}

// buildContext formats retrieved chunks into the {context} slot content.
func buildContext(sources []vectorstore.SearchResult) string {
	var b strings.Builder
	b.WriteString("Context:\n")

	for i, s := range sources {
		fmt.Fprintf(&b, "\n[Source %d - Score: %.3f]\n", i+1, s.Score)
		if s.Chunk.Title != "" {
			fmt.Fprintf(&b, "Title: %s\n", s.Chunk.Title)
		}
		if s.Chunk.Source != "" {
			fmt.Fprintf(&b, "Source: %s\n", s.Chunk.Source)
		}
		fmt.Fprintf(&b, "Content: %s\n", s.Chunk.Content)

		if i < len(sources)-1 {
			b.WriteString("\n---\n")
		}
	}

	return b.String()
}

// emit invokes every registered callback for a lifecycle stage.
func (p *Pipeline) emit(stage Stage, input, output any) {
	for _, cb := range p.callbacks {
		if cb != nil {
			cb(stage, input, output)
		}
	}
}

// AddObservabilityCallback registers a callback invoked at each lifecycle
// stage. Callbacks are side-effecting only; they must not alter pipeline
// behavior and must not panic.
func (p *Pipeline) AddObservabilityCallback(cb Callback) {
	if cb != nil {
		p.callbacks = append(p.callbacks, cb)
	}
}

// CallbackCount returns the number of registered callbacks.
func (p *Pipeline) CallbackCount() int {
	return len(p.callbacks)
}

// Template returns the active prompt template.
func (p *Pipeline) Template() prompt.Template {
	return p.template
}

// Retriever returns the pipeline's retriever.
func (p *Pipeline) Retriever() Retriever {
	return p.retriever
}

// Generator returns the pipeline's language model client.
func (p *Pipeline) Generator() Generator {
	return p.generator
}

// Store returns the vector store behind the retriever, or nil when the
// pipeline was assembled from a bare retriever.
func (p *Pipeline) Store() vectorstore.Store {
	return p.store
}

// Close releases the vector store if the pipeline constructed it. Stores
// supplied by the caller stay open.
func (p *Pipeline) Close() error {
	if p.store != nil && p.ownsStore {
		return p.store.Close()
	}
	return nil
}
