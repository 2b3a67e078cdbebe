package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"eduassist/config"
	"eduassist/embedding"
	"eduassist/llm"
	"eduassist/prompt"
	"eduassist/vectorstore"
)

// BuildOption overrides a single configured default in Build. Anything not
// overridden falls back to the configuration.
type BuildOption func(*buildOptions)

type buildOptions struct {
	apiKey      string
	model       string
	temperature *float64
	maxTokens   int
	topK        int
	storeType   string
	template    prompt.Template
	store       vectorstore.Store
	embedder    embedding.Provider
	generator   Generator
	callbacks   []Callback
	logger      *slog.Logger
}

// WithAPIKey overrides the configured API key.
func WithAPIKey(key string) BuildOption {
	return func(o *buildOptions) { o.apiKey = key }
}

// WithModel overrides the configured language model name.
func WithModel(model string) BuildOption {
	return func(o *buildOptions) { o.model = model }
}

// WithTemperature overrides the configured sampling temperature. Zero is a
// valid override.
func WithTemperature(t float64) BuildOption {
	return func(o *buildOptions) { o.temperature = &t }
}

// WithMaxTokens overrides the configured completion token limit.
func WithMaxTokens(n int) BuildOption {
	return func(o *buildOptions) { o.maxTokens = n }
}

// WithTopK overrides the configured retrieval fan-out.
func WithTopK(k int) BuildOption {
	return func(o *buildOptions) { o.topK = k }
}

// WithStoreType overrides the configured vector store type tag.
func WithStoreType(storeType string) BuildOption {
	return func(o *buildOptions) { o.storeType = storeType }
}

// WithTemplate sets the prompt template. When unset, the template is chosen
// from the configured prompt style.
func WithTemplate(t prompt.Template) BuildOption {
	return func(o *buildOptions) { o.template = t }
}

// WithStore supplies an existing vector store. The store factory is skipped
// entirely and the caller keeps ownership; Close on the pipeline will not
// close it.
func WithStore(store vectorstore.Store) BuildOption {
	return func(o *buildOptions) { o.store = store }
}

// WithEmbedder supplies an embeddings provider instead of constructing one
// from the configuration.
func WithEmbedder(e embedding.Provider) BuildOption {
	return func(o *buildOptions) { o.embedder = e }
}

// WithGenerator supplies a language model client instead of constructing one
// from the configuration.
func WithGenerator(g Generator) BuildOption {
	return func(o *buildOptions) { o.generator = g }
}

// WithCallback registers an observability callback at build time.
func WithCallback(cb Callback) BuildOption {
	return func(o *buildOptions) {
		if cb != nil {
			o.callbacks = append(o.callbacks, cb)
		}
	}
}

// WithLogger sets the logger used by the builder and the pipeline.
func WithLogger(logger *slog.Logger) BuildOption {
	return func(o *buildOptions) { o.logger = logger }
}

// resolved holds the effective settings after coalescing options over the
// configured defaults.
type resolved struct {
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	topK        int
	storeType   string
}

// resolve applies "first non-null wins": an explicit option beats the
// configured default, field by field.
func (o *buildOptions) resolve(cfg config.Config) resolved {
	r := resolved{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		topK:        cfg.TopK,
		storeType:   cfg.VectorStore.Type,
	}
	if o.apiKey != "" {
		r.apiKey = o.apiKey
	}
	if o.model != "" {
		r.model = o.model
	}
	if o.temperature != nil {
		r.temperature = *o.temperature
	}
	if o.maxTokens > 0 {
		r.maxTokens = o.maxTokens
	}
	if o.topK > 0 {
		r.topK = o.topK
	}
	if o.storeType != "" {
		r.storeType = o.storeType
	}
	return r
}

// Build assembles a pipeline from configured defaults and per-call overrides.
// Collaborators are constructed lazily: the store factory runs only when no
// store was supplied, and the language model client only when no generator
// was supplied. Build does not validate the resolved settings beyond what the
// collaborator constructors require.
func Build(ctx context.Context, cfg config.Config, opts ...BuildOption) (*Pipeline, error) {
	o := &buildOptions{}
	for _, opt := range opts {
		opt(o)
	}
	r := o.resolve(cfg)

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	store := o.store
	ownsStore := false
	if store == nil {
		embedder, err := o.newEmbedder(cfg)
		if err != nil {
			return nil, fmt.Errorf("build pipeline: %w", err)
		}

		storeCfg := cfg.VectorStore
		storeCfg.Type = r.storeType
		store, err = vectorstore.New(ctx, storeCfg, embedder)
		if err != nil {
			return nil, fmt.Errorf("build pipeline: %w", err)
		}
		ownsStore = true
	}

	generator := o.generator
	if generator == nil {
		llmOpts := []llm.Option{llm.WithMaxTokens(r.maxTokens)}
		if cfg.OpenAIBaseURL != "" {
			llmOpts = append(llmOpts, llm.WithBaseURL(cfg.OpenAIBaseURL))
		}

		client, err := llm.New(r.apiKey, r.model, r.temperature, llmOpts...)
		if err != nil {
			if ownsStore {
				store.Close()
			}
			return nil, fmt.Errorf("build pipeline: %w", err)
		}
		generator = client
	}

	template := o.template
	if template.IsZero() {
		template = prompt.ForStyle(prompt.Style(cfg.PromptStyle))
	}

	pipelineOpts := []PipelineOption{
		WithScoreThreshold(cfg.ScoreThreshold),
		WithPipelineLogger(logger),
		withCallbacks(o.callbacks),
		withStore(store, ownsStore),
	}

	p, err := New(generator, store.AsRetriever(r.topK), template, pipelineOpts...)
	if err != nil {
		if ownsStore {
			store.Close()
		}
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	logger.Info("rag pipeline ready",
		"model", r.model,
		"store", store.Name(),
		"top_k", r.topK,
		"temperature", r.temperature,
	)

	return p, nil
}

// newEmbedder constructs the embeddings provider named by the configuration,
// unless one was supplied.
func (o *buildOptions) newEmbedder(cfg config.Config) (embedding.Provider, error) {
	if o.embedder != nil {
		return o.embedder, nil
	}

	switch cfg.EmbeddingProvider {
	case "ollama":
		ollamaCfg := cfg.Ollama
		if cfg.EmbeddingModel != "" {
			ollamaCfg.Model = cfg.EmbeddingModel
		}
		return embedding.NewOllamaProvider(ollamaCfg), nil
	case "openai", "":
		var openAIOpts []embedding.OpenAIOption
		if cfg.OpenAIBaseURL != "" {
			openAIOpts = append(openAIOpts, embedding.WithOpenAIBaseURL(cfg.OpenAIBaseURL))
		}
		key := o.apiKey
		if key == "" {
			key = cfg.APIKey
		}
		return embedding.NewOpenAIProvider(key, cfg.EmbeddingModel, openAIOpts...)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}
}
