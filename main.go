// Command eduassist runs the educational assistant: ingest documents into a
// vector store, query them through the RAG pipeline, or serve the HTTP API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"eduassist/chunking"
	"eduassist/config"
	"eduassist/document"
	"eduassist/pipeline"
	"eduassist/server"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: eduassist <command>")
		fmt.Println("Commands:")
		fmt.Println("  ingest <path>...   index files or directories")
		fmt.Println("  crawl <url>        crawl a curriculum site and index it")
		fmt.Println("  query <question>   ask a question against the index")
		fmt.Println("  serve              start the HTTP API server")
		os.Exit(1)
	}

	logger := newLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load configuration", "error", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "ingest":
		err = runIngest(cfg, logger, os.Args[2:])
	case "crawl":
		if len(os.Args) < 3 {
			err = fmt.Errorf("crawl: url required")
		} else {
			err = runCrawl(cfg, logger, os.Args[2])
		}
	case "query":
		err = runQuery(cfg, logger, strings.Join(os.Args[2:], " "))
	case "serve":
		err = runServe(cfg, logger)
	default:
		err = fmt.Errorf("unknown command: %s", os.Args[1])
	}

	if err != nil {
		logger.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
	}))
}

// runIngest loads the given files (directories are walked) and indexes their
// chunks into the configured vector store.
func runIngest(cfg config.Config, logger *slog.Logger, paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("ingest: at least one path required")
	}

	ctx := context.Background()

	p, err := pipeline.Build(ctx, cfg, pipeline.WithLogger(logger))
	if err != nil {
		return err
	}
	defer p.Close()

	store := p.Store()
	if store == nil {
		return fmt.Errorf("ingest: pipeline has no attached store")
	}

	var docs []document.Document
	for _, path := range paths {
		loaded, err := loadPath(path, logger)
		if err != nil {
			return err
		}
		docs = append(docs, loaded...)
	}
	if len(docs) == 0 {
		return fmt.Errorf("ingest: no loadable documents under %s", strings.Join(paths, ", "))
	}

	chunks := chunking.Process(cfg.Chunking, docs)
	if err := store.Add(ctx, chunks); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	logger.Info("ingest complete", "documents", len(docs), "chunks", len(chunks))
	return nil
}

// loadPath loads a file, or every supported file under a directory.
func loadPath(path string, logger *slog.Logger) ([]document.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	if !info.IsDir() {
		doc, err := document.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("ingest: %w", err)
		}
		return []document.Document{doc}, nil
	}

	var docs []document.Document
	walkErr := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		doc, err := document.LoadFile(p)
		if err != nil {
			// Unsupported or unreadable files are skipped, not fatal.
			logger.Warn("skipping file", "path", p, "error", err)
			return nil
		}
		docs = append(docs, doc)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("ingest: walk %s: %w", path, walkErr)
	}
	return docs, nil
}

// runCrawl crawls a site and indexes everything it finds.
func runCrawl(cfg config.Config, logger *slog.Logger, url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	p, err := pipeline.Build(ctx, cfg, pipeline.WithLogger(logger))
	if err != nil {
		return err
	}
	defer p.Close()

	store := p.Store()
	if store == nil {
		return fmt.Errorf("crawl: pipeline has no attached store")
	}

	loaderCfg := document.DefaultWebLoaderConfig()
	loaderCfg.StartURL = url

	loader, err := document.NewWebLoader(loaderCfg, logger)
	if err != nil {
		return err
	}

	docs, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	logger.Info("crawl complete", "documents", len(docs))

	chunks := chunking.Process(cfg.Chunking, docs)
	if err := store.Add(ctx, chunks); err != nil {
		return fmt.Errorf("crawl: index: %w", err)
	}

	logger.Info("indexing complete", "chunks", len(chunks))
	return nil
}

// runQuery answers one question and prints the answer with its sources.
func runQuery(cfg config.Config, logger *slog.Logger, question string) error {
	if strings.TrimSpace(question) == "" {
		return fmt.Errorf("query: question required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	p, err := pipeline.Build(ctx, cfg, pipeline.WithLogger(logger))
	if err != nil {
		return err
	}
	defer p.Close()
	pipeline.AddDefaultObservability(p)

	result, err := p.Run(ctx, question)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(result.Answer)
	if len(result.Sources) > 0 {
		fmt.Println("\nSources:")
		for i, s := range result.Sources {
			fmt.Printf("  %d. %s (%.3f)\n", i+1, s.Chunk.Title, s.Score)
		}
	}
	return nil
}

// runServe builds the pipeline and starts the HTTP API.
func runServe(cfg config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	p, err := pipeline.Build(ctx, cfg, pipeline.WithLogger(logger))
	if err != nil {
		return err
	}
	defer p.Close()
	pipeline.AddDefaultObservability(p)

	srv, err := server.New(cfg, p, logger)
	if err != nil {
		return err
	}
	return srv.Start()
}
