package document

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/temoto/robotstxt"
)

// WebLoaderConfig holds configuration for crawling curriculum pages.
type WebLoaderConfig struct {
	StartURL       string
	DomainPrefix   string // Only links under this prefix are followed
	MaxDepth       int
	MaxConcurrency int
	DelayBetween   time.Duration
	RespectRobots  bool
	UserAgent      string
}

// DefaultWebLoaderConfig returns conservative crawl defaults.
func DefaultWebLoaderConfig() WebLoaderConfig {
	return WebLoaderConfig{
		MaxDepth:       2,
		MaxConcurrency: 4,
		DelayBetween:   500 * time.Millisecond,
		RespectRobots:  true,
		UserAgent:      "eduassist/1.0",
	}
}

// WebLoader crawls web pages under a domain prefix and converts them (HTML
// pages and linked PDFs) into Documents.
type WebLoader struct {
	config     WebLoaderConfig
	collector  *colly.Collector
	logger     *slog.Logger
	robotsData *robotstxt.RobotsData

	mu      sync.Mutex
	visited map[string]bool
	seen    map[string]bool // content hashes, for dedup
	docs    []Document
}

// NewWebLoader creates a web loader. If logger is nil, slog.Default is used.
func NewWebLoader(config WebLoaderConfig, logger *slog.Logger) (*WebLoader, error) {
	if config.StartURL == "" {
		return nil, fmt.Errorf("web loader: StartURL must not be empty")
	}
	if config.DomainPrefix == "" {
		config.DomainPrefix = config.StartURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	wl := &WebLoader{
		config:  config,
		logger:  logger.With("component", "webloader"),
		visited: make(map[string]bool),
		seen:    make(map[string]bool),
	}

	wl.collector = colly.NewCollector(
		colly.MaxDepth(config.MaxDepth),
		colly.Async(true),
	)
	wl.collector.UserAgent = config.UserAgent

	wl.collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: config.MaxConcurrency,
		Delay:       config.DelayBetween,
	})

	if config.RespectRobots {
		if err := wl.loadRobotsTxt(); err != nil {
			wl.logger.Warn("could not load robots.txt", "error", err)
		}
	}

	wl.setupCollectors()

	return wl, nil
}

// loadRobotsTxt fetches and parses robots.txt for the start URL's host.
func (wl *WebLoader) loadRobotsTxt() error {
	baseURL, err := url.Parse(wl.config.StartURL)
	if err != nil {
		return err
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", baseURL.Scheme, baseURL.Host)
	resp, err := http.Get(robotsURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("robots.txt not found (status: %d)", resp.StatusCode)
	}

	wl.robotsData, err = robotstxt.FromResponse(resp)
	return err
}

func (wl *WebLoader) allowedByRobots(urlStr string) bool {
	if wl.robotsData == nil {
		return true
	}
	return wl.robotsData.TestAgent(urlStr, wl.config.UserAgent)
}

func (wl *WebLoader) setupCollectors() {
	wl.collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if wl.shouldFollowLink(link) {
			e.Request.Visit(link)
		}
	})

	wl.collector.OnHTML("html", func(e *colly.HTMLElement) {
		wl.extractHTMLContent(e)
	})

	wl.collector.OnResponse(func(r *colly.Response) {
		contentType := r.Headers.Get("Content-Type")
		if strings.Contains(contentType, "pdf") {
			wl.extractPDFContent(r)
		}
	})

	wl.collector.OnError(func(r *colly.Response, err error) {
		wl.logger.Warn("fetch failed", "url", r.Request.URL.String(), "error", err)
	})
}

// shouldFollowLink reports whether link is in scope and not yet visited, and
// marks it visited when it is.
func (wl *WebLoader) shouldFollowLink(link string) bool {
	if !strings.HasPrefix(link, wl.config.DomainPrefix) {
		return false
	}
	if wl.config.RespectRobots && !wl.allowedByRobots(link) {
		return false
	}

	wl.mu.Lock()
	defer wl.mu.Unlock()
	if wl.visited[link] {
		return false
	}
	wl.visited[link] = true
	return true
}

func (wl *WebLoader) extractHTMLContent(e *colly.HTMLElement) {
	title := e.ChildText("title")
	if title == "" {
		title = e.ChildText("h1")
	}

	contentSelectors := []string{
		"main", "article", ".content", "#content", "body",
	}

	var content string
	for _, selector := range contentSelectors {
		if text := e.ChildText(selector); text != "" {
			content = text
			break
		}
	}

	if content == "" {
		return
	}

	wl.addDocument(New(e.Request.URL.String(), title, content, "text/html"))
}

func (wl *WebLoader) extractPDFContent(r *colly.Response) {
	tempFile := filepath.Join(os.TempDir(), fmt.Sprintf("eduassist_%s.pdf", contentHash(r.Request.URL.String())[:8]))
	if err := os.WriteFile(tempFile, r.Body, 0644); err != nil {
		wl.logger.Warn("saving PDF failed", "url", r.Request.URL.String(), "error", err)
		return
	}
	defer os.Remove(tempFile)

	doc, err := loadPDF(tempFile)
	if err != nil {
		wl.logger.Warn("extracting PDF failed", "url", r.Request.URL.String(), "error", err)
		return
	}

	doc.Source = r.Request.URL.String()
	doc.Title = TitleFromPath(r.Request.URL.Path)
	doc.Hash = contentHash(doc.Content)
	wl.addDocument(doc)
}

func (wl *WebLoader) addDocument(doc Document) {
	wl.mu.Lock()
	defer wl.mu.Unlock()

	if wl.seen[doc.Hash] {
		return
	}
	wl.seen[doc.Hash] = true
	wl.docs = append(wl.docs, doc)
	wl.logger.Debug("collected document", "source", doc.Source, "chars", len(doc.Content))
}

// Load crawls from the start URL and returns the collected documents.
func (wl *WebLoader) Load(ctx context.Context) ([]Document, error) {
	wl.logger.Info("starting crawl", "url", wl.config.StartURL)

	done := make(chan error, 1)
	go func() {
		err := wl.collector.Visit(wl.config.StartURL)
		wl.collector.Wait()
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("web loader: %w", err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	wl.mu.Lock()
	defer wl.mu.Unlock()
	result := make([]Document, len(wl.docs))
	copy(result, wl.docs)
	return result, nil
}
