// Package server exposes the RAG pipeline and the assistant over HTTP: query
// and similarity endpoints, document ingestion (upload and crawl), IEP and
// lesson plan generation, and a websocket for progress updates.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"eduassist/assistant"
	"eduassist/chunking"
	"eduassist/config"
	"eduassist/document"
	"eduassist/pipeline"
)

// maxUploadSize caps document uploads at 32 MiB.
const maxUploadSize = 32 << 20

// Server wires the pipeline, the assistant and document ingestion behind the
// HTTP API.
type Server struct {
	cfg       config.Config
	logger    *slog.Logger
	assistant *assistant.Service

	mu       sync.RWMutex
	pipeline *pipeline.Pipeline
	docs     []document.Document

	stats    *SystemStats
	upgrader websocket.Upgrader

	// Broadcast channel for websocket progress updates.
	wsMu      sync.Mutex
	wsClients map[*websocket.Conn]bool
}

// SystemStats tracks query volume and latency since startup.
type SystemStats struct {
	QueryCount      int64     `json:"queryCount"`
	TotalTime       int64     `json:"totalTime"` // milliseconds
	TokensGenerated int64     `json:"tokensGenerated"`
	SuccessCount    int64     `json:"successCount"`
	StartTime       time.Time `json:"startTime"`
	mu              sync.RWMutex
}

type QueryRequest struct {
	Query string `json:"query"`
}

type QueryResponse struct {
	Answer          string       `json:"answer"`
	Sources         []SourceInfo `json:"sources"`
	ProcessingTime  int64        `json:"processingTime"`
	RetrievalTime   int64        `json:"retrievalTime"`
	GenerationTime  int64        `json:"generationTime"`
	TokensGenerated int          `json:"tokensGenerated"`
	Success         bool         `json:"success"`
	Error           string       `json:"error,omitempty"`
}

type SourceInfo struct {
	Title   string  `json:"title"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
	Content string  `json:"content,omitempty"`
}

type SimilarRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"topk,omitempty"`
}

type SimilarResponse struct {
	Results []SourceInfo `json:"results"`
	Success bool         `json:"success"`
	Error   string       `json:"error,omitempty"`
}

type DocumentInfo struct {
	Hash        string    `json:"hash"`
	Title       string    `json:"title"`
	Source      string    `json:"source"`
	ContentType string    `json:"contentType"`
	Timestamp   time.Time `json:"timestamp"`
}

type IngestResponse struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message,omitempty"`
	Documents []DocumentInfo `json:"documents,omitempty"`
	Chunks    int            `json:"chunks,omitempty"`
	Error     string         `json:"error,omitempty"`
}

type CrawlRequest struct {
	URL          string `json:"url"`
	DomainPrefix string `json:"domainPrefix,omitempty"`
	MaxDepth     int    `json:"maxDepth,omitempty"`
}

type IEPRequest struct {
	DocumentHash string `json:"documentHash"`
}

type ConfigUpdateRequest struct {
	TopK        int     `json:"topk,omitempty"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type StatsResponse struct {
	*SystemStats
	AverageTime   int64   `json:"averageTime"`
	SuccessRate   float64 `json:"successRate"`
	CurrentModel  string  `json:"currentModel"`
	TopK          int     `json:"topK"`
	DocumentCount int     `json:"documentCount"`
}

// WSMessage is pushed to websocket clients on ingestion progress.
type WSMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// New constructs the server around an already-built pipeline.
func New(cfg config.Config, p *pipeline.Pipeline, logger *slog.Logger) (*Server, error) {
	if p == nil {
		return nil, fmt.Errorf("server: pipeline must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	svc, err := assistant.NewService(p.Generator(), logger)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:       cfg,
		logger:    logger.With("component", "server"),
		assistant: svc,
		pipeline:  p,
		stats:     &SystemStats{StartTime: time.Now()},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
		wsClients: make(map[*websocket.Conn]bool),
	}, nil
}

func (s *Server) setupRoutes() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/query", s.handleQuery).Methods("POST")
	api.HandleFunc("/similar", s.handleSimilar).Methods("POST")
	api.HandleFunc("/documents", s.handleUpload).Methods("POST")
	api.HandleFunc("/documents", s.handleListDocuments).Methods("GET")
	api.HandleFunc("/crawl", s.handleCrawl).Methods("POST")
	api.HandleFunc("/iep", s.handleGenerateIEP).Methods("POST")
	api.HandleFunc("/ieps", s.handleListIEPs).Methods("GET")
	api.HandleFunc("/lesson-plan", s.handleGenerateLessonPlan).Methods("POST")
	api.HandleFunc("/lesson-plans", s.handleListLessonPlans).Methods("GET")
	api.HandleFunc("/config", s.handleConfigUpdate).Methods("POST")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/ws", s.handleWebSocket).Methods("GET")

	r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.cfg.Server.StaticDir)))

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})

	return c.Handler(r)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, "Query cannot be empty", http.StatusBadRequest)
		return
	}

	start := time.Now()

	s.mu.RLock()
	p := s.pipeline
	s.mu.RUnlock()

	result, err := p.Run(r.Context(), req.Query)
	processingTime := time.Since(start).Milliseconds()

	response := QueryResponse{ProcessingTime: processingTime}

	if err != nil {
		response.Error = err.Error()
		s.updateStats(processingTime, 0, false)
		s.respondJSON(w, response)
		return
	}

	response.Success = true
	response.Answer = result.Answer
	response.RetrievalTime = result.RetrievalTime.Milliseconds()
	response.GenerationTime = result.GenerationTime.Milliseconds()
	response.TokensGenerated = result.TokensGenerated
	for _, source := range result.Sources {
		response.Sources = append(response.Sources, SourceInfo{
			Title:   source.Chunk.Title,
			Source:  source.Chunk.Source,
			Score:   float64(source.Score),
			Content: truncate(source.Chunk.Content, 200),
		})
	}

	s.updateStats(processingTime, result.TokensGenerated, true)
	s.respondJSON(w, response)
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	var req SimilarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, "Query cannot be empty", http.StatusBadRequest)
		return
	}

	s.mu.RLock()
	retriever := s.pipeline.Retriever()
	store := s.pipeline.Store()
	s.mu.RUnlock()

	topK := req.TopK
	if topK <= 0 {
		topK = retriever.TopK()
	}

	response := SimilarResponse{}

	var err error
	var results []SourceInfo
	if store != nil {
		hits, searchErr := store.Search(r.Context(), req.Query, topK)
		err = searchErr
		for _, hit := range hits {
			results = append(results, SourceInfo{
				Title:   hit.Chunk.Title,
				Source:  hit.Chunk.Source,
				Score:   float64(hit.Score),
				Content: truncate(hit.Chunk.Content, 300),
			})
		}
	} else {
		hits, retrieveErr := retriever.Retrieve(r.Context(), req.Query)
		err = retrieveErr
		for _, hit := range hits {
			results = append(results, SourceInfo{
				Title:   hit.Chunk.Title,
				Source:  hit.Chunk.Source,
				Score:   float64(hit.Score),
				Content: truncate(hit.Chunk.Content, 300),
			})
		}
	}

	if err != nil {
		response.Error = err.Error()
	} else {
		response.Success = true
		response.Results = results
	}

	s.respondJSON(w, response)
}

// handleUpload accepts one or more files as multipart form data under the
// "files" field, converts them to documents and indexes their chunks.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		http.Error(w, "No files uploaded", http.StatusBadRequest)
		return
	}

	var docs []document.Document
	for _, header := range files {
		doc, err := s.loadUpload(header.Filename, header)
		if err != nil {
			s.respondJSON(w, IngestResponse{
				Error: fmt.Sprintf("load %s: %v", header.Filename, err),
			})
			return
		}
		docs = append(docs, doc)
	}

	count, err := s.ingest(r.Context(), docs)
	if err != nil {
		s.respondJSON(w, IngestResponse{Error: err.Error()})
		return
	}

	infos := make([]DocumentInfo, len(docs))
	for i, d := range docs {
		infos[i] = documentInfo(d)
	}

	s.respondJSON(w, IngestResponse{
		Success:   true,
		Message:   fmt.Sprintf("Indexed %d documents (%d chunks)", len(docs), count),
		Documents: infos,
		Chunks:    count,
	})
}

// loadUpload writes the uploaded file to a temp path so the extension-based
// loader can process it, then removes it.
func (s *Server) loadUpload(filename string, header *multipart.FileHeader) (document.Document, error) {
	src, err := header.Open()
	if err != nil {
		return document.Document{}, err
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "upload-*"+filepath.Ext(filename))
	if err != nil {
		return document.Document{}, err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return document.Document{}, err
	}
	if err := tmp.Close(); err != nil {
		return document.Document{}, err
	}

	doc, err := document.LoadFile(tmp.Name())
	if err != nil {
		return document.Document{}, err
	}

	// The temp path is meaningless to the user; report the original name.
	doc.Source = filename
	doc.Title = document.TitleFromPath(filename)
	return doc, nil
}

// ingest chunks the documents, indexes them and records them for the
// assistant endpoints. Returns the number of chunks indexed.
func (s *Server) ingest(ctx context.Context, docs []document.Document) (int, error) {
	chunks := chunking.Process(s.cfg.Chunking, docs)

	s.mu.RLock()
	store := s.pipeline.Store()
	s.mu.RUnlock()
	if store == nil {
		return 0, fmt.Errorf("server: pipeline has no attached store")
	}

	if err := store.Add(ctx, chunks); err != nil {
		return 0, fmt.Errorf("server: index chunks: %w", err)
	}

	s.mu.Lock()
	s.docs = append(s.docs, docs...)
	s.mu.Unlock()

	s.logger.Info("documents ingested", "documents", len(docs), "chunks", len(chunks))
	s.broadcast(WSMessage{
		Type:    "ingest",
		Message: fmt.Sprintf("Indexed %d documents (%d chunks)", len(docs), len(chunks)),
	})

	return len(chunks), nil
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	infos := make([]DocumentInfo, len(s.docs))
	for i, d := range s.docs {
		infos[i] = documentInfo(d)
	}
	s.mu.RUnlock()

	s.respondJSON(w, map[string]any{"documents": infos})
}

// handleCrawl starts a background crawl of a curriculum site and indexes
// everything it finds. Progress is pushed over the websocket.
func (s *Server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	var req CrawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.URL == "" {
		http.Error(w, "URL cannot be empty", http.StatusBadRequest)
		return
	}

	go s.runCrawl(req)

	s.respondJSON(w, IngestResponse{
		Success: true,
		Message: "Crawl started in background",
	})
}

func (s *Server) runCrawl(req CrawlRequest) {
	loaderCfg := document.DefaultWebLoaderConfig()
	loaderCfg.StartURL = req.URL
	if req.DomainPrefix != "" {
		loaderCfg.DomainPrefix = req.DomainPrefix
	}
	if req.MaxDepth > 0 {
		loaderCfg.MaxDepth = req.MaxDepth
	}

	loader, err := document.NewWebLoader(loaderCfg, s.logger)
	if err != nil {
		s.logger.Error("crawl setup failed", "url", req.URL, "error", err)
		s.broadcast(WSMessage{Type: "error", Message: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	s.logger.Info("crawl started", "url", req.URL)
	docs, err := loader.Load(ctx)
	if err != nil {
		s.logger.Error("crawl failed", "url", req.URL, "error", err)
		s.broadcast(WSMessage{Type: "error", Message: err.Error()})
		return
	}

	if _, err := s.ingest(ctx, docs); err != nil {
		s.logger.Error("crawl indexing failed", "url", req.URL, "error", err)
		s.broadcast(WSMessage{Type: "error", Message: err.Error()})
	}
}

func (s *Server) handleGenerateIEP(w http.ResponseWriter, r *http.Request) {
	var req IEPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.DocumentHash == "" {
		http.Error(w, "documentHash is required", http.StatusBadRequest)
		return
	}

	doc, ok := s.documentByHash(req.DocumentHash)
	if !ok {
		http.Error(w, "Document not found", http.StatusNotFound)
		return
	}

	iep, err := s.assistant.GenerateIEP(r.Context(), doc)
	if err != nil {
		s.respondJSON(w, map[string]any{"success": false, "error": err.Error()})
		return
	}

	s.respondJSON(w, map[string]any{"success": true, "iep": iep})
}

func (s *Server) handleListIEPs(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, map[string]any{"ieps": s.assistant.ListIEPs()})
}

func (s *Server) handleGenerateLessonPlan(w http.ResponseWriter, r *http.Request) {
	var req assistant.LessonPlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	plan, err := s.assistant.GenerateLessonPlan(r.Context(), req)
	if err != nil {
		s.respondJSON(w, map[string]any{"success": false, "error": err.Error()})
		return
	}

	s.respondJSON(w, map[string]any{"success": true, "lessonPlan": plan})
}

func (s *Server) handleListLessonPlans(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, map[string]any{"lessonPlans": s.assistant.ListLessonPlans()})
}

// handleConfigUpdate applies runtime overrides by rebuilding the pipeline
// around the existing store.
func (s *Server) handleConfigUpdate(w http.ResponseWriter, r *http.Request) {
	var req ConfigUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.TopK > 0 && req.TopK <= 20 {
		s.cfg.TopK = req.TopK
	}
	if req.Model != "" {
		s.cfg.Model = req.Model
	}
	if req.Temperature >= 0 && req.Temperature <= 2 && req.Temperature != 0 {
		s.cfg.Temperature = req.Temperature
	}

	store := s.pipeline.Store()
	opts := []pipeline.BuildOption{pipeline.WithLogger(s.logger)}
	if store != nil {
		opts = append(opts, pipeline.WithStore(store))
	}

	rebuilt, err := pipeline.Build(r.Context(), s.cfg, opts...)
	if err != nil {
		s.respondJSON(w, map[string]any{"success": false, "error": err.Error()})
		return
	}
	s.pipeline = pipeline.AddDefaultObservability(rebuilt)

	s.respondJSON(w, map[string]any{
		"success": true,
		"message": "Configuration updated successfully",
		"config": map[string]any{
			"topk":        s.cfg.TopK,
			"model":       s.cfg.Model,
			"temperature": s.cfg.Temperature,
		},
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.stats.mu.RLock()
	defer s.stats.mu.RUnlock()

	var avgTime int64
	var successRate float64
	if s.stats.QueryCount > 0 {
		avgTime = s.stats.TotalTime / s.stats.QueryCount
		successRate = float64(s.stats.SuccessCount) / float64(s.stats.QueryCount) * 100
	} else {
		successRate = 100
	}

	s.mu.RLock()
	docCount := len(s.docs)
	topK := s.pipeline.Retriever().TopK()
	model := s.pipeline.Generator().Model()
	s.mu.RUnlock()

	s.respondJSON(w, StatsResponse{
		SystemStats:   s.stats,
		AverageTime:   avgTime,
		SuccessRate:   successRate,
		CurrentModel:  model,
		TopK:          topK,
		DocumentCount: docCount,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	s.wsMu.Lock()
	s.wsClients[conn] = true
	s.wsMu.Unlock()

	defer func() {
		s.wsMu.Lock()
		delete(s.wsClients, conn)
		s.wsMu.Unlock()
		conn.Close()
	}()

	// Drain client messages; the connection is push-only.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// broadcast pushes a message to every connected websocket client.
func (s *Server) broadcast(msg WSMessage) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	for conn := range s.wsClients {
		if err := conn.WriteJSON(msg); err != nil {
			conn.Close()
			delete(s.wsClients, conn)
		}
	}
}

func (s *Server) documentByHash(hash string) (document.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.docs {
		if d.Hash == hash {
			return d, true
		}
	}
	return document.Document{}, false
}

func (s *Server) updateStats(processingTime int64, tokens int, success bool) {
	s.stats.mu.Lock()
	defer s.stats.mu.Unlock()

	s.stats.QueryCount++
	s.stats.TotalTime += processingTime
	s.stats.TokensGenerated += int64(tokens)
	if success {
		s.stats.SuccessCount++
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("encode response failed", "error", err)
	}
}

func documentInfo(d document.Document) DocumentInfo {
	return DocumentInfo{
		Hash:        d.Hash,
		Title:       d.Title,
		Source:      d.Source,
		ContentType: d.ContentType,
		Timestamp:   d.Timestamp,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Start runs the HTTP server until the listener fails.
func (s *Server) Start() error {
	handler := s.setupRoutes()
	addr := ":" + s.cfg.Server.Port

	s.logger.Info("http server starting",
		"addr", addr, "static_dir", s.cfg.Server.StaticDir)

	return http.ListenAndServe(addr, handler)
}
