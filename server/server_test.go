package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduassist/config"
	"eduassist/document"
	"eduassist/llm"
	"eduassist/pipeline"
	"eduassist/vectorstore"
)

type fakeGenerator struct {
	response string
	err      error
}

func (g *fakeGenerator) Complete(context.Context, string, string) (llm.Completion, error) {
	if g.err != nil {
		return llm.Completion{}, g.err
	}
	return llm.Completion{Content: g.response, CompletionTokens: 5}, nil
}

func (g *fakeGenerator) Model() string { return "fake-model" }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := []float32{0, 0, 1}
	for i, r := range text {
		v[i%3] += float32(r % 13)
	}
	return v, nil
}

func (e fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (fakeEmbedder) Dimensions() int { return 3 }

func (fakeEmbedder) ModelID() string { return "fake-embedder" }

func newTestServer(t *testing.T, gen *fakeGenerator) *Server {
	t.Helper()

	cfg := config.Default()
	cfg.ScoreThreshold = 0 // keep every hit in tests

	store := vectorstore.NewMemoryStore(fakeEmbedder{})
	p, err := pipeline.Build(context.Background(), cfg,
		pipeline.WithGenerator(gen),
		pipeline.WithStore(store),
	)
	require.NoError(t, err)

	srv, err := New(cfg, p, nil)
	require.NoError(t, err)
	return srv
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func ingestTestDoc(t *testing.T, srv *Server, content string) document.Document {
	t.Helper()
	doc := document.New("eval.txt", "Student Evaluation", content, "text/plain")
	_, err := srv.ingest(context.Background(), []document.Document{doc})
	require.NoError(t, err)
	return doc
}

func TestQueryEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeGenerator{response: "The student needs extended time."})
	handler := srv.setupRoutes()

	ingestTestDoc(t, srv,
		"The evaluation recommends extended time on reading assessments and small group instruction for the student.")

	rec := postJSON(t, handler, "/api/query", QueryRequest{Query: "What accommodations are recommended?"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[QueryResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "The student needs extended time.", resp.Answer)
	assert.NotEmpty(t, resp.Sources)
	assert.Equal(t, 5, resp.TokensGenerated)
}

func TestQueryEndpointRejectsEmptyQuery(t *testing.T) {
	srv := newTestServer(t, &fakeGenerator{response: "x"})
	handler := srv.setupRoutes()

	rec := postJSON(t, handler, "/api/query", QueryRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryEndpointReportsPipelineError(t *testing.T) {
	srv := newTestServer(t, &fakeGenerator{err: fmt.Errorf("backend down")})
	handler := srv.setupRoutes()

	ingestTestDoc(t, srv,
		"Enough content to produce at least one chunk for retrieval during this failing query test case.")

	rec := postJSON(t, handler, "/api/query", QueryRequest{Query: "anything"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[QueryResponse](t, rec)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "backend down")
}

func TestSimilarEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeGenerator{response: "x"})
	handler := srv.setupRoutes()

	ingestTestDoc(t, srv,
		"Reading fluency goals are assessed quarterly with progress reports sent to the family each term.")

	rec := postJSON(t, handler, "/api/similar", SimilarRequest{Query: "reading goals", TopK: 2})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[SimilarResponse](t, rec)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Results)
}

func TestUploadEndpointIndexesFiles(t *testing.T) {
	srv := newTestServer(t, &fakeGenerator{response: "x"})
	handler := srv.setupRoutes()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("files", "goals.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("Annual goals include decoding multisyllabic words and reading sixty words per minute with accuracy."))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[IngestResponse](t, rec)
	assert.True(t, resp.Success, resp.Error)
	assert.Positive(t, resp.Chunks)
	require.Len(t, resp.Documents, 1)
	assert.Equal(t, "goals.txt", resp.Documents[0].Source)
	assert.Equal(t, "goals", resp.Documents[0].Title)

	count, err := srv.pipeline.Store().Count(context.Background())
	require.NoError(t, err)
	assert.Positive(t, count)
}

func TestDocumentListEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeGenerator{response: "x"})
	handler := srv.setupRoutes()

	doc := ingestTestDoc(t, srv,
		"A document long enough to be chunked and listed by the documents endpoint afterwards.")

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[map[string][]DocumentInfo](t, rec)
	require.Len(t, resp["documents"], 1)
	assert.Equal(t, doc.Hash, resp["documents"][0].Hash)
}

func TestIEPAndLessonPlanFlow(t *testing.T) {
	gen := &fakeGenerator{response: "Generated IEP with goals and accommodations."}
	srv := newTestServer(t, gen)
	handler := srv.setupRoutes()

	doc := ingestTestDoc(t, srv,
		"The student evaluation notes difficulty with decoding and recommends structured literacy support.")

	rec := postJSON(t, handler, "/api/iep", IEPRequest{DocumentHash: doc.Hash})
	require.Equal(t, http.StatusOK, rec.Code)

	iepResp := decode[struct {
		Success bool `json:"success"`
		IEP     struct {
			ID      string `json:"id"`
			Content string `json:"content"`
		} `json:"iep"`
	}](t, rec)
	require.True(t, iepResp.Success)
	assert.NotEmpty(t, iepResp.IEP.ID)
	assert.Equal(t, "Generated IEP with goals and accommodations.", iepResp.IEP.Content)

	gen.response = "Weekly plan with phonics blocks."
	rec = postJSON(t, handler, "/api/lesson-plan", map[string]any{
		"subject":     "Reading",
		"grade_level": "3rd Grade",
		"timeframe":   "Weekly",
		"duration":    "45 minutes",
		"goals":       []string{"Improve decoding"},
		"iep_id":      iepResp.IEP.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	planResp := decode[struct {
		Success    bool `json:"success"`
		LessonPlan struct {
			Content string `json:"content"`
		} `json:"lessonPlan"`
	}](t, rec)
	require.True(t, planResp.Success)
	assert.Equal(t, "Weekly plan with phonics blocks.", planResp.LessonPlan.Content)
}

func TestIEPEndpointUnknownDocument(t *testing.T) {
	srv := newTestServer(t, &fakeGenerator{response: "x"})
	handler := srv.setupRoutes()

	rec := postJSON(t, handler, "/api/iep", IEPRequest{DocumentHash: "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfigUpdateRebuildsPipeline(t *testing.T) {
	srv := newTestServer(t, &fakeGenerator{response: "x"})
	handler := srv.setupRoutes()

	// The rebuilt pipeline constructs a real client, so a key must be present.
	srv.cfg.APIKey = "test-key"
	before := srv.pipeline

	rec := postJSON(t, handler, "/api/config", ConfigUpdateRequest{TopK: 7, Model: "gpt-4"})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[map[string]any](t, rec)
	assert.Equal(t, true, resp["success"])
	assert.NotSame(t, before, srv.pipeline)
	assert.Equal(t, 7, srv.pipeline.Retriever().TopK())
	assert.Equal(t, "gpt-4", srv.pipeline.Generator().Model())
	// The store carries over, so previously ingested chunks survive.
	assert.NotNil(t, srv.pipeline.Store())
}

func TestSimilarAndConfigUpdateConcurrently(t *testing.T) {
	srv := newTestServer(t, &fakeGenerator{response: "x"})
	handler := srv.setupRoutes()
	srv.cfg.APIKey = "test-key"

	ingestTestDoc(t, srv,
		"Concurrent similarity lookups must keep working while the pipeline is being rebuilt underneath them.")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				rec := postJSON(t, handler, "/api/similar", SimilarRequest{Query: "similarity"})
				assert.Equal(t, http.StatusOK, rec.Code)
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				rec := postJSON(t, handler, "/api/config", ConfigUpdateRequest{TopK: 2 + k})
				assert.Equal(t, http.StatusOK, rec.Code)
			}
		}(i)
	}
	wg.Wait()
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeGenerator{response: "answer"})
	handler := srv.setupRoutes()

	ingestTestDoc(t, srv,
		"Statistics should count this query once it has been answered by the pipeline under test.")
	rec := postJSON(t, handler, "/api/query", QueryRequest{Query: "count me"})
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[StatsResponse](t, rec)
	assert.EqualValues(t, 1, resp.QueryCount)
	assert.EqualValues(t, 1, resp.SuccessCount)
	assert.Equal(t, "fake-model", resp.CurrentModel)
	assert.Equal(t, 1, resp.DocumentCount)
}
