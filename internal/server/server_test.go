package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"cheqmate/internal/aiscore"
	"cheqmate/internal/analyzer"
	"cheqmate/internal/cache"
	"cheqmate/internal/corpus"
)

func newTestServer(t *testing.T) (*httptest.Server, *cache.Cache) {
	t.Helper()
	db, err := corpus.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	fpCache := cache.New()
	engine := analyzer.New(
		corpus.NewStore(db),
		fpCache,
		aiscore.NewBurstinessScorer(aiscore.DefaultConfig()),
		nil,
		analyzer.Config{},
	)
	srv := New(engine, fpCache, nil, 10*time.Second)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, fpCache
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func writeEssay(t *testing.T, dir, name string, sentences int) string {
	t.Helper()
	var b strings.Builder
	for i := 0; i < sentences; i++ {
		fmt.Fprintf(&b, "Sentence number %d discusses the migration of arctic terns across oceans. ", i)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Equal(t, "ok", body["status"])
}

func TestAnalyzeEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	dir := t.TempDir()
	first := writeEssay(t, dir, "first.txt", 40)

	resp := postJSON(t, ts.URL+"/analyze", map[string]any{
		"file_path":              first,
		"submission_id":          101,
		"assignment_id":          3,
		"course_id":              7,
		"enable_peer_comparison": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Equal(t, "processed", body["status"])
	require.Equal(t, 0.0, body["plagiarism_score"])
	require.Empty(t, body["details"])

	// An identical second submission matches the first.
	second := writeEssay(t, dir, "second.txt", 40)
	resp = postJSON(t, ts.URL+"/analyze", map[string]any{
		"file_path":              second,
		"submission_id":          102,
		"assignment_id":          3,
		"course_id":              7,
		"enable_peer_comparison": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	require.Equal(t, "processed", body["status"])
	require.GreaterOrEqual(t, body["plagiarism_score"].(float64), 99.0)
	details := body["details"].([]any)
	require.Len(t, details, 1)
	match := details[0].(map[string]any)
	require.Equal(t, "peer", match["source_type"])
	require.Equal(t, 101.0, match["submission_id"])
}

func TestAnalyzeMissingFileIs404(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/analyze", map[string]any{
		"file_path":     filepath.Join(t.TempDir(), "missing.txt"),
		"submission_id": 101,
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestAnalyzeUnreadableFileIsBusinessError(t *testing.T) {
	ts, _ := newTestServer(t)
	path := filepath.Join(t.TempDir(), "image.png")
	require.NoError(t, os.WriteFile(path, []byte("not text"), 0o644))

	resp := postJSON(t, ts.URL+"/analyze", map[string]any{
		"file_path":     path,
		"submission_id": 101,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Equal(t, "error", body["status"])
	require.NotEmpty(t, body["message"])
}

func TestAnalyzeBadRequest(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/analyze", map[string]any{"submission_id": 101})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestDeleteFingerprintIdempotent(t *testing.T) {
	ts, _ := newTestServer(t)
	dir := t.TempDir()
	path := writeEssay(t, dir, "sub.txt", 40)

	resp := postJSON(t, ts.URL+"/analyze", map[string]any{
		"file_path":              path,
		"submission_id":          101,
		"assignment_id":          3,
		"course_id":              7,
		"enable_peer_comparison": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	for i := 0; i < 2; i++ {
		req, err := http.NewRequest(http.MethodDelete, ts.URL+"/fingerprint/101", nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}
}

func TestCacheClearReportsExactCount(t *testing.T) {
	ts, _ := newTestServer(t)
	dir := t.TempDir()

	for i, assignment := range []int{3, 3, 4} {
		path := writeEssay(t, dir, fmt.Sprintf("sub%d.txt", i), 30+i)
		resp := postJSON(t, ts.URL+"/analyze", map[string]any{
			"file_path":     path,
			"submission_id": 100 + i,
			"assignment_id": assignment,
			"course_id":     7,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	resp := postJSON(t, ts.URL+"/cache/clear", map[string]any{"assignment_id": 3})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Equal(t, 2.0, body["cleared_count"])

	resp = postJSON(t, ts.URL+"/cache/clear", map[string]any{"assignment_id": 4})
	body = decodeBody(t, resp)
	require.Equal(t, 1.0, body["cleared_count"])

	resp = postJSON(t, ts.URL+"/cache/clear", map[string]any{"assignment_id": 3})
	body = decodeBody(t, resp)
	require.Equal(t, 0.0, body["cleared_count"])
}

func TestGlobalSourceUploadAndMatch(t *testing.T) {
	ts, _ := newTestServer(t)
	dir := t.TempDir()
	source := writeEssay(t, dir, "reference.txt", 40)

	resp := postJSON(t, ts.URL+"/global-source/upload", map[string]any{
		"course_id": 7,
		"file_path": source,
		"filename":  "reference.txt",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	sub := writeEssay(t, dir, "sub.txt", 40)
	resp = postJSON(t, ts.URL+"/analyze", map[string]any{
		"file_path":           sub,
		"submission_id":       101,
		"assignment_id":       3,
		"course_id":           7,
		"check_global_source": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	require.GreaterOrEqual(t, body["plagiarism_score"].(float64), 99.0)
	details := body["details"].([]any)
	require.Len(t, details, 1)
	match := details[0].(map[string]any)
	require.Equal(t, "global", match["source_type"])
	require.Equal(t, "reference.txt", match["filename"])
}

func TestRequestIDCorrelatesHandlerLogs(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)

	db, err := corpus.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	fpCache := cache.New()
	engine := analyzer.New(
		corpus.NewStore(db),
		fpCache,
		aiscore.NewBurstinessScorer(aiscore.DefaultConfig()),
		log,
		analyzer.Config{},
	)
	srv := New(engine, fpCache, log, 10*time.Second)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	path := writeEssay(t, t.TempDir(), "sub.txt", 40)
	resp := postJSON(t, ts.URL+"/analyze", map[string]any{
		"file_path":     path,
		"submission_id": 101,
		"assignment_id": 3,
		"course_id":     7,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	requestID := func(e observer.LoggedEntry) string {
		for _, f := range e.Context {
			if f.Key == "request_id" {
				return f.String
			}
		}
		return ""
	}

	requests := logs.FilterMessage("request").All()
	require.Len(t, requests, 1)
	completed := logs.FilterMessage("analysis complete").All()
	require.Len(t, completed, 1)

	id := requestID(requests[0])
	require.NotEmpty(t, id)
	require.Equal(t, id, requestID(completed[0]),
		"handler log lines must carry the middleware's request id")
}

func TestGlobalSourceUploadMissingFile(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/global-source/upload", map[string]any{
		"course_id": 7,
		"file_path": filepath.Join(t.TempDir(), "missing.pdf"),
		"filename":  "missing.pdf",
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
