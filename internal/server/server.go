package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"cheqmate/internal/analyzer"
	"cheqmate/internal/cache"
	"cheqmate/internal/corpus"
	"cheqmate/internal/extract"
	"cheqmate/internal/logging"
)

// Server exposes the four engine operations plus a health probe. Handlers
// are stateless dispatch into the analyzer; every request runs under the
// host's 120-second budget.
type Server struct {
	analyzer *analyzer.Analyzer
	cache    *cache.Cache
	log      *zap.Logger
	timeout  time.Duration
	router   *mux.Router
}

func New(a *analyzer.Analyzer, c *cache.Cache, log *zap.Logger, timeout time.Duration) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	s := &Server{analyzer: a, cache: c, log: log, timeout: timeout}

	r := mux.NewRouter()
	r.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)
	r.HandleFunc("/fingerprint/{submission_id}", s.handleDeleteFingerprint).Methods(http.MethodDelete)
	r.HandleFunc("/cache/clear", s.handleCacheClear).Methods(http.MethodPost)
	r.HandleFunc("/global-source/upload", s.handleGlobalSourceUpload).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Use(s.requestLogger, s.recoverPanic)
	s.router = r
	return s
}

func (s *Server) Router() http.Handler { return s.router }

type analyzeRequest struct {
	FilePath             string   `json:"file_path"`
	SubmissionID         int64    `json:"submission_id"`
	ContextID            int64    `json:"context_id"`
	AssignmentID         int64    `json:"assignment_id"`
	CourseID             int64    `json:"course_id"`
	CheckGlobalSource    bool     `json:"check_global_source"`
	EnablePeerComparison bool     `json:"enable_peer_comparison"`
	SkipPatterns         []string `json:"skip_patterns"`
}

type analyzeResponse struct {
	Status          string               `json:"status"`
	PlagiarismScore float64              `json:"plagiarism_score"`
	AIProbability   *float64             `json:"ai_probability,omitempty"`
	Details         []corpus.MatchDetail `json:"details"`
	Message         string               `json:"message,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FilePath == "" || req.SubmissionID == 0 {
		writeError(w, http.StatusBadRequest, "file_path and submission_id are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	result, err := s.analyzer.Analyze(ctx, analyzer.Request{
		FilePath:             req.FilePath,
		SubmissionID:         req.SubmissionID,
		ContextID:            req.ContextID,
		AssignmentID:         req.AssignmentID,
		CourseID:             req.CourseID,
		CheckGlobalSource:    req.CheckGlobalSource,
		EnablePeerComparison: req.EnablePeerComparison,
		SkipPatterns:         req.SkipPatterns,
	})
	if err != nil {
		if errors.Is(err, analyzer.ErrFileNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		logging.FromContext(r.Context(), s.log).Error("analyze failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}

	writeJSON(w, http.StatusOK, analyzeResponse{
		Status:          result.Status,
		PlagiarismScore: result.PlagiarismScore,
		AIProbability:   result.AIProbability,
		Details:         result.Details,
		Message:         result.Message,
	})
}

func (s *Server) handleDeleteFingerprint(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	submissionID, err := strconv.ParseInt(vars["submission_id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid submission id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	if err := s.analyzer.DeleteFingerprint(ctx, submissionID); err != nil {
		logging.FromContext(r.Context(), s.log).Error("delete fingerprint failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "submission_id": submissionID})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssignmentID int64 `json:"assignment_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cleared := s.cache.Invalidate(req.AssignmentID)
	logging.FromContext(r.Context(), s.log).Info("cache cleared",
		zap.Int64("assignment_id", req.AssignmentID),
		zap.Int("cleared_count", cleared),
		zap.Int("remaining", s.cache.Len()))
	writeJSON(w, http.StatusOK, map[string]any{"cleared_count": cleared})
}

func (s *Server) handleGlobalSourceUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CourseID int64  `json:"course_id"`
		FilePath string `json:"file_path"`
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FilePath == "" || req.CourseID == 0 {
		writeError(w, http.StatusBadRequest, "course_id and file_path are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	err := s.analyzer.UploadGlobalSource(ctx, req.CourseID, req.FilePath, req.Filename)
	var extractErr *extract.ExtractionError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"status": "stored"})
	case errors.Is(err, analyzer.ErrFileNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &extractErr):
		writeError(w, http.StatusBadRequest, extractErr.Error())
	default:
		logging.FromContext(r.Context(), s.log).Error("global source upload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "upload failed")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": "CheqMate Engine"})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqLog := s.log.With(zap.String("request_id", uuid.NewString()))
		next.ServeHTTP(w, r.WithContext(logging.WithLogger(r.Context(), reqLog)))
		reqLog.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (s *Server) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("handler panic", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"status": "error", "message": message})
}
