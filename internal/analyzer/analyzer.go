package analyzer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cheqmate/internal/aiscore"
	"cheqmate/internal/cache"
	"cheqmate/internal/corpus"
	"cheqmate/internal/extract"
	"cheqmate/internal/fingerprint"
	"cheqmate/internal/logging"
	"cheqmate/internal/report"
)

// ErrFileNotFound means the shared-filesystem path in the request does not
// exist on this host. Surfaced as 404, matching the engine's contract with
// the plugin.
var ErrFileNotFound = errors.New("file not found")

const (
	StatusProcessed = "processed"
	StatusError     = "error"
)

// Request is one analyze call. IDs are opaque host identifiers.
type Request struct {
	FilePath             string
	SubmissionID         int64
	ContextID            int64
	AssignmentID         int64
	CourseID             int64
	CheckGlobalSource    bool
	EnablePeerComparison bool
	SkipPatterns         []string
}

// Result is the verdict returned to the host. AIProbability is nil when
// the scorer degraded; the host renders it as absent.
type Result struct {
	Status          string
	PlagiarismScore float64
	AIProbability   *float64
	Details         []corpus.MatchDetail
	Message         string
}

type Config struct {
	ShingleSize int
	TopK        int
}

// Analyzer drives one submission through extract, fingerprint, match,
// score and persist. Stateless between requests; all durable state lives
// in the corpus store.
type Analyzer struct {
	store  *corpus.Store
	cache  *cache.Cache
	scorer aiscore.Scorer
	log    *zap.Logger
	cfg    Config
}

func New(store *corpus.Store, c *cache.Cache, scorer aiscore.Scorer, log *zap.Logger, cfg Config) *Analyzer {
	if cfg.ShingleSize <= 0 {
		cfg.ShingleSize = fingerprint.DefaultShingleSize
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Analyzer{store: store, cache: c, scorer: scorer, log: log, cfg: cfg}
}

// Analyze runs the full state machine for one submission. A business
// failure (unreadable document) returns a Result with status "error" and a
// nil error; a non-nil error means an internal fault the server maps to 5xx.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	log := logging.FromContext(ctx, a.log)
	raw, err := readSubmission(req.FilePath)
	if err != nil {
		return nil, err
	}

	contentKey := cache.ContentKey(fingerprint.ContentHash(raw), req.SkipPatterns)
	entry, hit, err := a.cache.GetOrCompute(req.AssignmentID, contentKey, func() (*cache.Entry, error) {
		text, err := extract.Extract(raw, req.FilePath, req.SkipPatterns)
		if err != nil {
			return nil, err
		}
		return &cache.Entry{
			Fingerprint: fingerprint.Compute(raw, text.Body, a.cfg.ShingleSize),
			Text:        text.Text,
		}, nil
	})
	if err != nil {
		var extractErr *extract.ExtractionError
		if errors.As(err, &extractErr) {
			log.Warn("extraction failed",
				zap.Int64("submission_id", req.SubmissionID),
				zap.String("reason", extractErr.Reason))
			return &Result{Status: StatusError, Details: []corpus.MatchDetail{}, Message: extractErr.Error()}, nil
		}
		return nil, fmt.Errorf("fingerprint submission %d: %w", req.SubmissionID, err)
	}

	identity := strconv.FormatInt(req.SubmissionID, 10)
	peerScope := corpus.PeerScope(req.CourseID, req.AssignmentID)
	globalScope := corpus.GlobalScope(req.CourseID)

	var peerRes, globalRes *corpus.QueryResult
	var aiProb *float64

	g, gctx := errgroup.WithContext(ctx)
	if req.EnablePeerComparison {
		g.Go(func() error {
			var err error
			peerRes, err = a.store.Query(gctx, peerScope, entry.Fingerprint, identity)
			if err != nil {
				return fmt.Errorf("peer query: %w", err)
			}
			return nil
		})
	}
	if req.CheckGlobalSource {
		g.Go(func() error {
			var err error
			globalRes, err = a.store.Query(gctx, globalScope, entry.Fingerprint, identity)
			if err != nil {
				return fmt.Errorf("global query: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		prob, err := a.scorer.Score(gctx, entry.Text)
		if err != nil {
			// Scorer degradation never fails the analysis.
			log.Warn("ai scorer degraded",
				zap.Int64("submission_id", req.SubmissionID), zap.Error(err))
			return nil
		}
		aiProb = &prob
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	details, score := a.aggregate(peerRes, globalRes)

	// Store the fingerprint so later submissions compare against this
	// one, replacing any earlier fingerprint for the same submission.
	if err := a.store.Put(ctx, peerScope, identity, "", entry.Fingerprint); err != nil {
		return nil, fmt.Errorf("store fingerprint: %w", err)
	}

	verdict := &corpus.Verdict{
		SubmissionID:    req.SubmissionID,
		PlagiarismScore: score,
		AIProbability:   aiProb,
		Status:          StatusProcessed,
		Matches:         details,
		CreatedAt:       time.Now().UTC(),
	}
	if err := a.store.SaveVerdict(ctx, verdict); err != nil {
		return nil, fmt.Errorf("save verdict: %w", err)
	}

	if err := report.Append(req.FilePath, report.Summary{
		PlagiarismScore: score,
		AIProbability:   aiProb,
		Matches:         details,
	}); err != nil {
		log.Warn("report append failed",
			zap.Int64("submission_id", req.SubmissionID), zap.Error(err))
	}

	log.Info("analysis complete",
		zap.Int64("submission_id", req.SubmissionID),
		zap.Float64("plagiarism_score", score),
		zap.Bool("cache_hit", hit),
		zap.Int("matches", len(details)))

	return &Result{
		Status:          StatusProcessed,
		PlagiarismScore: score,
		AIProbability:   aiProb,
		Details:         details,
		Message:         "Analysis successful",
	}, nil
}

// aggregate folds the pool results into the verdict score and the ranked
// detail list. The score is the max of the best single match and the
// corpus coverage, so both a wholesale copy and a mosaic stitched from
// many sources push the score up.
func (a *Analyzer) aggregate(peerRes, globalRes *corpus.QueryResult) ([]corpus.MatchDetail, float64) {
	details := []corpus.MatchDetail{}
	best := 0.0
	coverage := 0.0

	if peerRes != nil {
		for _, m := range peerRes.Matches {
			id, err := strconv.ParseInt(m.Identity, 10, 64)
			if err != nil {
				continue
			}
			details = append(details, corpus.MatchDetail{
				SourceType:   "peer",
				SubmissionID: id,
				Score:        round2(m.Score),
			})
		}
		best = math.Max(best, topScore(peerRes.Matches))
		coverage = math.Max(coverage, peerRes.Coverage)
	}
	if globalRes != nil {
		for _, m := range globalRes.Matches {
			details = append(details, corpus.MatchDetail{
				SourceType: "global",
				Filename:   m.Label,
				Score:      round2(m.Score),
			})
		}
		best = math.Max(best, topScore(globalRes.Matches))
		coverage = math.Max(coverage, globalRes.Coverage)
	}

	sort.SliceStable(details, func(i, j int) bool {
		if details[i].Score != details[j].Score {
			return details[i].Score > details[j].Score
		}
		return detailKey(details[i]) < detailKey(details[j])
	})
	if len(details) > a.cfg.TopK {
		details = details[:a.cfg.TopK]
	}
	return details, round2(math.Max(best, coverage))
}

// DeleteFingerprint removes a submission's fingerprint and verdict. Used
// both for submission removal and for the undo path after the host blocks
// a submission over threshold. Idempotent.
func (a *Analyzer) DeleteFingerprint(ctx context.Context, submissionID int64) error {
	if err := a.store.DeleteSubmission(ctx, submissionID); err != nil {
		return fmt.Errorf("delete fingerprint: %w", err)
	}
	if err := a.store.DeleteVerdict(ctx, submissionID); err != nil {
		return fmt.Errorf("delete verdict: %w", err)
	}
	logging.FromContext(ctx, a.log).Info("fingerprint deleted", zap.Int64("submission_id", submissionID))
	return nil
}

// UploadGlobalSource fingerprints a teacher-provided reference document
// and stores it under the course scope. Distinct contents accumulate; the
// same content re-uploaded replaces its earlier fingerprint.
func (a *Analyzer) UploadGlobalSource(ctx context.Context, courseID int64, filePath, filename string) error {
	raw, err := readSubmission(filePath)
	if err != nil {
		return err
	}
	name := filename
	if name == "" {
		name = filePath
	}
	text, err := extract.Extract(raw, name, nil)
	if err != nil {
		return err
	}
	fp := fingerprint.Compute(raw, text.Body, a.cfg.ShingleSize)
	if err := a.store.Put(ctx, corpus.GlobalScope(courseID), fp.ContentHash, name, fp); err != nil {
		return fmt.Errorf("store global source: %w", err)
	}
	logging.FromContext(ctx, a.log).Info("global source stored",
		zap.Int64("course_id", courseID), zap.String("filename", name))
	return nil
}

// readSubmission loads the file at a host-provided path. Paths sometimes
// arrive URI-encoded; retry with spaces restored before giving up.
func readSubmission(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		return raw, nil
	}
	if os.IsNotExist(err) && strings.Contains(path, "%20") {
		raw, retryErr := os.ReadFile(strings.ReplaceAll(path, "%20", " "))
		if retryErr == nil {
			return raw, nil
		}
	}
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	return nil, fmt.Errorf("read %s: %w", path, err)
}

func topScore(matches []corpus.Match) float64 {
	if len(matches) == 0 {
		return 0
	}
	return matches[0].Score
}

func detailKey(d corpus.MatchDetail) string {
	if d.SourceType == "global" {
		return "global/" + d.Filename
	}
	return "peer/" + strconv.FormatInt(d.SubmissionID, 10)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
