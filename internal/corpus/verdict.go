package corpus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// MatchDetail is one ranked match inside a verdict, in the wire shape the
// host consumes.
type MatchDetail struct {
	SourceType   string  `json:"source_type"`
	SubmissionID int64   `json:"submission_id,omitempty"`
	Filename     string  `json:"filename,omitempty"`
	Score        float64 `json:"score"`
}

// Verdict is the persisted outcome of one analysis. Exactly one verdict is
// kept per submission; a resubmission overwrites it.
type Verdict struct {
	SubmissionID    int64
	PlagiarismScore float64
	AIProbability   *float64
	Status          string
	Message         string
	Matches         []MatchDetail
	CreatedAt       time.Time
}

func (s *Store) SaveVerdict(ctx context.Context, v *Verdict) error {
	matches := v.Matches
	if matches == nil {
		matches = []MatchDetail{}
	}
	raw, err := json.Marshal(matches)
	if err != nil {
		return fmt.Errorf("marshal matches: %w", err)
	}
	var aiProb any
	if v.AIProbability != nil {
		aiProb = *v.AIProbability
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO verdicts(submission_id, plagiarism_score, ai_probability, status, message, matches_json, created_at)
         VALUES(?,?,?,?,?,?,?)
         ON CONFLICT(submission_id) DO UPDATE SET
             plagiarism_score = excluded.plagiarism_score,
             ai_probability = excluded.ai_probability,
             status = excluded.status,
             message = excluded.message,
             matches_json = excluded.matches_json,
             created_at = excluded.created_at`,
		v.SubmissionID, v.PlagiarismScore, aiProb, v.Status, v.Message, string(raw),
		v.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save verdict: %w", err)
	}
	return nil
}

func (s *Store) GetVerdict(ctx context.Context, submissionID int64) (*Verdict, error) {
	var v Verdict
	var aiProb sql.NullFloat64
	var matchesJSON, createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT submission_id, plagiarism_score, ai_probability, status, message, matches_json, created_at
         FROM verdicts WHERE submission_id = ?`, submissionID).Scan(
		&v.SubmissionID, &v.PlagiarismScore, &aiProb, &v.Status, &v.Message, &matchesJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get verdict: %w", err)
	}
	if aiProb.Valid {
		p := aiProb.Float64
		v.AIProbability = &p
	}
	if err := json.Unmarshal([]byte(matchesJSON), &v.Matches); err != nil {
		return nil, fmt.Errorf("unmarshal matches: %w", err)
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		v.CreatedAt = t
	}
	return &v, nil
}

func (s *Store) DeleteVerdict(ctx context.Context, submissionID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM verdicts WHERE submission_id = ?`, submissionID); err != nil {
		return fmt.Errorf("delete verdict: %w", err)
	}
	return nil
}
