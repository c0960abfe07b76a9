package corpus

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"cheqmate/internal/fingerprint"
)

const (
	ScopePeer   = "peer"
	ScopeGlobal = "global"
)

// signature batches keep IN clauses below sqlite's variable limit.
const signatureBatch = 400

// Scope is the boundary a fingerprint lives in and matches within. Peer
// fingerprints are scoped to a (course, assignment) pair; global sources
// are shared across a whole course, so their assignment id is always zero.
type Scope struct {
	Type         string
	CourseID     int64
	AssignmentID int64
}

func PeerScope(courseID, assignmentID int64) Scope {
	return Scope{Type: ScopePeer, CourseID: courseID, AssignmentID: assignmentID}
}

func GlobalScope(courseID int64) Scope {
	return Scope{Type: ScopeGlobal, CourseID: courseID}
}

// Match is one stored fingerprint overlapping the query, scored 0-100.
type Match struct {
	Identity string
	Label    string
	Score    float64
}

// QueryResult carries the ranked matches plus the coverage score: the
// percentage of the query's shingles found anywhere in scope.
type QueryResult struct {
	Matches  []Match
	Coverage float64
}

// Store is the durable fingerprint corpus. Writes to the same identity are
// serialized so a replace never interleaves index removal and insertion;
// reads and writes to other identities proceed concurrently.
type Store struct {
	db    *sql.DB
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, locks: map[string]*sync.Mutex{}}
}

func (s *Store) identityLock(scopeType, identity string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopeType + "/" + identity
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Put inserts or atomically replaces the fingerprint for an identity. A
// replace removes every chunk-signature row of the previous fingerprint in
// the same transaction; stale rows would show up as phantom matches.
func (s *Store) Put(ctx context.Context, scope Scope, identity, label string, fp *fingerprint.Fingerprint) error {
	l := s.identityLock(scope.Type, identity)
	l.Lock()
	defer l.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := deleteByIdentityTx(ctx, tx, scope, identity); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO fingerprints(scope_type, course_id, assignment_id, identity, label, content_hash, shingle_size, shingle_count, created_at)
         VALUES(?,?,?,?,?,?,?,?,?)`,
		scope.Type, scope.CourseID, scope.AssignmentID, identity, label,
		fp.ContentHash, fp.ShingleSize, len(fp.Shingles), fp.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert fingerprint: %w", err)
	}
	fpID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("fingerprint last insert id: %w", err)
	}

	sigs := sortedSignatures(fp.Shingles)
	for start := 0; start < len(sigs); start += signatureBatch {
		end := start + signatureBatch
		if end > len(sigs) {
			end = len(sigs)
		}
		batch := sigs[start:end]
		var b strings.Builder
		b.WriteString(`INSERT INTO chunk_signatures(fingerprint_id, signature) VALUES`)
		args := make([]any, 0, len(batch)*2)
		for i, sig := range batch {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString("(?,?)")
			args = append(args, fpID, sig)
		}
		if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
			return fmt.Errorf("insert signatures: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// DeleteByIdentity removes a fingerprint and all of its index rows. Absent
// identities are a no-op, never an error: the host retries deletes freely.
func (s *Store) DeleteByIdentity(ctx context.Context, scope Scope, identity string) error {
	l := s.identityLock(scope.Type, identity)
	l.Lock()
	defer l.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := deleteByIdentityTx(ctx, tx, scope, identity); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// DeleteSubmission removes a submission's peer fingerprint wherever it was
// stored. The delete endpoint only carries the submission id, so the scope
// has to be discovered from the corpus itself.
func (s *Store) DeleteSubmission(ctx context.Context, submissionID int64) error {
	identity := fmt.Sprintf("%d", submissionID)
	l := s.identityLock(ScopePeer, identity)
	l.Lock()
	defer l.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM fingerprints WHERE scope_type = ? AND identity = ?`, ScopePeer, identity)
	if err != nil {
		return fmt.Errorf("find submission fingerprints: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan fingerprint id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate fingerprint ids: %w", err)
	}

	for _, id := range ids {
		if err := deleteFingerprintTx(ctx, tx, id); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Query finds every stored fingerprint in scope sharing at least one chunk
// signature with fp, excluding excludeIdentity (a submission never matches
// itself). Matches are ordered score descending, identity ascending.
func (s *Store) Query(ctx context.Context, scope Scope, fp *fingerprint.Fingerprint, excludeIdentity string) (*QueryResult, error) {
	sigs := sortedSignatures(fp.Shingles)
	result := &QueryResult{Matches: []Match{}}
	if len(sigs) == 0 {
		return result, nil
	}

	type candidate struct {
		label  string
		total  int
		shared int
	}
	candidates := map[string]*candidate{}
	covered := 0

	for start := 0; start < len(sigs); start += signatureBatch {
		end := start + signatureBatch
		if end > len(sigs) {
			end = len(sigs)
		}
		batch := sigs[start:end]
		placeholders := strings.Repeat(",?", len(batch))[1:]

		args := []any{scope.Type, scope.CourseID, scope.AssignmentID, excludeIdentity}
		for _, sig := range batch {
			args = append(args, sig)
		}

		rows, err := s.db.QueryContext(ctx,
			`SELECT f.identity, f.label, f.shingle_count, COUNT(*)
             FROM chunk_signatures c
             JOIN fingerprints f ON f.id = c.fingerprint_id
             WHERE f.scope_type = ? AND f.course_id = ? AND f.assignment_id = ? AND f.identity <> ?
               AND c.signature IN (`+placeholders+`)
             GROUP BY f.id`, args...)
		if err != nil {
			return nil, fmt.Errorf("query matches: %w", err)
		}
		for rows.Next() {
			var identity, label string
			var total, shared int
			if err := rows.Scan(&identity, &label, &total, &shared); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan match: %w", err)
			}
			c, ok := candidates[identity]
			if !ok {
				c = &candidate{label: label, total: total}
				candidates[identity] = c
			}
			c.shared += shared
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate matches: %w", err)
		}

		var found int
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(DISTINCT c.signature)
             FROM chunk_signatures c
             JOIN fingerprints f ON f.id = c.fingerprint_id
             WHERE f.scope_type = ? AND f.course_id = ? AND f.assignment_id = ? AND f.identity <> ?
               AND c.signature IN (`+placeholders+`)`, args...).Scan(&found)
		if err != nil {
			return nil, fmt.Errorf("query coverage: %w", err)
		}
		covered += found
	}

	for identity, c := range candidates {
		union := len(sigs) + c.total - c.shared
		if union <= 0 {
			continue
		}
		result.Matches = append(result.Matches, Match{
			Identity: identity,
			Label:    c.label,
			Score:    float64(c.shared) / float64(union) * 100,
		})
	}
	sort.Slice(result.Matches, func(i, j int) bool {
		if result.Matches[i].Score != result.Matches[j].Score {
			return result.Matches[i].Score > result.Matches[j].Score
		}
		return result.Matches[i].Identity < result.Matches[j].Identity
	})
	result.Coverage = float64(covered) / float64(len(sigs)) * 100
	return result, nil
}

func deleteByIdentityTx(ctx context.Context, tx *sql.Tx, scope Scope, identity string) error {
	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM fingerprints WHERE scope_type = ? AND course_id = ? AND assignment_id = ? AND identity = ?`,
		scope.Type, scope.CourseID, scope.AssignmentID, identity).Scan(&id)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find fingerprint: %w", err)
	}
	return deleteFingerprintTx(ctx, tx, id)
}

func deleteFingerprintTx(ctx context.Context, tx *sql.Tx, id int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_signatures WHERE fingerprint_id = ?`, id); err != nil {
		return fmt.Errorf("delete signatures: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM fingerprints WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete fingerprint: %w", err)
	}
	return nil
}

func sortedSignatures(shingles map[string]struct{}) []string {
	sigs := make([]string, 0, len(shingles))
	for sig := range shingles {
		sigs = append(sigs, sig)
	}
	sort.Strings(sigs)
	return sigs
}
