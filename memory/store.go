package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// recallCandidateFactor controls how many rows beyond the requested limit are
// fetched as candidates for the ranking strategy. The default strategy keeps
// the SQL ordering, so the factor only matters once a query-aware strategy is
// installed.
const recallCandidateFactor = 3

// Store owns the lifecycle of per-agent memory records: recall, save, decay,
// cleanup. Every operation swallows persistence errors and returns a safe
// default; this component must never be the reason a conversation turn fails.
type Store struct {
	db      *sql.DB
	ranking RankingStrategy
	logger  zerolog.Logger
}

// NewStore creates a Store with the default recency/importance ranking.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return NewStoreWithRanking(db, DefaultRanking(), logger)
}

// NewStoreWithRanking creates a Store with an explicit ranking strategy.
func NewStoreWithRanking(db *sql.DB, ranking RankingStrategy, logger zerolog.Logger) *Store {
	return &Store{
		db:      db,
		ranking: ranking,
		logger:  logger.With().Str("component", "memory_store").Logger(),
	}
}

func now() int64 { return time.Now().Unix() }

func selectColumns() []string {
	return []string{
		"id", "agent_id", "type", "content", "importance",
		"decay_factor", "last_accessed", "metadata",
		"created_at", "updated_at", "workspace_id",
	}
}

// Recall returns up to limit live records for the agent, ordered by
// importance descending then creation time descending, after passing through
// the configured RankingStrategy. Every returned record's last_accessed is
// refreshed in a single batched update; a failed touch is logged and does not
// fail the recall. Persistence errors yield an empty slice, never an error.
func (s *Store) Recall(ctx context.Context, agentID, query string, limit int) []Record {
	if limit <= 0 {
		limit = 5
	}
	s.logger.Debug().
		Str("method", "Recall").
		Str("agent_id", agentID).
		Str("query", truncateString(query, 40)).
		Int("limit", limit).
		Msg("called")

	qb := StatementBuilder().
		Select(selectColumns()...).
		From("agent_memories").
		Where(sq.Eq{"agent_id": agentID}).
		Where(sq.Or{
			sq.Eq{"decay_factor": nil},
			sq.Gt{"decay_factor": liveDecayFloor},
		}).
		OrderBy("importance DESC", "created_at DESC").
		Limit(uint64(limit * recallCandidateFactor))

	queryStr, args, err := qb.ToSql()
	if err != nil {
		s.logger.Error().Str("method", "Recall").Err(err).Msg("Failed to build recall query")
		return []Record{}
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		s.logger.Error().Str("method", "Recall").Err(err).Msg("Recall query failed")
		return []Record{}
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var candidates []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			s.logger.Error().Str("method", "Recall").Err(err).Msg("Failed to scan memory record")
			return []Record{}
		}
		candidates = append(candidates, *rec)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error().Str("method", "Recall").Err(err).Msg("Recall row iteration error")
		return []Record{}
	}

	ranked := s.ranking.Rank(query, candidates)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	if len(ranked) == 0 {
		return []Record{}
	}

	s.touch(ctx, ranked)

	s.logger.Info().
		Str("method", "Recall").
		Str("agent_id", agentID).
		Int("returned", len(ranked)).
		Msg("Memories recalled")
	return ranked
}

// touch refreshes last_accessed for every recalled record in one batched
// update. Failures are logged and swallowed: recall results are already in
// hand and stale recency only delays decay by one sweep.
func (s *Store) touch(ctx context.Context, records []Record) {
	ids := lo.Map(records, func(r Record, _ int) string { return r.ID })
	nowUnix := now()

	queryStr, args, err := StatementBuilder().
		Update("agent_memories").
		Set("last_accessed", nowUnix).
		Set("updated_at", nowUnix).
		Where(sq.Eq{"id": ids}).
		ToSql()
	if err != nil {
		s.logger.Warn().Str("method", "touch").Err(err).Msg("Failed to build touch update")
		return
	}
	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		s.logger.Warn().
			Str("method", "touch").
			Int("ids", len(ids)).
			Err(err).
			Msg("Failed to refresh last_accessed; continuing")
	}
}

// Save inserts a new record with decay_factor 1.0 and last_accessed set to
// now, and returns its id. A persistence failure is logged and yields the
// empty string; callers must treat "" as "not durably saved".
func (s *Store) Save(ctx context.Context, agentID, memType, content string, importance int, metadata map[string]interface{}) string {
	s.logger.Debug().
		Str("method", "Save").
		Str("agent_id", agentID).
		Str("type", memType).
		Str("content", truncateString(content, 40)).
		Int("importance", importance).
		Msg("called")

	if importance <= 0 {
		importance = DefaultImportance
	}
	if importance > 10 {
		importance = 10
	}

	var metaJSON []byte
	if metadata != nil {
		var err error
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			s.logger.Error().Str("method", "Save").Err(err).Msg("Failed to marshal metadata")
			return ""
		}
	}

	id := uuid.NewString()
	nowUnix := now()
	queryStr, args, err := StatementBuilder().
		Insert("agent_memories").
		Columns("id", "agent_id", "type", "content", "importance",
			"decay_factor", "last_accessed", "metadata",
			"created_at", "updated_at", "workspace_id").
		Values(id, agentID, memType, content, importance,
			1.0, nowUnix, metaJSON,
			nowUnix, nowUnix, DefaultWorkspaceID).
		ToSql()
	if err != nil {
		s.logger.Error().Str("method", "Save").Err(err).Msg("Failed to build insert query")
		return ""
	}

	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		s.logger.Error().
			Str("method", "Save").
			Str("agent_id", agentID).
			Err(err).
			Msg("Failed to insert memory record")
		return ""
	}

	s.logger.Info().
		Str("method", "Save").
		Str("agent_id", agentID).
		Str("type", memType).
		Str("id", id).
		Msg("Memory saved")
	return id
}

// LogExchange records a completed conversation turn as a low-importance
// conversation memory. Returns false when the record was not durably saved.
func (s *Store) LogExchange(ctx context.Context, agentID, userMessage, agentResponse string) bool {
	content := "User: " + userMessage + "\nAgent: " + agentResponse
	id := s.Save(ctx, agentID, TypeConversation, content, 3, map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	return id != ""
}

// DecayOldMemories weakens every record of the agent whose last_accessed is
// older than daysThreshold days (or never set), reducing decay_factor by 0.1
// floored at 0. The decrement is a single atomic UPDATE expression so a
// concurrent recall touch can at worst make one decay step stale, never
// corrupt the value. The subtraction is rounded so ten sweeps land on exactly
// zero rather than a float epsilon that cleanup would miss. Returns false on
// persistence failure.
func (s *Store) DecayOldMemories(ctx context.Context, agentID string, daysThreshold int) bool {
	if daysThreshold <= 0 {
		daysThreshold = 30
	}
	cutoff := time.Now().AddDate(0, 0, -daysThreshold).Unix()

	queryStr, args, err := StatementBuilder().
		Update("agent_memories").
		Set("decay_factor", sq.Expr("MAX(0, ROUND(decay_factor - ?, 3))", decayStep)).
		Set("updated_at", now()).
		Where(sq.Eq{"agent_id": agentID}).
		Where(sq.Gt{"decay_factor": 0}).
		Where(sq.Or{
			sq.Eq{"last_accessed": nil},
			sq.Lt{"last_accessed": cutoff},
		}).
		ToSql()
	if err != nil {
		s.logger.Error().Str("method", "DecayOldMemories").Err(err).Msg("Failed to build decay update")
		return false
	}

	res, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		s.logger.Error().
			Str("method", "DecayOldMemories").
			Str("agent_id", agentID).
			Err(err).
			Msg("Decay update failed")
		return false
	}

	affected, _ := res.RowsAffected()
	s.logger.Info().
		Str("method", "DecayOldMemories").
		Str("agent_id", agentID).
		Int("days_threshold", daysThreshold).
		Int64("affected", affected).
		Msg("Decay sweep applied")
	return true
}

// Cleanup hard-deletes every record of the agent with decay_factor <= 0 and
// returns the number removed. Safe to call with nothing to delete.
func (s *Store) Cleanup(ctx context.Context, agentID string) int {
	queryStr, args, err := StatementBuilder().
		Delete("agent_memories").
		Where(sq.Eq{"agent_id": agentID}).
		Where(sq.LtOrEq{"decay_factor": 0}).
		ToSql()
	if err != nil {
		s.logger.Error().Str("method", "Cleanup").Err(err).Msg("Failed to build cleanup delete")
		return 0
	}

	res, err := s.db.ExecContext(ctx, queryStr, args...)
	if err != nil {
		s.logger.Error().
			Str("method", "Cleanup").
			Str("agent_id", agentID).
			Err(err).
			Msg("Cleanup delete failed")
		return 0
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn().Str("method", "Cleanup").Err(err).Msg("Could not read deleted row count")
		return 0
	}

	if deleted > 0 {
		s.logger.Info().
			Str("method", "Cleanup").
			Str("agent_id", agentID).
			Int64("deleted", deleted).
			Msg("Fully decayed memories removed")
	}
	return int(deleted)
}

// Search returns records matching a keyword substring and/or type filter,
// newest first. Unlike Recall it does not consult the ranking strategy and
// does not touch last_accessed: a keyword lookup is not evidence the memory
// is in active use. Persistence errors yield an empty slice.
func (s *Store) Search(ctx context.Context, agentID, keyword, memType string, limit int) []Record {
	if limit <= 0 {
		limit = 10
	}
	s.logger.Debug().
		Str("method", "Search").
		Str("agent_id", agentID).
		Str("keyword", truncateString(keyword, 40)).
		Str("type", memType).
		Int("limit", limit).
		Msg("called")

	qb := StatementBuilder().
		Select(selectColumns()...).
		From("agent_memories").
		Where(sq.Eq{"agent_id": agentID}).
		OrderBy("created_at DESC").
		Limit(uint64(limit))
	if keyword != "" {
		qb = qb.Where(sq.Like{"content": "%" + keyword + "%"})
	}
	if memType != "" {
		qb = qb.Where(sq.Eq{"type": memType})
	}

	queryStr, args, err := qb.ToSql()
	if err != nil {
		s.logger.Error().Str("method", "Search").Err(err).Msg("Failed to build search query")
		return []Record{}
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		s.logger.Error().Str("method", "Search").Err(err).Msg("Search query failed")
		return []Record{}
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	results := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			s.logger.Error().Str("method", "Search").Err(err).Msg("Failed to scan memory record")
			return []Record{}
		}
		results = append(results, *rec)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error().Str("method", "Search").Err(err).Msg("Search row iteration error")
		return []Record{}
	}
	return results
}

// AgentIDs returns the distinct agent ids that currently hold memory records.
// Used by the maintenance scheduler to drive decay and cleanup sweeps.
func (s *Store) AgentIDs(ctx context.Context) []string {
	queryStr, args, err := StatementBuilder().
		Select("DISTINCT agent_id").
		From("agent_memories").
		ToSql()
	if err != nil {
		s.logger.Error().Str("method", "AgentIDs").Err(err).Msg("Failed to build query")
		return nil
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		s.logger.Error().Str("method", "AgentIDs").Err(err).Msg("Query failed")
		return nil
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			s.logger.Error().Str("method", "AgentIDs").Err(err).Msg("Scan failed")
			return nil
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error().Str("method", "AgentIDs").Err(err).Msg("Row iteration error")
		return nil
	}
	return ids
}

func scanRecord(rows *sql.Rows) (*Record, error) {
	var (
		id           string
		agentID      string
		memType      string
		content      string
		importance   int
		decayFactor  sql.NullFloat64
		lastAccessed sql.NullInt64
		metaJSON     sql.NullString
		createdAt    int64
		updatedAt    int64
		workspaceID  string
	)
	if err := rows.Scan(&id, &agentID, &memType, &content, &importance,
		&decayFactor, &lastAccessed, &metaJSON,
		&createdAt, &updatedAt, &workspaceID); err != nil {
		return nil, err
	}

	rec := &Record{
		ID:          id,
		AgentID:     agentID,
		Type:        memType,
		Content:     content,
		Importance:  importance,
		CreatedAt:   time.Unix(createdAt, 0),
		UpdatedAt:   time.Unix(updatedAt, 0),
		WorkspaceID: workspaceID,
	}
	if decayFactor.Valid {
		v := decayFactor.Float64
		rec.DecayFactor = &v
	}
	if lastAccessed.Valid {
		t := time.Unix(lastAccessed.Int64, 0)
		rec.LastAccessed = &t
	}
	if metaJSON.Valid && metaJSON.String != "" {
		var meta map[string]interface{}
		if err := json.Unmarshal([]byte(metaJSON.String), &meta); err == nil {
			rec.Metadata = meta
		}
	}
	return rec, nil
}

// Helper to safely truncate strings for structured logs.
func truncateString(s string, n int) string {
	rs := []rune(s)
	if len(rs) > n {
		return string(rs[:n]) + "..."
	}
	return s
}
