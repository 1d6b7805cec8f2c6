package memory

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vutler/agentd/migrations"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory database and runs migrations.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	migrationsPath := filepath.Join(cwd, "..", "migrations")

	if err := migrations.RunMigrations(db, migrationsPath, zerolog.Nop()); err != nil {
		_ = db.Close() //nolint:errcheck // cleanup on error
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close() //nolint:errcheck // test cleanup
	})
	return db
}

// seedRecord inserts a record with explicit timing and decay state, bypassing
// Save so tests can control created_at and last_accessed.
func seedRecord(t *testing.T, db *sql.DB, agentID, memType, content string, importance int, decay *float64, lastAccessed *time.Time, createdAt time.Time) string {
	t.Helper()
	id := uuid.NewString()

	var decayVal interface{}
	if decay != nil {
		decayVal = *decay
	}
	var accessedVal interface{}
	if lastAccessed != nil {
		accessedVal = lastAccessed.Unix()
	}

	_, err := db.Exec(`
INSERT INTO agent_memories (id, agent_id, type, content, importance, decay_factor, last_accessed, metadata, created_at, updated_at, workspace_id)
VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?)`,
		id, agentID, memType, content, importance, decayVal, accessedVal,
		createdAt.Unix(), createdAt.Unix(), DefaultWorkspaceID)
	if err != nil {
		t.Fatalf("seed record: %v", err)
	}
	return id
}

func decayOf(t *testing.T, db *sql.DB, id string) float64 {
	t.Helper()
	var decay sql.NullFloat64
	if err := db.QueryRow(`SELECT decay_factor FROM agent_memories WHERE id = ?`, id).Scan(&decay); err != nil {
		t.Fatalf("read decay_factor: %v", err)
	}
	if !decay.Valid {
		t.Fatalf("decay_factor unexpectedly NULL for %s", id)
	}
	return decay.Float64
}

func TestStore_SaveThenRecall(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db, zerolog.Nop())
	ctx := context.Background()

	id := store.Save(ctx, "agent-1", TypeFact, "The deploy window is Friday 14:00 UTC.", 7, map[string]interface{}{"source": "ops"})
	if id == "" {
		t.Fatalf("Save returned empty id")
	}

	results := store.Recall(ctx, "agent-1", "", 5)
	if len(results) != 1 {
		t.Fatalf("expected 1 record, got %d", len(results))
	}
	rec := results[0]
	if rec.ID != id {
		t.Errorf("ID: got %q, want %q", rec.ID, id)
	}
	if rec.DecayFactor == nil || *rec.DecayFactor != 1.0 {
		t.Errorf("DecayFactor: got %v, want 1.0", rec.DecayFactor)
	}
	if rec.Importance != 7 {
		t.Errorf("Importance: got %d, want 7", rec.Importance)
	}
	if rec.Metadata["source"] != "ops" {
		t.Errorf("Metadata: got %v", rec.Metadata)
	}
	if rec.WorkspaceID != DefaultWorkspaceID {
		t.Errorf("WorkspaceID: got %q, want sentinel", rec.WorkspaceID)
	}
}

func TestStore_SaveDefaultImportance(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db, zerolog.Nop())
	ctx := context.Background()

	if id := store.Save(ctx, "agent-1", TypeObservation, "queue depth spiked", 0, nil); id == "" {
		t.Fatalf("Save returned empty id")
	}

	results := store.Recall(ctx, "agent-1", "", 1)
	if len(results) != 1 {
		t.Fatalf("expected 1 record, got %d", len(results))
	}
	if results[0].Importance != DefaultImportance {
		t.Errorf("Importance: got %d, want %d", results[0].Importance, DefaultImportance)
	}
}

func TestStore_RecallOrderingAndLimit(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db, zerolog.Nop())
	ctx := context.Background()

	base := time.Now().Add(-72 * time.Hour)
	seedRecord(t, db, "agent-1", TypeFact, "low importance", 2, lo.ToPtr(1.0), nil, base)
	seedRecord(t, db, "agent-1", TypeFact, "high importance", 9, lo.ToPtr(1.0), nil, base.Add(time.Hour))
	seedRecord(t, db, "agent-1", TypeFact, "mid importance", 5, lo.ToPtr(1.0), nil, base.Add(2*time.Hour))
	seedRecord(t, db, "agent-2", TypeFact, "other agent", 10, lo.ToPtr(1.0), nil, base)

	results := store.Recall(ctx, "agent-1", "", 2)
	if len(results) != 2 {
		t.Fatalf("expected 2 records, got %d", len(results))
	}
	if results[0].Content != "high importance" {
		t.Errorf("first: got %q, want high importance", results[0].Content)
	}
	if results[1].Content != "mid importance" {
		t.Errorf("second: got %q, want mid importance", results[1].Content)
	}
}

func TestStore_RecallTieBrokenByCreatedAt(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db, zerolog.Nop())
	ctx := context.Background()

	older := seedRecord(t, db, "agent-1", TypeFact, "two days old", 8, lo.ToPtr(1.0), nil, time.Now().Add(-48*time.Hour))
	newer := seedRecord(t, db, "agent-1", TypeFact, "fresh", 8, lo.ToPtr(1.0), nil, time.Now())

	results := store.Recall(ctx, "agent-1", "", 1)
	if len(results) != 1 {
		t.Fatalf("expected 1 record, got %d", len(results))
	}
	if results[0].ID != newer {
		t.Errorf("got %q, want newest record %q (older was %q)", results[0].ID, newer, older)
	}
}

func TestStore_RecallExcludesDecayedRecords(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db, zerolog.Nop())
	ctx := context.Background()

	created := time.Now().Add(-time.Hour)
	seedRecord(t, db, "agent-1", TypeFact, "dead", 10, lo.ToPtr(0.0), nil, created)
	seedRecord(t, db, "agent-1", TypeFact, "nearly dead", 10, lo.ToPtr(0.1), nil, created)
	liveID := seedRecord(t, db, "agent-1", TypeFact, "live", 1, lo.ToPtr(0.2), nil, created)
	legacyID := seedRecord(t, db, "agent-1", TypeFact, "legacy row without decay", 1, nil, nil, created)

	results := store.Recall(ctx, "agent-1", "", 10)
	if len(results) != 2 {
		t.Fatalf("expected 2 live records, got %d", len(results))
	}
	ids := lo.Map(results, func(r Record, _ int) string { return r.ID })
	if !lo.Contains(ids, liveID) || !lo.Contains(ids, legacyID) {
		t.Errorf("live records missing from recall: %v", ids)
	}
}

func TestStore_RecallIgnoresQueryText(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db, zerolog.Nop())
	ctx := context.Background()

	created := time.Now().Add(-time.Hour)
	seedRecord(t, db, "agent-1", TypeFact, "alpha", 9, lo.ToPtr(1.0), nil, created)
	seedRecord(t, db, "agent-1", TypeFact, "beta", 5, lo.ToPtr(1.0), nil, created.Add(time.Minute))

	plain := store.Recall(ctx, "agent-1", "", 5)
	queried := store.Recall(ctx, "agent-1", "beta beta beta", 5)

	if len(plain) != len(queried) {
		t.Fatalf("query text changed result count: %d vs %d", len(plain), len(queried))
	}
	for i := range plain {
		if plain[i].ID != queried[i].ID {
			t.Errorf("query text changed ordering at %d: %q vs %q", i, plain[i].ID, queried[i].ID)
		}
	}
}

func TestStore_RecallTouchesLastAccessed(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db, zerolog.Nop())
	ctx := context.Background()

	stale := time.Now().Add(-40 * 24 * time.Hour)
	id := seedRecord(t, db, "agent-1", TypeFact, "old but important", 9, lo.ToPtr(1.0), &stale, stale)

	if got := store.Recall(ctx, "agent-1", "", 5); len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}

	var accessed sql.NullInt64
	if err := db.QueryRow(`SELECT last_accessed FROM agent_memories WHERE id = ?`, id).Scan(&accessed); err != nil {
		t.Fatalf("read last_accessed: %v", err)
	}
	if !accessed.Valid {
		t.Fatalf("last_accessed not set after recall")
	}
	if age := time.Since(time.Unix(accessed.Int64, 0)); age > time.Minute {
		t.Errorf("last_accessed not refreshed: %v old", age)
	}

	// A touched record must no longer qualify for decay.
	if !store.DecayOldMemories(ctx, "agent-1", 30) {
		t.Fatalf("DecayOldMemories reported failure")
	}
	if got := decayOf(t, db, id); got != 1.0 {
		t.Errorf("decay_factor after touch: got %v, want 1.0", got)
	}
}

func TestStore_DecayOldMemories(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db, zerolog.Nop())
	ctx := context.Background()

	stale := time.Now().Add(-40 * 24 * time.Hour)
	fresh := time.Now().Add(-time.Hour)
	staleID := seedRecord(t, db, "agent-1", TypeFact, "stale", 5, lo.ToPtr(1.0), &stale, stale)
	freshID := seedRecord(t, db, "agent-1", TypeFact, "fresh", 5, lo.ToPtr(1.0), &fresh, fresh)
	neverID := seedRecord(t, db, "agent-1", TypeFact, "never accessed", 5, lo.ToPtr(1.0), nil, stale)

	if !store.DecayOldMemories(ctx, "agent-1", 30) {
		t.Fatalf("DecayOldMemories reported failure")
	}

	if got := decayOf(t, db, staleID); got != 0.9 {
		t.Errorf("stale record: got %v, want 0.9", got)
	}
	if got := decayOf(t, db, freshID); got != 1.0 {
		t.Errorf("fresh record: got %v, want 1.0 (untouched)", got)
	}
	if got := decayOf(t, db, neverID); got != 0.9 {
		t.Errorf("never-accessed record: got %v, want 0.9", got)
	}
}

func TestStore_DecayDrivesToExactlyZero(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db, zerolog.Nop())
	ctx := context.Background()

	stale := time.Now().Add(-40 * 24 * time.Hour)
	id := seedRecord(t, db, "agent-1", TypeFact, "fading", 5, lo.ToPtr(1.0), &stale, stale)

	for i := 0; i < 10; i++ {
		if !store.DecayOldMemories(ctx, "agent-1", 30) {
			t.Fatalf("DecayOldMemories failed on sweep %d", i+1)
		}
	}
	if got := decayOf(t, db, id); got != 0 {
		t.Fatalf("after 10 sweeps: got %v, want exactly 0", got)
	}

	// Further sweeps must not push it negative.
	if !store.DecayOldMemories(ctx, "agent-1", 30) {
		t.Fatalf("DecayOldMemories reported failure")
	}
	if got := decayOf(t, db, id); got != 0 {
		t.Errorf("after extra sweep: got %v, want 0", got)
	}
}

func TestStore_Cleanup(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db, zerolog.Nop())
	ctx := context.Background()

	created := time.Now().Add(-time.Hour)
	deadID := seedRecord(t, db, "agent-1", TypeFact, "dead", 5, lo.ToPtr(0.0), nil, created)
	liveID := seedRecord(t, db, "agent-1", TypeFact, "live", 5, lo.ToPtr(0.5), nil, created)
	legacyID := seedRecord(t, db, "agent-1", TypeFact, "legacy", 5, nil, nil, created)

	if got := store.Cleanup(ctx, "agent-1"); got != 1 {
		t.Fatalf("Cleanup: got %d, want 1", got)
	}

	results := store.Recall(ctx, "agent-1", "", 10)
	ids := lo.Map(results, func(r Record, _ int) string { return r.ID })
	if lo.Contains(ids, deadID) {
		t.Errorf("deleted record still recalled")
	}
	if !lo.Contains(ids, liveID) || !lo.Contains(ids, legacyID) {
		t.Errorf("surviving records missing: %v", ids)
	}

	// Nothing left to delete.
	if got := store.Cleanup(ctx, "agent-1"); got != 0 {
		t.Errorf("second Cleanup: got %d, want 0", got)
	}
}

func TestStore_LogExchange(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db, zerolog.Nop())
	ctx := context.Background()

	if !store.LogExchange(ctx, "agent-1", "what is the deploy window?", "Friday 14:00 UTC.") {
		t.Fatalf("LogExchange reported failure")
	}

	results := store.Recall(ctx, "agent-1", "", 5)
	if len(results) != 1 {
		t.Fatalf("expected 1 record, got %d", len(results))
	}
	rec := results[0]
	if rec.Type != TypeConversation {
		t.Errorf("Type: got %q, want %q", rec.Type, TypeConversation)
	}
	if rec.Importance != 3 {
		t.Errorf("Importance: got %d, want 3", rec.Importance)
	}
	if rec.Content != "User: what is the deploy window?\nAgent: Friday 14:00 UTC." {
		t.Errorf("Content: got %q", rec.Content)
	}
	if _, ok := rec.Metadata["timestamp"]; !ok {
		t.Errorf("Metadata missing timestamp: %v", rec.Metadata)
	}
}

func TestStore_OperationsReturnSafeDefaultsOnClosedDB(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db, zerolog.Nop())
	ctx := context.Background()
	_ = db.Close() //nolint:errcheck // intentionally closing to force errors

	if got := store.Recall(ctx, "agent-1", "", 5); len(got) != 0 {
		t.Errorf("Recall on closed db: got %d records, want 0", len(got))
	}
	if got := store.Save(ctx, "agent-1", TypeFact, "x", 5, nil); got != "" {
		t.Errorf("Save on closed db: got %q, want empty", got)
	}
	if store.LogExchange(ctx, "agent-1", "a", "b") {
		t.Errorf("LogExchange on closed db: got true, want false")
	}
	if store.DecayOldMemories(ctx, "agent-1", 30) {
		t.Errorf("DecayOldMemories on closed db: got true, want false")
	}
	if got := store.Cleanup(ctx, "agent-1"); got != 0 {
		t.Errorf("Cleanup on closed db: got %d, want 0", got)
	}
}

func TestStore_AgentIDs(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db, zerolog.Nop())
	ctx := context.Background()

	created := time.Now()
	seedRecord(t, db, "agent-1", TypeFact, "a", 5, lo.ToPtr(1.0), nil, created)
	seedRecord(t, db, "agent-1", TypeFact, "b", 5, lo.ToPtr(1.0), nil, created)
	seedRecord(t, db, "agent-2", TypeFact, "c", 5, lo.ToPtr(1.0), nil, created)

	ids := store.AgentIDs(ctx)
	if len(ids) != 2 {
		t.Fatalf("AgentIDs: got %v, want 2 entries", ids)
	}
	if !lo.Contains(ids, "agent-1") || !lo.Contains(ids, "agent-2") {
		t.Errorf("AgentIDs: got %v", ids)
	}
}

// rankReverser flips candidate order to prove recall routes through the
// configured strategy.
type rankReverser struct{}

func (rankReverser) Rank(_ string, candidates []Record) []Record {
	out := make([]Record, len(candidates))
	for i, r := range candidates {
		out[len(candidates)-1-i] = r
	}
	return out
}

func TestStore_CustomRankingStrategy(t *testing.T) {
	db := setupTestDB(t)
	store := NewStoreWithRanking(db, rankReverser{}, zerolog.Nop())
	ctx := context.Background()

	created := time.Now().Add(-time.Hour)
	lowID := seedRecord(t, db, "agent-1", TypeFact, "low", 1, lo.ToPtr(1.0), nil, created)
	seedRecord(t, db, "agent-1", TypeFact, "high", 9, lo.ToPtr(1.0), nil, created)

	results := store.Recall(ctx, "agent-1", "anything", 1)
	if len(results) != 1 {
		t.Fatalf("expected 1 record, got %d", len(results))
	}
	if results[0].ID != lowID {
		t.Errorf("custom strategy not applied: got %q, want %q", results[0].ID, lowID)
	}
}
