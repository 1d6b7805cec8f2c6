package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"
)

// DefaultWorkspaceID mirrors the memory sentinel: the fixed tenant assigned to
// configs created before multi-tenancy existed.
const DefaultWorkspaceID = "00000000-0000-0000-0000-000000000001"

// ErrNotFound is returned by Get when no config exists for the agent.
var ErrNotFound = errors.New("agent config not found")

// Config is an agent's identity: who it is, what it may do, and how its
// system prompt is templated. Any field may be absent; consumers must degrade
// gracefully.
type Config struct {
	AgentID        string                 `json:"agent_id"`
	Name           string                 `json:"name"`
	Role           string                 `json:"role,omitempty"`
	Personality    string                 `json:"personality,omitempty"`
	Soul           string                 `json:"soul,omitempty"`
	Capabilities   []string               `json:"capabilities,omitempty"`
	PromptTemplate string                 `json:"prompt_template,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	WorkspaceID    string                 `json:"workspace_id"`
}

// Store reads and writes agent identity configs.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore creates a Store.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "identity_store").Logger(),
	}
}

// Get returns the config for the agent, or ErrNotFound.
func (s *Store) Get(ctx context.Context, agentID string) (*Config, error) {
	queryStr, args, err := sq.Select(
		"agent_id", "name", "role", "personality", "soul",
		"capabilities", "prompt_template", "metadata", "workspace_id").
		From("agent_llm_configs").
		Where(sq.Eq{"agent_id": agentID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	row := s.db.QueryRowContext(ctx, queryStr, args...)

	var (
		cfg         Config
		role        sql.NullString
		personality sql.NullString
		soul        sql.NullString
		capsJSON    sql.NullString
		template    sql.NullString
		metaJSON    sql.NullString
	)
	err = row.Scan(&cfg.AgentID, &cfg.Name, &role, &personality, &soul,
		&capsJSON, &template, &metaJSON, &cfg.WorkspaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent config: %w", err)
	}

	cfg.Role = role.String
	cfg.Personality = personality.String
	cfg.Soul = soul.String
	cfg.PromptTemplate = template.String
	if capsJSON.Valid && capsJSON.String != "" {
		if err := json.Unmarshal([]byte(capsJSON.String), &cfg.Capabilities); err != nil {
			s.logger.Warn().
				Str("agent_id", agentID).
				Err(err).
				Msg("Malformed capabilities JSON; treating as empty")
			cfg.Capabilities = nil
		}
	}
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &cfg.Metadata); err != nil {
			s.logger.Warn().
				Str("agent_id", agentID).
				Err(err).
				Msg("Malformed metadata JSON; treating as empty")
			cfg.Metadata = nil
		}
	}
	return &cfg, nil
}

// Exists reports whether a config row exists for the agent.
func (s *Store) Exists(ctx context.Context, agentID string) (bool, error) {
	queryStr, args, err := sq.Select("1").
		From("agent_llm_configs").
		Where(sq.Eq{"agent_id": agentID}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}

	var one int
	err = s.db.QueryRowContext(ctx, queryStr, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// HasToolsEnabled reports whether the agent qualifies for the tool-augmented
// runtime: a non-empty capabilities list, or an explicit enable_tools flag in
// metadata. A missing agent is simply not tool-enabled.
func (s *Store) HasToolsEnabled(ctx context.Context, agentID string) (bool, error) {
	cfg, err := s.Get(ctx, agentID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if len(cfg.Capabilities) > 0 {
		return true, nil
	}
	if enabled, ok := cfg.Metadata["enable_tools"].(bool); ok && enabled {
		return true, nil
	}
	return false, nil
}

// Upsert inserts or replaces the agent's config row.
func (s *Store) Upsert(ctx context.Context, cfg *Config) error {
	if cfg == nil || cfg.AgentID == "" {
		return errors.New("agent_id is required")
	}
	workspaceID := cfg.WorkspaceID
	if workspaceID == "" {
		workspaceID = DefaultWorkspaceID
	}

	var capsJSON, metaJSON []byte
	var err error
	if cfg.Capabilities != nil {
		if capsJSON, err = json.Marshal(cfg.Capabilities); err != nil {
			return fmt.Errorf("marshal capabilities: %w", err)
		}
	}
	if cfg.Metadata != nil {
		if metaJSON, err = json.Marshal(cfg.Metadata); err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	nowUnix := time.Now().Unix()
	queryStr, args, err := sq.Replace("agent_llm_configs").
		Columns("agent_id", "name", "role", "personality", "soul",
			"capabilities", "prompt_template", "metadata",
			"created_at", "updated_at", "workspace_id").
		Values(cfg.AgentID, cfg.Name, cfg.Role, cfg.Personality, cfg.Soul,
			capsJSON, cfg.PromptTemplate, metaJSON,
			nowUnix, nowUnix, workspaceID).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("upsert agent config: %w", err)
	}

	s.logger.Info().Str("agent_id", cfg.AgentID).Msg("Agent config upserted")
	return nil
}
