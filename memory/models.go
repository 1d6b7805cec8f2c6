package memory

import "time"

// DefaultWorkspaceID is the sentinel workspace assigned to records created
// before multi-tenancy existed, and to any record saved without an explicit
// workspace. It must stay fixed: the prompt assembler and historical rows
// both reference it.
const DefaultWorkspaceID = "00000000-0000-0000-0000-000000000001"

// Well-known memory types. The type column is an open set: callers may store
// other strings (e.g. "learning") and recall treats them all alike.
const (
	TypeFact         = "fact"
	TypeConversation = "conversation"
	TypeDecision     = "decision"
	TypeObservation  = "observation"
)

const (
	// DefaultImportance is assigned when a caller passes importance <= 0.
	DefaultImportance = 5

	// liveDecayFloor is the threshold below which a record is no longer
	// recalled. A nil decay factor counts as live.
	liveDecayFloor = 0.1

	// decayStep is subtracted from decay_factor on each decay sweep,
	// floored at 0.
	decayStep = 0.1
)

// Record is one durable fact, conversation, decision, or observation tied to
// an agent.
type Record struct {
	ID           string                 `json:"id"`
	AgentID      string                 `json:"agent_id"`
	Type         string                 `json:"type"`
	Content      string                 `json:"content"`
	Importance   int                    `json:"importance"`
	DecayFactor  *float64               `json:"decay_factor,omitempty"`  // nil for rows predating decay tracking
	LastAccessed *time.Time             `json:"last_accessed,omitempty"` // refreshed on every recall
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	WorkspaceID  string                 `json:"workspace_id"`
}
