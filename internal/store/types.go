package store

import "time"

// ExecMode is the per-side command execution setting.
type ExecMode string

const (
	ModeDisabled   ExecMode = "disabled"
	ModeSafe       ExecMode = "safe"
	ModeRestricted ExecMode = "restricted"
	ModeFull       ExecMode = "full"
)

func (m ExecMode) Valid() bool {
	switch m {
	case ModeSafe, ModeRestricted, ModeFull:
		return true
	}
	return false
}

// Side labels one participant of a conversation. Messages may also originate
// from SideSystem (execution results broadcast to both sides).
const (
	SideA      = "a"
	SideB      = "b"
	SideSystem = "system"
)

func Partner(side string) string {
	if side == SideA {
		return SideB
	}
	return SideA
}

// Conversation pairs two sessions. Secrets are opaque high-entropy values,
// compared only in constant time by the authenticator.
type Conversation struct {
	ID        string
	RoleA     string
	RoleB     string
	SecretA   string
	SecretB   string
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (c *Conversation) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// SessionStatus is the heartbeat row for one side.
type SessionStatus struct {
	ConversationID string
	Side           string
	Status         string
	LastHeartbeat  time.Time
}

// Message is a directed communication unit. Read flips false→true exactly
// once, inside the same transaction that delivers the message.
type Message struct {
	ID             int64
	ConversationID string
	From           string
	To             string
	Body           string
	Category       string
	Files          []string
	Read           bool
	CreatedAt      time.Time
}

// GuardStage is a persisted execution-guard state. Disabled is represented by
// row absence; Expired is derived lazily from StageExpiresAt.
type GuardStage string

const (
	StageConfirmPending GuardStage = "confirm_pending"
	StageCodeIssued     GuardStage = "code_issued"
	StageTokenIssued    GuardStage = "token_issued"
)

// GuardState is one side's position in the staged approval sequence, plus the
// execution settings it requested.
type GuardState struct {
	ConversationID string
	Side           string
	Stage          GuardStage
	Mode           ExecMode
	Workspace      string
	TimeoutSecs    int
	Sandbox        bool
	Code           string
	StageExpiresAt time.Time
	UpdatedAt      time.Time
}

func (g *GuardState) StageExpired(now time.Time) bool {
	return now.After(g.StageExpiresAt)
}

// ApprovalToken permits exactly one command execution. Consumed transitions
// false→true exactly once; a second use is rejected.
type ApprovalToken struct {
	Value          string
	ConversationID string
	Side           string
	IssuedAt       time.Time
	ExpiresAt      time.Time
	Consumed       bool
	ConsumedAt     time.Time
}

// AuditEntry is an immutable, strictly ordered record of a security-relevant
// decision. Seq is assigned by the store and is the total order.
type AuditEntry struct {
	Seq            int64             `json:"seq"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Side           string            `json:"side,omitempty"`
	Action         string            `json:"action"`
	Outcome        string            `json:"outcome"`
	Detail         map[string]string `json:"detail,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Audit outcomes.
const (
	OutcomeAllowed = "allowed"
	OutcomeBlocked = "blocked"
	OutcomeError   = "error"
)
