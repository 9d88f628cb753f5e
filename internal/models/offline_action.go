package models

import (
	"time"
)

// ActionType identifies the kind of deferred driver operation.
type ActionType string

const (
	ActionJobProgress        ActionType = "job_progress"
	ActionLocationUpdate     ActionType = "location_update"
	ActionAvailabilityUpdate ActionType = "availability_update"
	ActionJobClaim           ActionType = "job_claim"
	ActionJobDecline         ActionType = "job_decline"
)

// defaultMaxRetries holds the retry budget applied when a producer does not
// supply one.
var defaultMaxRetries = map[ActionType]int{
	ActionJobProgress:        5,
	ActionLocationUpdate:     3,
	ActionAvailabilityUpdate: 3,
	ActionJobClaim:           2,
	ActionJobDecline:         2,
}

// ActionTypes returns every known action type in a stable order.
func ActionTypes() []ActionType {
	return []ActionType{
		ActionJobProgress,
		ActionLocationUpdate,
		ActionAvailabilityUpdate,
		ActionJobClaim,
		ActionJobDecline,
	}
}

// Valid reports whether t is one of the known action types.
func (t ActionType) Valid() bool {
	_, ok := defaultMaxRetries[t]
	return ok
}

// DefaultMaxRetries returns the type-specific retry budget, or 3 for an
// unknown type.
func (t ActionType) DefaultMaxRetries() int {
	if n, ok := defaultMaxRetries[t]; ok {
		return n
	}
	return 3
}

// OfflineAction is a deferred HTTP write destined for the remote API.
type OfflineAction struct {
	ID         UUID                   `db:"id" json:"id"`
	Type       ActionType             `db:"type" json:"type"`
	URL        string                 `db:"url" json:"url"`
	Method     string                 `db:"method" json:"method"`
	Headers    map[string]string      `db:"headers" json:"headers,omitempty"`
	Body       string                 `db:"body" json:"body,omitempty"`
	Timestamp  int64                  `db:"timestamp" json:"timestamp"` // unix milliseconds
	RetryCount int                    `db:"retry_count" json:"retry_count"`
	MaxRetries int                    `db:"max_retries" json:"max_retries"`
	Metadata   map[string]interface{} `db:"metadata" json:"metadata,omitempty"`

	// NextEligibleAt is zero unless backoff is enabled; the engine leaves the
	// action untouched until this unix-millisecond time has passed.
	NextEligibleAt int64 `db:"next_eligible_at" json:"next_eligible_at,omitempty"`
}

// TableName returns the table name for OfflineAction.
func (OfflineAction) TableName() string {
	return "offline_actions"
}

// Clone returns a deep copy so callers cannot mutate queue-owned state.
func (a *OfflineAction) Clone() *OfflineAction {
	if a == nil {
		return nil
	}
	c := *a
	if a.Headers != nil {
		c.Headers = make(map[string]string, len(a.Headers))
		for k, v := range a.Headers {
			c.Headers[k] = v
		}
	}
	if a.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// CreatedAt returns the creation time.
func (a *OfflineAction) CreatedAt() time.Time {
	return time.UnixMilli(a.Timestamp)
}

// Eligible reports whether the action may be executed at now.
func (a *OfflineAction) Eligible(now time.Time) bool {
	return a.NextEligibleAt == 0 || a.NextEligibleAt <= now.UnixMilli()
}

// Descriptor is an action description supplied by a producer. The queue
// assigns id, timestamp and retry count.
type Descriptor struct {
	Type    ActionType        `json:"type"`
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
	// MaxRetries overrides the type default when positive.
	MaxRetries int                    `json:"max_retries,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// OfflineState is the externally observable snapshot of the queue.
type OfflineState struct {
	IsOnline       bool             `json:"is_online"`
	LastOnline     *time.Time       `json:"last_online,omitempty"`
	PendingActions []*OfflineAction `json:"pending_actions"`
	SyncInProgress bool             `json:"sync_in_progress"`
}

// PendingCount returns the number of queued actions in the snapshot.
func (s OfflineState) PendingCount() int {
	return len(s.PendingActions)
}
