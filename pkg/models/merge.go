package models

import "time"

// MergeDecision resolves a single contested field: the caller picks which
// source account's value survives on the primary.
type MergeDecision struct {
	Field           string `json:"field"`
	SourceAccountID string `json:"source_account_id"`
	Value           any    `json:"value"`
}

// MergeJob is the unit of work submitted to the merge executor.
// SecondaryIDs must be disjoint from PrimaryID and from each other.
type MergeJob struct {
	PrimaryID      string          `json:"primary_id" validate:"required,uuid4"`
	SecondaryIDs   []string        `json:"secondary_ids" validate:"required,min=1,dive,uuid4"`
	Decisions      []MergeDecision `json:"decisions,omitempty"`
	IdempotencyKey string          `json:"idempotency_key" validate:"required"`
}

// MergeResult summarizes a committed merge. RequestedSecondaryIDs is the
// sorted secondary set the job asked for, kept so a key replay can be
// distinguished from a key reused for a different job; MergedAccountIDs is
// the subset that still existed when the merge committed.
type MergeResult struct {
	IdempotencyKey        string    `json:"idempotency_key"`
	PrimaryID             string    `json:"primary_id"`
	RequestedSecondaryIDs []string  `json:"requested_secondary_ids"`
	MergedAccountIDs      []string  `json:"merged_account_ids"`
	RelationshipsMoved    int       `json:"relationships_moved"`
	RelationshipsDeduped  int       `json:"relationships_deduped"`
	AccountsRemoved       int       `json:"accounts_removed"`
	CompletedAt           time.Time `json:"completed_at"`
}

// FieldConflict describes a field where at least one secondary disagrees
// with the primary's non-empty value.
type FieldConflict struct {
	Field             string         `json:"field"`
	PrimaryValue      any            `json:"primary_value"`
	Values            map[string]any `json:"values"` // account ID -> value
	DefaultResolution string         `json:"default_resolution"`
}

// PreviewMergeRequest is the request for a read-only merge projection
type PreviewMergeRequest struct {
	PrimaryID    string          `json:"primary_id" validate:"required,uuid4"`
	SecondaryIDs []string        `json:"secondary_ids" validate:"required,min=1,dive,uuid4"`
	Decisions    []MergeDecision `json:"decisions,omitempty"`
}

// PreviewMergeResponse carries the projection and the conflicts it resolved
type PreviewMergeResponse struct {
	Account   Account         `json:"account"`
	Conflicts []FieldConflict `json:"conflicts,omitempty"`
}

// CleanupOutcome is the per-cluster outcome of an auto-cleanup pass
type CleanupOutcome struct {
	ClusterID  string       `json:"cluster_id"`
	Confidence float64      `json:"confidence"`
	Merged     bool         `json:"merged"`
	Result     *MergeResult `json:"result,omitempty"`
	Error      string       `json:"error,omitempty"`
}
