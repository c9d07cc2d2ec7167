package models

import "time"

// DuplicateCluster is a set of accounts judged likely duplicates of one another.
// Confidence is the maximum pairwise similarity score among the members; a
// cluster formed through a chain of weaker edges still carries the score of
// the strongest pair that produced it.
type DuplicateCluster struct {
	ID         string    `json:"id"`
	AccountIDs []string  `json:"account_ids"`
	Criteria   []string  `json:"criteria"`
	Confidence float64   `json:"confidence"`
	Stale      bool      `json:"stale"`
	ComputedAt time.Time `json:"computed_at"`
}

// Contains reports whether the cluster references the given account
func (c *DuplicateCluster) Contains(accountID string) bool {
	for _, id := range c.AccountIDs {
		if id == accountID {
			return true
		}
	}
	return false
}

// ClusterListResponse is the response for listing duplicate clusters
type ClusterListResponse struct {
	Items      []DuplicateCluster `json:"items"`
	TotalCount int                `json:"total_count"`
	ComputedAt time.Time          `json:"computed_at"`
	Stale      bool               `json:"stale"`
}
