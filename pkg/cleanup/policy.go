package cleanup

import (
	"context"
	"fmt"
	"sort"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/aster/pkg/merge"
	"github.com/Ramsey-B/aster/pkg/models"
)

var cleanupKeyNamespace = uuid.MustParse("7b1c9a4e-2f6d-4c3b-9e8a-5d0f1b2c3d4e")

// ClusterLister supplies the clusters eligible for unattended cleanup.
type ClusterLister interface {
	ListClusters(ctx context.Context) ([]models.DuplicateCluster, error)
}

// Merger executes a merge job. Satisfied by merge.Executor.
type Merger interface {
	Execute(ctx context.Context, job models.MergeJob) (*models.MergeResult, error)
}

// Policy merges high-confidence duplicate clusters without operator review.
// Every automated merge uses default conflict resolutions only.
type Policy struct {
	logger    ectologger.Logger
	clusters  ClusterLister
	merger    Merger
	accounts  merge.AccountStore
	threshold float64
}

func NewPolicy(logger ectologger.Logger, clusters ClusterLister, merger Merger, accounts merge.AccountStore, threshold float64) *Policy {
	return &Policy{
		logger:    logger,
		clusters:  clusters,
		merger:    merger,
		accounts:  accounts,
		threshold: threshold,
	}
}

// Run sweeps the current clusters and merges each one whose confidence meets
// the threshold. A failed cluster is reported in its outcome and does not
// stop the sweep.
func (p *Policy) Run(ctx context.Context) ([]models.CleanupOutcome, error) {
	clusters, err := p.clusters.ListClusters(ctx)
	if err != nil {
		return nil, err
	}

	log := p.logger.WithContext(ctx)
	outcomes := make([]models.CleanupOutcome, 0, len(clusters))

	for _, cluster := range clusters {
		if cluster.Confidence < p.threshold {
			continue
		}
		// Stale clusters may reference accounts merged away since the last
		// refresh; leave them for the next computed snapshot
		if cluster.Stale {
			continue
		}

		outcome := p.mergeCluster(ctx, cluster)
		if outcome.Error != "" {
			log.WithFields(map[string]any{
				"cluster_id": cluster.ID,
				"error":      outcome.Error,
			}).Warn("Automated cleanup skipped cluster")
		}
		outcomes = append(outcomes, outcome)
	}

	log.WithFields(map[string]any{
		"clusters_considered": len(clusters),
		"clusters_merged":     merged(outcomes),
	}).Info("Automated cleanup sweep finished")

	return outcomes, nil
}

func (p *Policy) mergeCluster(ctx context.Context, cluster models.DuplicateCluster) models.CleanupOutcome {
	outcome := models.CleanupOutcome{ClusterID: cluster.ID, Confidence: cluster.Confidence}

	members, err := p.accounts.GetByIDs(ctx, cluster.AccountIDs)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	if len(members) < 2 {
		outcome.Error = fmt.Sprintf("cluster has %d surviving members", len(members))
		return outcome
	}

	primary := pickPrimary(members)
	secondaryIDs := make([]string, 0, len(members)-1)
	for _, m := range members {
		if m.ID != primary.ID {
			secondaryIDs = append(secondaryIDs, m.ID)
		}
	}
	sort.Strings(secondaryIDs)

	job := models.MergeJob{
		IdempotencyKey: cleanupKey(cluster, primary.ID, secondaryIDs),
		PrimaryID:      primary.ID,
		SecondaryIDs:   secondaryIDs,
	}

	result, err := p.merger.Execute(ctx, job)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	outcome.Result = result
	outcome.Merged = true
	return outcome
}

// pickPrimary chooses the surviving account deterministically: the oldest
// record wins, then the most populated one, then the lowest ID.
func pickPrimary(members []models.Account) models.Account {
	best := members[0]
	for _, m := range members[1:] {
		switch {
		case m.CreatedAt.Before(best.CreatedAt):
			best = m
		case m.CreatedAt.Equal(best.CreatedAt):
			mp, bp := m.PopulatedFieldCount(), best.PopulatedFieldCount()
			if mp > bp || (mp == bp && m.ID < best.ID) {
				best = m
			}
		}
	}
	return best
}

// cleanupKey derives a stable idempotency key from the merge's shape so a
// repeated sweep over unchanged clusters replays instead of re-merging
func cleanupKey(cluster models.DuplicateCluster, primaryID string, secondaryIDs []string) string {
	seed := cluster.ID + "|" + primaryID
	for _, id := range secondaryIDs {
		seed += "|" + id
	}
	return uuid.NewSHA1(cleanupKeyNamespace, []byte(seed)).String()
}

func merged(outcomes []models.CleanupOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Merged {
			n++
		}
	}
	return n
}
