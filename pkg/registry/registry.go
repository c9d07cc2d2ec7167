package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/aster/pkg/clustering"
	"github.com/Ramsey-B/aster/pkg/models"
)

// AccountSource supplies the account population the registry clusters over.
type AccountSource interface {
	List(ctx context.Context) ([]models.Account, error)
}

// snapshot is an immutable view of the registry's clusters. Readers hold a
// snapshot pointer and never observe a partial refresh.
type snapshot struct {
	clusters   []models.DuplicateCluster
	computedAt time.Time
}

// Registry caches duplicate clusters computed over the full account
// population. Reads are served from the current snapshot without blocking;
// refreshes build a replacement snapshot off to the side and swap it in.
type Registry struct {
	logger    ectologger.Logger
	source    AccountSource
	builder   *clustering.Builder
	threshold float64
	ttl       time.Duration

	mu          sync.RWMutex
	current     *snapshot
	invalidated map[string]bool

	refreshMu sync.Mutex
}

func New(logger ectologger.Logger, source AccountSource, builder *clustering.Builder, threshold float64, ttl time.Duration) *Registry {
	return &Registry{
		logger:      logger,
		source:      source,
		builder:     builder,
		threshold:   threshold,
		ttl:         ttl,
		invalidated: make(map[string]bool),
	}
}

// ListClusters returns the current snapshot's clusters. Clusters touching an
// invalidated account are withheld until the next refresh, since their
// members may already be merged away. Every cluster is flagged stale once
// the snapshot outlives the TTL. Never blocks on a refresh in flight.
func (r *Registry) ListClusters(ctx context.Context) ([]models.DuplicateCluster, error) {
	r.mu.RLock()
	snap := r.current
	invalidated := make(map[string]bool, len(r.invalidated))
	for id := range r.invalidated {
		invalidated[id] = true
	}
	r.mu.RUnlock()

	if snap == nil {
		if err := r.Refresh(ctx); err != nil {
			return nil, err
		}
		r.mu.RLock()
		snap = r.current
		r.mu.RUnlock()
	}

	expired := r.ttl > 0 && time.Since(snap.computedAt) > r.ttl

	out := make([]models.DuplicateCluster, 0, len(snap.clusters))
	for _, cluster := range snap.clusters {
		touched := false
		for _, id := range cluster.AccountIDs {
			if invalidated[id] {
				touched = true
				break
			}
		}
		if touched {
			continue
		}
		cluster.Stale = expired
		out = append(out, cluster)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out, nil
}

// Refresh recomputes all clusters from the account source and swaps in the
// new snapshot. Concurrent calls are serialized; a caller that waited on
// another refresh still gets the freshly computed state.
func (r *Registry) Refresh(ctx context.Context) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	log := r.logger.WithContext(ctx)

	accounts, err := r.source.List(ctx)
	if err != nil {
		log.WithError(err).Error("Failed to load accounts for cluster refresh")
		return err
	}

	clusters := r.builder.BuildClusters(accounts, r.threshold)

	r.mu.Lock()
	r.current = &snapshot{clusters: clusters, computedAt: time.Now().UTC()}
	r.invalidated = make(map[string]bool)
	r.mu.Unlock()

	log.WithFields(map[string]any{
		"account_count": len(accounts),
		"cluster_count": len(clusters),
	}).Info("Duplicate clusters refreshed")

	return nil
}

// Invalidate marks every cluster containing the account as stale until the
// next refresh. Called after merges and account mutations.
func (r *Registry) Invalidate(accountID string) {
	r.mu.Lock()
	r.invalidated[accountID] = true
	r.mu.Unlock()
}

// ComputedAt reports when the current snapshot was built. Zero when no
// snapshot exists yet.
func (r *Registry) ComputedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return time.Time{}
	}
	return r.current.computedAt
}
