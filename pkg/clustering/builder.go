// Package clustering groups accounts into duplicate clusters
package clustering

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/aster/pkg/models"
	"github.com/Ramsey-B/aster/pkg/normalizers"
	"github.com/Ramsey-B/aster/pkg/scoring"
)

// clusterIDNamespace makes cluster IDs a stable function of their membership:
// recomputing clusters over unchanged accounts yields the same IDs.
var clusterIDNamespace = uuid.MustParse("8f9e6a3c-1d07-4b92-a6cd-54c7f21f0b7e")

// Builder builds duplicate clusters from pairwise account similarity.
// An edge exists between two accounts when their score meets the threshold;
// clusters are the connected components of size > 1.
type Builder struct {
	scorer    *scoring.Scorer
	bucketing bool
}

// NewBuilder creates a new cluster builder. When bucketing is enabled,
// pairwise scoring is limited to accounts sharing a normalized domain or a
// company-name prefix, which trims the O(n^2) comparison set for large
// account collections. Bucketing is an approximation: a pair with no shared
// domain whose normalized names differ in the first characters is never
// scored, so it can miss clusters that full pairwise comparison would find.
func NewBuilder(scorer *scoring.Scorer, bucketing bool) *Builder {
	return &Builder{
		scorer:    scorer,
		bucketing: bucketing,
	}
}

// BuildClusters groups accounts into duplicate clusters at the given
// threshold. Cluster confidence is the maximum pairwise score among the
// members.
func (b *Builder) BuildClusters(accounts []models.Account, threshold float64) []models.DuplicateCluster {
	n := len(accounts)
	if n < 2 {
		return nil
	}

	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(i, j int) {
		ri, rj := find(i), find(j)
		if ri != rj {
			parent[rj] = ri
		}
	}

	type edge struct {
		i, j  int
		score float64
	}
	var edges []edge

	for _, pair := range b.candidatePairs(accounts) {
		score := b.scorer.Score(accounts[pair[0]], accounts[pair[1]])
		if score >= threshold {
			union(pair[0], pair[1])
			edges = append(edges, edge{pair[0], pair[1], score})
		}
	}

	// Collect components and their strongest edge
	members := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := find(i)
		members[root] = append(members[root], i)
	}
	confidence := make(map[int]float64)
	for _, e := range edges {
		root := find(e.i)
		if e.score > confidence[root] {
			confidence[root] = e.score
		}
	}

	now := time.Now().UTC()
	criteria := b.scorer.Criteria()

	clusters := make([]models.DuplicateCluster, 0)
	for root, idxs := range members {
		if len(idxs) < 2 {
			continue
		}

		ids := make([]string, 0, len(idxs))
		for _, idx := range idxs {
			ids = append(ids, accounts[idx].ID)
		}
		sort.Strings(ids)

		clusters = append(clusters, models.DuplicateCluster{
			ID:         uuid.NewSHA1(clusterIDNamespace, []byte(strings.Join(ids, "|"))).String(),
			AccountIDs: ids,
			Criteria:   criteria,
			Confidence: confidence[root],
			ComputedAt: now,
		})
	}

	// Deterministic output order for a deterministic input order
	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].AccountIDs[0] < clusters[j].AccountIDs[0]
	})

	return clusters
}

// candidatePairs returns the index pairs to score. Without bucketing every
// pair is scored; with bucketing only pairs sharing a candidate bucket are.
func (b *Builder) candidatePairs(accounts []models.Account) [][2]int {
	n := len(accounts)

	if !b.bucketing {
		pairs := make([][2]int, 0, n*(n-1)/2)
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				pairs = append(pairs, [2]int{i, j})
			}
		}
		return pairs
	}

	buckets := make(map[string][]int)
	addToBucket := func(key string, idx int) {
		if key == "" {
			return
		}
		buckets[key] = append(buckets[key], idx)
	}

	for i, a := range accounts {
		if d := normalizers.NormalizeDomain(a.Domain); d != "" {
			addToBucket("d:"+d, i)
		} else if w := normalizers.NormalizeDomain(a.Website); w != "" {
			addToBucket("d:"+w, i)
		}

		name := normalizers.NormalizeCompanyName(a.Name)
		if name != "" {
			prefix := name
			if len(prefix) > 3 {
				prefix = prefix[:3]
			}
			addToBucket("n:"+prefix, i)
		} else {
			// No name to bucket on: compare against everything
			addToBucket("n:", i)
			for j := range accounts {
				if j != i {
					addToBucket("u:"+a.ID, j)
				}
			}
			addToBucket("u:"+a.ID, i)
		}
	}

	seen := make(map[[2]int]bool)
	pairs := make([][2]int, 0)
	for _, idxs := range buckets {
		for x := 0; x < len(idxs); x++ {
			for y := x + 1; y < len(idxs); y++ {
				i, j := idxs[x], idxs[y]
				if i > j {
					i, j = j, i
				}
				key := [2]int{i, j}
				if seen[key] {
					continue
				}
				seen[key] = true
				pairs = append(pairs, key)
			}
		}
	}

	// Keep pair order deterministic regardless of map iteration
	sort.Slice(pairs, func(a, b int) bool {
		if pairs[a][0] != pairs[b][0] {
			return pairs[a][0] < pairs[b][0]
		}
		return pairs[a][1] < pairs[b][1]
	})

	return pairs
}
