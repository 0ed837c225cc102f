package index

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Aman-CERP/docqa/internal/store"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyOrphanVector is a vector whose passage no longer exists.
	InconsistencyOrphanVector InconsistencyType = iota
	// InconsistencyMissingVector is a stored passage with no vector.
	InconsistencyMissingVector
)

func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanVector:
		return "orphan_vector"
	case InconsistencyMissingVector:
		return "missing_vector"
	default:
		return "unknown"
	}
}

// Inconsistency is one passage the store and the vector index disagree on.
type Inconsistency struct {
	Type       InconsistencyType
	PassageID  int64
	DocumentID int64 // zero for orphans
	Details    string
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	// Checked is the number of stored passages verified.
	Checked         int
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// Consistent reports whether no issue was found.
func (r *CheckResult) Consistent() bool {
	return len(r.Inconsistencies) == 0
}

// RepairResult summarizes a repair pass.
type RepairResult struct {
	OrphansDeleted int
	// Reindex lists documents with passages missing from the vector index.
	Reindex []int64
}

// ConsistencyChecker compares the passage table, which is the source of
// truth, with the vector index. The two are written in separate steps, so a
// crash between them leaves one side ahead of the other.
type ConsistencyChecker struct {
	passages store.PassageStore
	vector   store.VectorIndex
}

// NewConsistencyChecker creates a checker over the given stores.
func NewConsistencyChecker(passages store.PassageStore, vector store.VectorIndex) *ConsistencyChecker {
	return &ConsistencyChecker{passages: passages, vector: vector}
}

// Check lists every passage id present on only one side.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()

	passages, err := c.passages.ListPassages(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing passages: %w", err)
	}

	stored := make(map[int64]int64, len(passages))
	for _, p := range passages {
		stored[p.ID] = p.DocumentID
	}

	vectorIDs := c.vector.PassageIDs()
	indexed := make(map[int64]bool, len(vectorIDs))

	var issues []Inconsistency
	for _, id := range vectorIDs {
		indexed[id] = true
		if _, ok := stored[id]; !ok {
			issues = append(issues, Inconsistency{
				Type:      InconsistencyOrphanVector,
				PassageID: id,
				Details:   "vector without a stored passage",
			})
		}
	}

	// passages is ordered by id, so the report is too.
	for _, p := range passages {
		if !indexed[p.ID] {
			issues = append(issues, Inconsistency{
				Type:       InconsistencyMissingVector,
				PassageID:  p.ID,
				DocumentID: p.DocumentID,
				Details:    "stored passage missing from vector index",
			})
		}
	}

	return &CheckResult{
		Checked:         len(passages),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

// Repair deletes orphan vectors. Missing vectors cannot be rebuilt without
// re-embedding, so their documents are returned for re-indexing.
func (c *ConsistencyChecker) Repair(ctx context.Context, issues []Inconsistency) (*RepairResult, error) {
	var orphans []int64
	var reindex []int64
	for _, issue := range issues {
		switch issue.Type {
		case InconsistencyOrphanVector:
			orphans = append(orphans, issue.PassageID)
		case InconsistencyMissingVector:
			if !slices.Contains(reindex, issue.DocumentID) {
				reindex = append(reindex, issue.DocumentID)
			}
		}
	}
	slices.Sort(reindex)

	result := &RepairResult{Reindex: reindex}
	if len(orphans) > 0 {
		n, err := c.vector.DeletePassages(ctx, orphans)
		if err != nil {
			return nil, fmt.Errorf("deleting orphan vectors: %w", err)
		}
		result.OrphansDeleted = n
		slog.Info("orphan_vectors_deleted", slog.Int("count", n))
	}

	if len(reindex) > 0 {
		slog.Warn("documents need re-indexing",
			slog.Int("documents", len(reindex)),
			slog.Any("document_ids", reindex))
	}
	return result, nil
}

// QuickCheck only compares counts.
func (c *ConsistencyChecker) QuickCheck(ctx context.Context) (bool, error) {
	passageCount, err := c.passages.CountPassages(ctx)
	if err != nil {
		return false, err
	}
	vectorCount := c.vector.Stats().TotalVectors

	consistent := passageCount == vectorCount
	if !consistent {
		slog.Debug("index counts mismatch",
			slog.Int("passages", passageCount),
			slog.Int("vectors", vectorCount))
	}
	return consistent, nil
}
