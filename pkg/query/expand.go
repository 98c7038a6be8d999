package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/graphfuse/backend/pkg/ai"
	"github.com/graphfuse/backend/pkg/common"
	"github.com/graphfuse/backend/pkg/logger"
	"github.com/graphfuse/backend/pkg/store"
)

// expansionResult carries the accumulated subgraph of one dataset after
// the hypothesis loop has settled.
type expansionResult struct {
	Triplets      []common.Triplet
	RoundsRun     int
	TripletsAdded int
}

// expander grows a seed subgraph by asking the model what is still
// missing and traversing from the entities the hypothesis names. The
// loop stops when a round yields nothing novel, when the marginal gain
// falls under the configured ratio, or when the round cap is hit.
type expander struct {
	store  store.GraphStore
	client ai.Client
	cfg    Config
}

func (e *expander) expand(ctx context.Context, req Request, seed []common.Triplet, maxRounds int) (expansionResult, error) {
	if maxRounds <= 0 {
		maxRounds = e.cfg.MaxRounds
	}

	accumulated := make([]common.Triplet, len(seed))
	copy(accumulated, seed)
	known := make(map[string]struct{}, len(seed))
	for _, t := range seed {
		known[t.Key()] = struct{}{}
	}

	result := expansionResult{}
	for range maxRounds {
		if err := ctx.Err(); err != nil {
			// The triplets gathered so far still serve the query.
			result.Triplets = accumulated
			return result, fmt.Errorf("%w: %s", common.ErrBudgetExceeded, err)
		}

		hypothesis, err := ai.GenerateHypothesis(ctx, e.client, req.Text, tripletBlock(accumulated), e.cfg.JudgeRetries)
		if err != nil {
			return result, err
		}
		result.RoundsRun++
		if strings.TrimSpace(hypothesis) == "" {
			break
		}

		frontier, err := e.frontierEntities(ctx, req.Dataset, hypothesis, accumulated)
		if err != nil {
			return result, err
		}
		if len(frontier) == 0 {
			break
		}

		triplets, err := e.store.TraverseFrom(ctx, frontier, e.cfg.TraversalDepth, e.cfg.TraversalMaxEdges)
		if err != nil {
			return result, err
		}

		novel := 0
		before := len(accumulated)
		for _, t := range triplets {
			if _, ok := known[t.Key()]; ok {
				continue
			}
			known[t.Key()] = struct{}{}
			accumulated = append(accumulated, t)
			novel++
		}
		if novel == 0 {
			break
		}
		result.TripletsAdded += novel
		logger.Debug("expansion round added triplets", "round", result.RoundsRun, "novel", novel)

		if before > 0 && float64(novel)/float64(before) < e.cfg.MarginalGainRatio {
			break
		}
	}

	result.Triplets = accumulated
	return result, nil
}

// frontierEntities matches the hypothesis text against the graph and
// drops entities whose neighborhood is already in the subgraph.
func (e *expander) frontierEntities(ctx context.Context, dataset, hypothesis string, accumulated []common.Triplet) ([]string, error) {
	names := candidateNames(hypothesis, nil)
	if len(names) == 0 {
		return nil, nil
	}
	entities, err := e.store.FindEntitiesByName(ctx, dataset, names)
	if err != nil {
		return nil, err
	}

	covered := make(map[string]struct{}, len(accumulated)*2)
	for _, t := range accumulated {
		covered[t.SourceID] = struct{}{}
		covered[t.TargetID] = struct{}{}
	}
	ids := make([]string, 0, len(entities))
	for _, entity := range entities {
		if _, ok := covered[entity.ID]; ok {
			continue
		}
		ids = append(ids, entity.ID)
	}
	sort.Strings(ids)
	return ids, nil
}
