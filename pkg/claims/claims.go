// Package claims persists extracted claims and flags duplicates and
// conflicts against already-linked claims. Claims are append-only: a
// flagged claim is still written, the flag lives on a claim-to-claim
// edge.
package claims

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/graphfuse/backend/internal/util"
	"github.com/graphfuse/backend/pkg/ai"
	"github.com/graphfuse/backend/pkg/common"
	"github.com/graphfuse/backend/pkg/logger"
	"github.com/graphfuse/backend/pkg/store"
)

// ExtractedClaim is one claim candidate from the extraction payload,
// with entity references already resolved to graph ids.
type ExtractedClaim struct {
	Statement  string
	Start      int
	End        int
	EntityIDs  []string
	Confidence float64
}

// Config tunes the linker. Pairs at or above DuplicateSimilarity are
// flagged without a judge call; pairs between MinJudgeSimilarity and the
// duplicate threshold go to the judge for conflict detection.
type Config struct {
	DuplicateSimilarity float64
	MinJudgeSimilarity  float64
	JudgeRetries        int
	Concurrency         int
}

// DefaultConfig returns the linker defaults.
func DefaultConfig() Config {
	return Config{
		DuplicateSimilarity: 0.92,
		MinJudgeSimilarity:  0.5,
		JudgeRetries:        3,
		Concurrency:         4,
	}
}

// ConfigFromEnv loads the linker configuration from the environment.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.DuplicateSimilarity = util.GetEnvNumeric("CLAIMS_DUPLICATE_SIMILARITY", cfg.DuplicateSimilarity)
	cfg.MinJudgeSimilarity = util.GetEnvNumeric("CLAIMS_JUDGE_SIMILARITY", cfg.MinJudgeSimilarity)
	cfg.JudgeRetries = util.GetEnvInt("CLAIMS_JUDGE_RETRIES", cfg.JudgeRetries)
	cfg.Concurrency = util.GetEnvInt("CLAIMS_CONCURRENCY", cfg.Concurrency)
	return cfg
}

// Linker prepares claim rows and their duplicate/conflict edges.
type Linker struct {
	store  store.GraphStore
	client ai.Client
	cfg    Config
}

// NewLinker creates a linker over the given store and judge client.
func NewLinker(graphStore store.GraphStore, client ai.Client, cfg Config) *Linker {
	return &Linker{store: graphStore, client: client, cfg: cfg}
}

// LinkDocument embeds the document's extracted claims and compares each
// against live claims already linked to the entities it references.
// It returns the claim rows and claim-relationship edges for the
// document's ingestion transaction; nothing is written here.
func (l *Linker) LinkDocument(
	ctx context.Context,
	documentID string,
	extracted []ExtractedClaim,
) ([]common.Claim, []common.ClaimRelationship, error) {
	if len(extracted) == 0 {
		return nil, nil, nil
	}

	entitySet := make(map[string]struct{})
	inputs := make([][]byte, len(extracted))
	for i, c := range extracted {
		if c.Statement == "" {
			return nil, nil, fmt.Errorf("%w: claim %d has an empty statement", common.ErrMalformedExtraction, i)
		}
		if len(c.EntityIDs) == 0 {
			return nil, nil, fmt.Errorf("%w: claim %q references no entities", common.ErrMalformedExtraction, c.Statement)
		}
		inputs[i] = []byte(c.Statement)
		for _, id := range c.EntityIDs {
			entitySet[id] = struct{}{}
		}
	}

	embeddings, err := l.client.GenerateEmbeddings(ctx, inputs)
	if err != nil {
		return nil, nil, fmt.Errorf("embed claims for %s: %w", documentID, err)
	}

	claims := make([]common.Claim, len(extracted))
	for i, c := range extracted {
		claims[i] = common.Claim{
			ID:         common.NewClaimID(),
			Statement:  c.Statement,
			Start:      c.Start,
			End:        c.End,
			DocumentID: documentID,
			EntityIDs:  append([]string(nil), c.EntityIDs...),
			Confidence: c.Confidence,
			Embedding:  embeddings[i],
		}
	}

	entityIDs := make([]string, 0, len(entitySet))
	for id := range entitySet {
		entityIDs = append(entityIDs, id)
	}
	sort.Strings(entityIDs)

	existing, err := l.store.GetLiveClaimsForEntities(ctx, entityIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("load linked claims: %w", err)
	}

	relations, err := l.detectRelations(ctx, documentID, claims, existing)
	if err != nil {
		return nil, nil, err
	}

	logger.Info("Linked document claims",
		"document", documentID, "claims", len(claims), "relations", len(relations))
	return claims, relations, nil
}

type claimPair struct {
	newIdx   int
	existing common.Claim
}

// detectRelations compares every new claim against entity-sharing live
// claims from other documents. High-similarity pairs are duplicates
// outright; mid-similarity pairs go to the judge.
func (l *Linker) detectRelations(
	ctx context.Context,
	documentID string,
	claims []common.Claim,
	existing []common.Claim,
) ([]common.ClaimRelationship, error) {
	pairs := make([]claimPair, 0)
	for i, claim := range claims {
		for _, old := range existing {
			// Same-document claims are about to be superseded by this
			// ingestion; comparing against them would flag ghosts.
			if old.DocumentID == documentID {
				continue
			}
			if !sharesEntity(claim.EntityIDs, old.EntityIDs) {
				continue
			}
			if store.CosineSimilarity(claim.Embedding, old.Embedding) < l.cfg.MinJudgeSimilarity {
				continue
			}
			pairs = append(pairs, claimPair{newIdx: i, existing: old})
		}
	}

	var mu sync.Mutex
	relations := make([]common.ClaimRelationship, 0, len(pairs))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(l.cfg.Concurrency)

	for _, pair := range pairs {
		group.Go(func() error {
			claim := claims[pair.newIdx]

			kind := common.ClaimRelationKind("")
			if store.CosineSimilarity(claim.Embedding, pair.existing.Embedding) >= l.cfg.DuplicateSimilarity {
				kind = common.ClaimDuplicates
			} else {
				judgment, err := ai.CallClaimJudge(groupCtx, l.client, claim.Statement, pair.existing.Statement, l.cfg.JudgeRetries)
				if err != nil {
					logger.Warn("Claim judge failed, skipping pair",
						"claim", claim.ID, "against", pair.existing.ID, "err", err)
					return nil
				}
				switch judgment.Relation {
				case string(common.ClaimDuplicates):
					kind = common.ClaimDuplicates
				case string(common.ClaimConflicts):
					kind = common.ClaimConflicts
				default:
					return nil
				}
			}

			mu.Lock()
			relations = append(relations, common.ClaimRelationship{
				ClaimA:     claim.ID,
				ClaimB:     pair.existing.ID,
				Kind:       kind,
				DetectedAt: time.Now().UTC(),
			})
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(relations, func(i, j int) bool {
		a, b := relations[i], relations[j]
		if a.ClaimA != b.ClaimA {
			return a.ClaimA < b.ClaimA
		}
		if a.ClaimB != b.ClaimB {
			return a.ClaimB < b.ClaimB
		}
		return a.Kind < b.Kind
	})
	return relations, nil
}

func sharesEntity(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
