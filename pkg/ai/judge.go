package ai

import (
	"context"
	"fmt"
	"strings"

	gUtil "github.com/graphfuse/backend/internal/util"
)

// MergeAction is the outcome of a merge judgment call.
type MergeAction string

const (
	MergeActionMerge     MergeAction = "merge"
	MergeActionCreate    MergeAction = "create"
	MergeActionAmbiguous MergeAction = "ambiguous"
)

// MergeCandidate is one existing entity offered to the merge judge.
type MergeCandidate struct {
	EntityID      string
	Name          string
	Type          string
	Aliases       []string
	Description   string
	DocumentCount int
	Similarity    float64
}

// MergeDecision is the structured response of a merge judgment call.
type MergeDecision struct {
	Action     string  `json:"action" jsonschema:"enum=merge,enum=create,enum=ambiguous" jsonschema_description:"Whether the mention merges into an existing entity, creates a new one, or cannot be decided."`
	EntityID   string  `json:"entity_id,omitempty" jsonschema_description:"Id of the candidate entity to merge into. Required when action is merge."`
	Confidence float64 `json:"confidence" jsonschema_description:"Confidence in the decision between 0 and 1."`
}

// Normalized returns the decision's action, downgrading malformed
// responses to ambiguous: a merge without a known entity id, or an
// unrecognized action string.
func (d *MergeDecision) Normalized(candidates []MergeCandidate) MergeAction {
	switch MergeAction(d.Action) {
	case MergeActionCreate:
		return MergeActionCreate
	case MergeActionMerge:
		for _, c := range candidates {
			if c.EntityID == d.EntityID {
				return MergeActionMerge
			}
		}
		return MergeActionAmbiguous
	default:
		return MergeActionAmbiguous
	}
}

// CallMergeJudge asks the judge whether a mention merges into one of the
// candidate entities. It returns the decision together with the exact
// prompt used, so the caller can record it for replay.
func CallMergeJudge(
	ctx context.Context,
	client Client,
	mention string,
	candidates []MergeCandidate,
	maxRetries int,
) (*MergeDecision, string, error) {
	if client == nil {
		return nil, "", fmt.Errorf("ai client is nil")
	}

	var candidateData strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&candidateData,
			"- Id: %s, Name: %s, Type: %s, Aliases: [%s], Documents: %d, Similarity: %.3f\n  Description: %s\n",
			c.EntityID, c.Name, c.Type, strings.Join(c.Aliases, ", "),
			c.DocumentCount, c.Similarity, c.Description,
		)
	}
	prompt := fmt.Sprintf(MergePrompt, mention, candidateData.String())

	var res MergeDecision
	err := gUtil.RetryErrWithContext(ctx, maxRetries, func(ctx context.Context) error {
		return client.GenerateCompletionWithFormat(
			ctx, "merge_decision", "Decide whether an entity mention merges into an existing entity.", prompt, &res,
		)
	})
	if err != nil {
		return nil, prompt, err
	}
	return &res, prompt, nil
}

// ClaimJudgment is the structured response of a claim comparison call.
type ClaimJudgment struct {
	Relation   string  `json:"relation" jsonschema:"enum=duplicates,enum=conflicts,enum=none" jsonschema_description:"Whether claim A duplicates, conflicts with, or is independent of claim B."`
	Confidence float64 `json:"confidence" jsonschema_description:"Confidence in the judgment between 0 and 1."`
}

// CallClaimJudge compares two claims that share an entity and reports
// whether they duplicate or contradict each other.
func CallClaimJudge(
	ctx context.Context,
	client Client,
	claimA string,
	claimB string,
	maxRetries int,
) (*ClaimJudgment, error) {
	if client == nil {
		return nil, fmt.Errorf("ai client is nil")
	}

	prompt := fmt.Sprintf(ClaimConflictPrompt, claimA, claimB)

	var res ClaimJudgment
	err := gUtil.RetryErrWithContext(ctx, maxRetries, func(ctx context.Context) error {
		return client.GenerateCompletionWithFormat(
			ctx, "claim_relation", "Compare two claims about the same entity.", prompt, &res,
		)
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

type hypothesisResponse struct {
	Hypothesis string `json:"hypothesis" jsonschema_description:"One short search query to expand the graph context."`
}

// GenerateHypothesis asks for the next expansion query given the
// accumulated graph context. An empty hypothesis means the model sees
// nothing further worth exploring.
func GenerateHypothesis(
	ctx context.Context,
	client Client,
	query string,
	contextText string,
	maxRetries int,
) (string, error) {
	if client == nil {
		return "", fmt.Errorf("ai client is nil")
	}

	prompt := fmt.Sprintf(HypothesisPrompt, query, contextText)

	var res hypothesisResponse
	err := gUtil.RetryErrWithContext(ctx, maxRetries, func(ctx context.Context) error {
		return client.GenerateCompletionWithFormat(
			ctx, "expansion_hypothesis", "Generate the next retrieval hypothesis.", prompt, &res,
		)
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Hypothesis), nil
}

// Summarize condenses text to roughly budgetTokens tokens.
func Summarize(
	ctx context.Context,
	client Client,
	text string,
	budgetTokens int,
) (string, error) {
	if client == nil {
		return "", fmt.Errorf("ai client is nil")
	}

	prompt := fmt.Sprintf(SummaryPrompt, text, budgetTokens)
	res, err := client.GenerateCompletion(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res), nil
}
