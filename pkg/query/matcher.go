package query

import (
	"context"
	"strings"

	"github.com/graphfuse/backend/pkg/common"
	"github.com/graphfuse/backend/pkg/store"
)

// Request is the resolved retrieval context handed to each retriever:
// the query text, its embedding, the dataset in scope (empty for all),
// and the entities the query matched by name or alias.
type Request struct {
	Text      string
	Dataset   string
	Embedding []float32
	Entities  []common.Entity
}

func (r Request) entityIDs() []string {
	ids := make([]string, len(r.Entities))
	for i, e := range r.Entities {
		ids[i] = e.ID
	}
	return ids
}

// candidateNames generates name candidates from free text: every
// unigram, bigram and trigram, with punctuation trimmed. Matching is
// case-insensitive downstream, so no folding happens here.
func candidateNames(text string, extra []string) []string {
	words := make([]string, 0)
	for _, field := range strings.Fields(text) {
		word := strings.Trim(field, ".,!?;:'\"()[]{}")
		if word != "" {
			words = append(words, word)
		}
	}

	seen := make(map[string]struct{})
	names := make([]string, 0, len(words)*3+len(extra))
	add := func(name string) {
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup || name == "" {
			return
		}
		seen[key] = struct{}{}
		names = append(names, name)
	}

	for n := 1; n <= 3; n++ {
		for i := 0; i+n <= len(words); i++ {
			add(strings.Join(words[i:i+n], " "))
		}
	}
	for _, name := range extra {
		add(name)
	}
	return names
}

// matchEntities resolves the query's entities against the graph by name
// and alias. Session hints are additive extra candidates, never a
// replacement for the query's own terms.
func matchEntities(
	ctx context.Context,
	graphStore store.GraphStore,
	dataset string,
	text string,
	hints []string,
) ([]common.Entity, error) {
	names := candidateNames(text, hints)
	if len(names) == 0 {
		return nil, nil
	}
	return graphStore.FindEntitiesByName(ctx, dataset, names)
}
