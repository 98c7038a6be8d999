package query

import "sort"

// fuseRRF merges ranked lists with reciprocal rank fusion. Each item
// scores the sum of 1/(k+rank) over the lists it appears in, rank
// starting at 1. Evidence document IDs are unioned across occurrences.
// Ties break on the best rank the item achieved in any list, then on
// item ID so output order is stable across runs.
func fuseRRF(lists [][]Item, k int) []Item {
	type fused struct {
		item     Item
		score    float64
		bestRank int
		docs     map[string]struct{}
	}

	byID := make(map[string]*fused)
	order := make([]string, 0)
	for _, list := range lists {
		for rank, item := range list {
			f, ok := byID[item.ID]
			if !ok {
				f = &fused{item: item, bestRank: rank + 1, docs: make(map[string]struct{})}
				byID[item.ID] = f
				order = append(order, item.ID)
			}
			f.score += 1.0 / float64(k+rank+1)
			if rank+1 < f.bestRank {
				f.bestRank = rank + 1
			}
			for _, doc := range item.DocumentIDs {
				f.docs[doc] = struct{}{}
			}
			if f.item.Triplet == nil && item.Triplet != nil {
				f.item.Triplet = item.Triplet
			}
			if item.Confidence > f.item.Confidence {
				f.item.Confidence = item.Confidence
			}
		}
	}

	out := make([]*fused, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if out[i].bestRank != out[j].bestRank {
			return out[i].bestRank < out[j].bestRank
		}
		return out[i].item.ID < out[j].item.ID
	})

	items := make([]Item, 0, len(out))
	for _, f := range out {
		docs := make([]string, 0, len(f.docs))
		for doc := range f.docs {
			docs = append(docs, doc)
		}
		sort.Strings(docs)
		item := f.item
		item.DocumentIDs = docs
		items = append(items, item)
	}
	return items
}
