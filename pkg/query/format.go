package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/graphfuse/backend/pkg/ai"
	"github.com/graphfuse/backend/pkg/common"
	"github.com/graphfuse/backend/pkg/logger"
)

const tokenEncoding = "cl100k_base"

func countTokens(text string) int {
	enc, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		// Rough fallback, four characters per token.
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

func tripletLine(t common.Triplet) string {
	docs := make([]string, len(t.DocumentIDs))
	copy(docs, t.DocumentIDs)
	sort.Strings(docs)
	return fmt.Sprintf("%s --[%s]--> %s (sources: %s)", t.SourceName, t.Type, t.TargetName, strings.Join(docs, ", "))
}

// tripletBlock renders triplets one per line in a fixed order so the
// same subgraph always produces the same text.
func tripletBlock(triplets []common.Triplet) string {
	sorted := make([]common.Triplet, len(triplets))
	copy(sorted, triplets)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].SourceID != sorted[j].SourceID {
			return sorted[i].SourceID < sorted[j].SourceID
		}
		if sorted[i].Type != sorted[j].Type {
			return sorted[i].Type < sorted[j].Type
		}
		return sorted[i].TargetID < sorted[j].TargetID
	})

	var b strings.Builder
	for _, t := range sorted {
		b.WriteString(tripletLine(t))
		b.WriteByte('\n')
	}
	return b.String()
}

// formatContext assembles the final context block: a header describing
// the query, the fused evidence and subgraph body, and a citation list.
// When the body exceeds the token budget it is condensed through the
// model rather than cut off mid-line.
func formatContext(
	ctx context.Context,
	client ai.Client,
	req Input,
	subgraphs []Subgraph,
	evidence []Item,
	citations []common.Citation,
	retrievers []string,
	maxTokens int,
) (string, error) {
	var header strings.Builder
	header.WriteString("# Query\n")
	header.WriteString(req.QueryText)
	header.WriteString("\n\n")
	if len(subgraphs) > 0 {
		names := make([]string, 0, len(subgraphs))
		for _, g := range subgraphs {
			names = append(names, g.Dataset)
		}
		sort.Strings(names)
		header.WriteString("Datasets: " + strings.Join(names, ", ") + "\n")
	}
	if len(retrievers) > 0 {
		sorted := make([]string, len(retrievers))
		copy(sorted, retrievers)
		sort.Strings(sorted)
		header.WriteString("Retrievers: " + strings.Join(sorted, ", ") + "\n")
	}
	if req.SessionID != "" {
		header.WriteString("Session: " + req.SessionID + "\n")
	}
	header.WriteString("\n")

	var body strings.Builder
	for _, g := range subgraphs {
		if len(g.Triplets) == 0 {
			continue
		}
		body.WriteString("## Graph: " + g.Dataset + "\n")
		body.WriteString(tripletBlock(g.Triplets))
		body.WriteByte('\n')
	}
	if len(evidence) > 0 {
		body.WriteString("## Evidence\n")
		for _, item := range evidence {
			if item.Triplet != nil {
				continue // already rendered in the graph section
			}
			body.WriteString("- " + item.Text + "\n")
		}
		body.WriteByte('\n')
	}

	var footer strings.Builder
	if len(citations) > 0 {
		footer.WriteString("## Citations\n")
		sorted := make([]common.Citation, len(citations))
		copy(sorted, citations)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].DocumentID < sorted[j].DocumentID })
		for _, c := range sorted {
			footer.WriteString(fmt.Sprintf("[%s] %s (%s)\n", c.DocumentID, c.Title, c.ContentPath))
		}
	}

	bodyText := body.String()
	if maxTokens > 0 {
		overhead := countTokens(header.String()) + countTokens(footer.String())
		budget := maxTokens - overhead
		if budget < 0 {
			budget = 0
		}
		if countTokens(bodyText) > budget {
			condensed, err := ai.Summarize(ctx, client, bodyText, budget)
			if err != nil {
				return "", fmt.Errorf("condensing context: %w", err)
			}
			logger.Debug("context condensed to fit token budget", "budget", budget)
			bodyText = condensed + "\n"
		}
	}

	return header.String() + bodyText + footer.String(), nil
}
