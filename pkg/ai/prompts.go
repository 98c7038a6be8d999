package ai

const MergePrompt = `
# Task Context
You are a helpful assistant specialized in entity resolution for a knowledge graph. You will be given a newly extracted entity mention and a list of existing candidate entities of the same type.

# Background Data
Mention:
%s

Candidate entities:
%s

# Detailed Task Description & Rules
- Decide whether the mention refers to one of the candidate entities or to a new entity.
- Consider each candidate's name, aliases, description, and embedding similarity.
- Merge only when the mention and the candidate clearly denote the same real-world entity.
- Be careful: similarly named but distinct entities must stay separate (e.g. "EWE" and "EWE AG" are different legal entities; "Amazon" and "Amazon Web Services" are different business units).
- Name variations that DO indicate the same entity include case differences, legal suffixes ("IBM" vs "IBM Corporation"), abbreviations ("AT&T" vs "American Telephone and Telegraph"), and punctuation.
- If you cannot decide with confidence, say so rather than guessing.

# Immediate Task Description or Request
Return a JSON object with your decision: merge into one candidate entity (by id), create a new entity, or report that the decision is ambiguous.

# Output Formatting
Return a JSON object with this structure:
{
  "action": "merge" | "create" | "ambiguous",
  "entity_id": "<candidate id when action is merge>",
  "confidence": <0.0-1.0>
}
`

const ClaimConflictPrompt = `
# Task Context
You are a helpful assistant specialized in comparing factual claims linked to the same entity in a knowledge graph.

# Background Data
Claim A: %s
Claim B: %s

# Detailed Task Description & Rules
- Decide whether the two claims duplicate each other, contradict each other, or neither.
- "duplicates": both claims assert the same fact, possibly with different wording.
- "conflicts": the claims cannot both be true at the same time.
- "none": the claims are about the same entity but are independent facts.
- Differences in granularity alone (one claim being more specific) are not conflicts.

# Output Formatting
Return a JSON object with this structure:
{
  "relation": "duplicates" | "conflicts" | "none",
  "confidence": <0.0-1.0>
}
`

const HypothesisPrompt = `
# Task Context
You are a helpful assistant guiding iterative retrieval over a knowledge graph. You will see the user's question and the graph context gathered so far.

# Background Data
Question:
%s

Context gathered so far:
%s

# Detailed Task Description & Rules
- Form a single hypothesis about what additional entities or relationships would help answer the question.
- Phrase the hypothesis as a short natural-language search query, written to maximize matching against entity names and relationship descriptions.
- Focus on gaps: entities mentioned but not yet expanded, or relationship types the question implies but the context lacks.
- Do not repeat the original question verbatim.

# Output Formatting
Return a JSON object with this structure:
{
  "hypothesis": "<one short search query>"
}
`

const SummaryPrompt = `
# Task Context
You are a helpful assistant that condenses knowledge-graph context blocks.

# Background Data
%s

# Detailed Task Description & Rules
- Rewrite the context so it fits within roughly %d tokens.
- Preserve every relationship statement that is load-bearing for answering questions; drop repetition first.
- Keep all source citations of every statement you keep, in their original "(sources: ...)" form.
- Never invent relationships that are not present in the input.

# Output Formatting
Return only the condensed context text with no preamble.
`
