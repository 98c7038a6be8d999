package common

import "time"

// Document identifies an externally owned source document. The core only
// reads its identifier and hashes; fetching and parsing happen upstream.
//
// ContentHash changes when the document's bytes change. IngestionHash
// changes on every re-index, even when the content is identical, and is
// the key every graph row produced by that ingestion carries.
type Document struct {
	ID            string `json:"id"`
	Dataset       string `json:"dataset"`
	Title         string `json:"title"`
	ContentPath   string `json:"content_path"`
	ContentHash   string `json:"content_hash"`
	IngestionHash string `json:"ingestion_hash"`
}

// Entity is a node in the knowledge graph: an organization, person,
// location, or any other concept worth resolving mentions against.
//
// Version is a monotonically incrementing counter used for optimistic
// concurrency. It only advances through a successful compare-and-swap,
// so two concurrent merges into the same entity can never both succeed
// against the same base version.
//
// Entities are never deleted. When two entities are merged, the losing
// entity keeps its identity, gets MergedInto set to the winner's id, and
// its mentions are redirected to the winner.
type Entity struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Type         string           `json:"type"`
	Aliases      []string         `json:"aliases"`
	Description  string           `json:"description"`
	Embedding    []float32        `json:"-"`
	Version      int64            `json:"version"`
	MentionCount int              `json:"mention_count"`
	MergedInto   string           `json:"merged_into,omitempty"`
	NeedsReview  bool             `json:"needs_review"`
	Trace        *ResolutionTrace `json:"trace,omitempty"`
}

// ResolutionTrace records the inputs of the judgment call that produced
// an entity's latest resolution decision, so a replay with the same
// inputs is reproducible.
type ResolutionTrace struct {
	Prompt     string    `json:"prompt"`
	Model      string    `json:"model"`
	Decision   string    `json:"decision"`
	Similarity float64   `json:"similarity"`
	Confidence float64   `json:"confidence"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Snippet is a context excerpt around a mention, with its character span
// in the source document and the extraction confidence it arrived with.
type Snippet struct {
	Text       string  `json:"text"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
}

// DocumentEntity is the edge between a document and an entity mentioned
// in it. Latest always reflects the most recent linking event; Best only
// moves when a linking event arrives with strictly higher confidence.
// The two are independent fields and are never collapsed.
//
// Exactly one live (SupersededAt == nil) row exists per
// (document, entity, ingestion hash). Re-indexing writes a new row set
// under a new ingestion hash and supersedes the old one.
type DocumentEntity struct {
	DocumentID    string     `json:"document_id"`
	EntityID      string     `json:"entity_id"`
	IngestionHash string     `json:"ingestion_hash"`
	MentionCount  int        `json:"mention_count"`
	Latest        Snippet    `json:"latest"`
	Best          Snippet    `json:"best"`
	SupersededAt  *time.Time `json:"superseded_at,omitempty"`
}

// EntityRelationship is a directional typed edge between two entities.
// SourceDocumentIDs is the provenance set and must never be empty.
type EntityRelationship struct {
	ID                string     `json:"id"`
	SourceID          string     `json:"source_id"`
	TargetID          string     `json:"target_id"`
	Type              string     `json:"type"`
	Confidence        float64    `json:"confidence"`
	SourceDocumentIDs []string   `json:"source_document_ids"`
	IngestionHash     string     `json:"ingestion_hash"`
	SupersededAt      *time.Time `json:"superseded_at,omitempty"`
}

// Claim is a factual assertion extracted from exactly one document,
// referencing one or more entities. Claims are immutable once written;
// conflicts and duplicates are flagged through ClaimRelationship edges,
// never by editing the claim.
type Claim struct {
	ID            string     `json:"id"`
	Statement     string     `json:"statement"`
	Start         int        `json:"start"`
	End           int        `json:"end"`
	DocumentID    string     `json:"document_id"`
	EntityIDs     []string   `json:"entity_ids"`
	Confidence    float64    `json:"confidence"`
	Embedding     []float32  `json:"-"`
	IngestionHash string     `json:"ingestion_hash"`
	SupersededAt  *time.Time `json:"superseded_at,omitempty"`
}

// ClaimRelationKind is the kind of a claim-to-claim edge.
type ClaimRelationKind string

const (
	ClaimConflicts  ClaimRelationKind = "conflicts"
	ClaimDuplicates ClaimRelationKind = "duplicates"
)

// ClaimRelationship flags two claims as conflicting or duplicating each
// other. Detection is advisory; neither claim is altered.
type ClaimRelationship struct {
	ClaimA     string            `json:"claim_a"`
	ClaimB     string            `json:"claim_b"`
	Kind       ClaimRelationKind `json:"kind"`
	DetectedAt time.Time         `json:"detected_at"`
}

// Chunk is a contiguous text segment of a document with its embedding,
// used by the chunk-semantic retriever.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Start      int       `json:"start"`
	End        int       `json:"end"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"-"`
}

// DocumentSummary is a precomputed per-document summary consulted by the
// summary retriever.
type DocumentSummary struct {
	DocumentID string    `json:"document_id"`
	Summary    string    `json:"summary"`
	EntityIDs  []string  `json:"entity_ids"`
	Embedding  []float32 `json:"-"`
}

// Triplet is one traversed relationship with the node names resolved,
// the unit the expansion controller accumulates across rounds.
type Triplet struct {
	SourceID    string   `json:"source_id"`
	SourceName  string   `json:"source_name"`
	Type        string   `json:"type"`
	TargetID    string   `json:"target_id"`
	TargetName  string   `json:"target_name"`
	DocumentIDs []string `json:"document_ids"`
}

// Key returns the identity of a triplet independent of provenance,
// used for novelty accounting during expansion.
func (t Triplet) Key() string {
	return t.SourceID + "|" + t.Type + "|" + t.TargetID
}

// Citation points a context block statement back to its source document.
type Citation struct {
	DocumentID   string `json:"document_id"`
	Title        string `json:"title"`
	ContentPath  string `json:"content_path"`
	SnippetStart int    `json:"snippet_start"`
}
