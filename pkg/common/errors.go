package common

import "errors"

// Error taxonomy for the graph core. Callers test with errors.Is; the
// concrete messages wrap these sentinels with context.
var (
	// ErrResolutionAmbiguous marks a mention for which no confident merge
	// decision could be made. Non-fatal: a new entity is created and
	// flagged for manual review.
	ErrResolutionAmbiguous = errors.New("entity resolution ambiguous")

	// ErrProvenanceMissing rejects a relationship or claim write whose
	// source-document set is empty. Fatal for that write, checked before
	// commit.
	ErrProvenanceMissing = errors.New("provenance missing")

	// ErrRetrieverTimeout marks a retriever abandoned for exceeding its
	// deadline. Non-fatal per retriever; recorded in the response stats.
	ErrRetrieverTimeout = errors.New("retriever timeout")

	// ErrRetrieverUnavailable marks a retriever that failed outright.
	// Non-fatal per retriever; recorded in the response stats.
	ErrRetrieverUnavailable = errors.New("retriever unavailable")

	// ErrBudgetExceeded is returned when an expansion or query-wide
	// time/token budget runs out. The partial result collected so far is
	// still returned alongside it.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrMalformedExtraction rejects an ingestion payload that violates
	// the schema. The document's prior live graph state stays untouched.
	ErrMalformedExtraction = errors.New("malformed extraction payload")

	// ErrVersionConflict is an entity compare-and-swap failure. Retried
	// transparently up to a bound, then surfaced as ErrResolutionAmbiguous.
	ErrVersionConflict = errors.New("entity version conflict")

	// ErrNoRetrieverSucceeded is surfaced when every retriever of a query
	// failed, so callers can tell infrastructure failure apart from an
	// empty knowledge base.
	ErrNoRetrieverSucceeded = errors.New("no retriever succeeded")

	// ErrNotFound is the storage-level miss for entities, documents and
	// claims looked up by id.
	ErrNotFound = errors.New("not found")
)
