package common

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	idLength   = 16
)

// NewID returns a new public identifier with the given prefix, e.g.
// "ent_x3k9...". Prefixes keep ids self-describing in logs and citations.
func NewID(prefix string) string {
	id, err := gonanoid.Generate(idAlphabet, idLength)
	if err != nil {
		// gonanoid only fails when the platform RNG does.
		panic(err)
	}
	return prefix + "_" + id
}

// NewEntityID returns a fresh entity identifier.
func NewEntityID() string { return NewID("ent") }

// NewClaimID returns a fresh claim identifier.
func NewClaimID() string { return NewID("clm") }

// NewRelationshipID returns a fresh relationship identifier.
func NewRelationshipID() string { return NewID("rel") }

// NewChunkID returns a fresh chunk identifier.
func NewChunkID() string { return NewID("chk") }
