// Package uuid generates page record identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/omu-rag/newsingest/internal/crawler"
)

// Generator creates time-ordered UUIDv7 record ids.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuidv7: %w", err)
	}
	return id.String(), nil
}

// NewRecordID returns a UUIDv7 typed as a page record id.
func (g Generator) NewRecordID() (crawler.RecordID, error) {
	id, err := g.NewID()
	if err != nil {
		return "", err
	}
	return crawler.RecordID(id), nil
}
