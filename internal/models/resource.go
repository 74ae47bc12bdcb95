package models

import (
	"fmt"
	"strings"
)

// ResourceKind names the kind of server-side resource being watched.
type ResourceKind string

const (
	KindStopwords              ResourceKind = "stopwords"
	KindTokenizationDictionary ResourceKind = "tokenization_dictionary"
	KindCollection             ResourceKind = "collection"
	KindDocument               ResourceKind = "document"
)

// Kinds lists every supported resource kind.
var Kinds = []ResourceKind{KindStopwords, KindTokenizationDictionary, KindCollection, KindDocument}

// ParseKind accepts the canonical kind names plus a few CLI-friendly aliases.
func ParseKind(s string) (ResourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stopwords", "stopword_list", "stopword-list":
		return KindStopwords, nil
	case "tokenization_dictionary", "tokenization", "tokenization-dictionary":
		return KindTokenizationDictionary, nil
	case "collection":
		return KindCollection, nil
	case "document":
		return KindDocument, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// IsWordList reports whether the kind is served by the word_lists endpoints.
func (k ResourceKind) IsWordList() bool {
	return k == KindStopwords || k == KindTokenizationDictionary
}

// Resource identifies a remote resource whose status can be queried.
type Resource struct {
	Kind          ResourceKind `json:"kind"`
	EnvironmentID string       `json:"environment_id"`
	CollectionID  string       `json:"collection_id"`
	DocumentID    string       `json:"document_id,omitempty"`
}

// Validate checks that every identifier needed to issue the status query is present.
func (r Resource) Validate() error {
	switch r.Kind {
	case KindStopwords, KindTokenizationDictionary, KindCollection, KindDocument:
	default:
		return fmt.Errorf("%w: %w: %q", ErrValidation, ErrUnknownKind, r.Kind)
	}
	if r.EnvironmentID == "" {
		return fmt.Errorf("%w: environment_id is required", ErrValidation)
	}
	if r.CollectionID == "" {
		return fmt.Errorf("%w: collection_id is required", ErrValidation)
	}
	if r.Kind == KindDocument && r.DocumentID == "" {
		return fmt.Errorf("%w: document_id is required for kind %s", ErrValidation, r.Kind)
	}
	return nil
}

// Key returns a stable identity for the resource.
func (r Resource) Key() string {
	key := fmt.Sprintf("%s/%s/%s", r.EnvironmentID, r.CollectionID, r.Kind)
	if r.Kind == KindDocument {
		key += "/" + r.DocumentID
	}
	return key
}

func (r Resource) String() string {
	return r.Key()
}
