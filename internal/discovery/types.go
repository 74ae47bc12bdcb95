package discovery

import (
	"time"

	"discowatch/internal/models"
)

// DefaultVersion is the API version date sent with every request.
const DefaultVersion = "2019-02-13"

// TokenDictStatusResponse is returned by the word_lists endpoints.
type TokenDictStatusResponse struct {
	Status models.Status `json:"status"`
	Type   string        `json:"type"`
}

// Collection is the subset of the collection resource the watcher reads.
type Collection struct {
	CollectionID    string        `json:"collection_id"`
	Name            string        `json:"name"`
	Description     string        `json:"description,omitempty"`
	Status          models.Status `json:"status"`
	ConfigurationID string        `json:"configuration_id,omitempty"`
	Language        string        `json:"language,omitempty"`
	Created         *time.Time    `json:"created,omitempty"`
	Updated         *time.Time    `json:"updated,omitempty"`
}

// Notice is a warning or error attached to an ingested document.
type Notice struct {
	NoticeID    string `json:"notice_id"`
	Severity    string `json:"severity"`
	Step        string `json:"step,omitempty"`
	Description string `json:"description"`
}

// DocumentStatus is the ingestion status of one document.
type DocumentStatus struct {
	DocumentID        string        `json:"document_id"`
	ConfigurationID   string        `json:"configuration_id,omitempty"`
	Status            models.Status `json:"status"`
	StatusDescription string        `json:"status_description,omitempty"`
	Filename          string        `json:"filename,omitempty"`
	FileType          string        `json:"file_type,omitempty"`
	SHA1              string        `json:"sha1,omitempty"`
	Notices           []Notice      `json:"notices,omitempty"`
}

// Environment is the subset of the environment resource used for connectivity checks.
type Environment struct {
	EnvironmentID string        `json:"environment_id"`
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	Status        models.Status `json:"status"`
	ReadOnly      bool          `json:"read_only"`
	Size          string        `json:"size,omitempty"`
}

// ListEnvironmentsResponse wraps the environments list.
type ListEnvironmentsResponse struct {
	Environments []Environment `json:"environments"`
}

// TokenDictRule is one custom tokenization rule.
type TokenDictRule struct {
	Text         string   `json:"text"`
	Tokens       []string `json:"tokens"`
	Readings     []string `json:"readings,omitempty"`
	PartOfSpeech string   `json:"part_of_speech"`
}

type tokenizationDictionaryRequest struct {
	TokenizationRules []TokenDictRule `json:"tokenization_rules"`
}
