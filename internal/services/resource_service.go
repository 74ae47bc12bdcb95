package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"discowatch/internal/discovery"
	"discowatch/internal/models"
)

// WordListClient starts and removes word-list builds.
type WordListClient interface {
	CreateStopwordList(ctx context.Context, environmentID, collectionID, filename string, stopwords io.Reader) (*discovery.TokenDictStatusResponse, error)
	CreateTokenizationDictionary(ctx context.Context, environmentID, collectionID string, rules []discovery.TokenDictRule) (*discovery.TokenDictStatusResponse, error)
	DeleteStopwordList(ctx context.Context, environmentID, collectionID string) error
	DeleteTokenizationDictionary(ctx context.Context, environmentID, collectionID string) error
}

// ResourceService kicks off the asynchronous word-list builds that watches wait on.
type ResourceService struct {
	client WordListClient
	log    logrus.FieldLogger
}

func NewResourceService(client WordListClient, logger logrus.FieldLogger) *ResourceService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ResourceService{client: client, log: logger}
}

// CreateStopwords uploads a stopword list read from r and returns the resource to
// wait on together with its initial status.
func (s *ResourceService) CreateStopwords(ctx context.Context, environmentID, collectionID, filename string, r io.Reader) (models.Resource, models.Status, error) {
	res := models.Resource{Kind: models.KindStopwords, EnvironmentID: environmentID, CollectionID: collectionID}
	if err := res.Validate(); err != nil {
		return res, "", err
	}
	resp, err := s.client.CreateStopwordList(ctx, environmentID, collectionID, filename, r)
	if err != nil {
		return res, "", fmt.Errorf("create stopword list for %s: %w", res.Key(), err)
	}
	s.log.WithFields(logrus.Fields{"resource": res.Key(), "status": resp.Status}).Info("stopword list submitted")
	return res, resp.Status, nil
}

// CreateStopwordsFromFile uploads the stopword file at path.
func (s *ResourceService) CreateStopwordsFromFile(ctx context.Context, environmentID, collectionID, path string) (models.Resource, models.Status, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Resource{}, "", fmt.Errorf("open stopword file: %w", err)
	}
	defer f.Close()
	return s.CreateStopwords(ctx, environmentID, collectionID, filepath.Base(path), f)
}

// CreateTokenizationDictionary submits rules and returns the resource to wait on.
func (s *ResourceService) CreateTokenizationDictionary(ctx context.Context, environmentID, collectionID string, rules []discovery.TokenDictRule) (models.Resource, models.Status, error) {
	res := models.Resource{Kind: models.KindTokenizationDictionary, EnvironmentID: environmentID, CollectionID: collectionID}
	if err := res.Validate(); err != nil {
		return res, "", err
	}
	if len(rules) == 0 {
		return res, "", fmt.Errorf("%w: at least one tokenization rule is required", models.ErrValidation)
	}
	for i, rule := range rules {
		if rule.Text == "" || len(rule.Tokens) == 0 {
			return res, "", fmt.Errorf("%w: rule %d needs text and tokens", models.ErrValidation, i)
		}
	}
	resp, err := s.client.CreateTokenizationDictionary(ctx, environmentID, collectionID, rules)
	if err != nil {
		return res, "", fmt.Errorf("create tokenization dictionary for %s: %w", res.Key(), err)
	}
	s.log.WithFields(logrus.Fields{"resource": res.Key(), "status": resp.Status, "rules": len(rules)}).Info("tokenization dictionary submitted")
	return res, resp.Status, nil
}

// LoadTokenizationRules reads rules from a JSON file holding either a bare array or
// a {"tokenization_rules": [...]} object.
func LoadTokenizationRules(path string) ([]discovery.TokenDictRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokenization rules: %w", err)
	}
	var rules []discovery.TokenDictRule
	if err := json.Unmarshal(data, &rules); err == nil {
		return rules, nil
	}
	var wrapped struct {
		TokenizationRules []discovery.TokenDictRule `json:"tokenization_rules"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("parse tokenization rules %s: %w", path, err)
	}
	return wrapped.TokenizationRules, nil
}

// Delete removes a word list. Deleting a list that does not exist is not an error.
func (s *ResourceService) Delete(ctx context.Context, res models.Resource) error {
	if err := res.Validate(); err != nil {
		return err
	}
	var err error
	switch res.Kind {
	case models.KindStopwords:
		err = s.client.DeleteStopwordList(ctx, res.EnvironmentID, res.CollectionID)
	case models.KindTokenizationDictionary:
		err = s.client.DeleteTokenizationDictionary(ctx, res.EnvironmentID, res.CollectionID)
	default:
		return fmt.Errorf("%w: only word lists can be deleted, got %s", models.ErrValidation, res.Kind)
	}
	if err != nil {
		if discovery.IsNotFound(err) {
			s.log.WithField("resource", res.Key()).Debug("word list already absent")
			return nil
		}
		return fmt.Errorf("delete %s: %w", res.Key(), err)
	}
	s.log.WithField("resource", res.Key()).Info("word list deleted")
	return nil
}
