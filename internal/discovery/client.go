// Package discovery is a thin client for the Discovery v1 endpoints that report
// or start asynchronous resource builds.
package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// Options configures a Client.
type Options struct {
	URL     string
	Version string
	Headers map[string]string

	// TokenSource supplies bearer tokens. Acquiring them (IAM or otherwise) is the caller's job.
	TokenSource oauth2.TokenSource
	Username    string
	Password    string

	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	Logger logrus.FieldLogger
	// HTTPClient replaces the retrying transport entirely.
	HTTPClient *http.Client
}

// Client talks to one Discovery service instance.
type Client struct {
	baseURL  string
	version  string
	headers  map[string]string
	username string
	password string
	http     *http.Client
	log      logrus.FieldLogger
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("discovery: service URL is required")
	}
	if _, err := url.Parse(opts.URL); err != nil {
		return nil, fmt.Errorf("discovery: invalid service URL: %w", err)
	}
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	var httpClient http.Client
	if opts.HTTPClient != nil {
		httpClient = *opts.HTTPClient
	} else {
		httpClient = *newRetryClient(opts).StandardClient()
	}
	if opts.TokenSource != nil {
		base := httpClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		httpClient.Transport = &oauth2.Transport{
			Source: oauth2.ReuseTokenSource(nil, opts.TokenSource),
			Base:   base,
		}
	}

	return &Client{
		baseURL:  strings.TrimSuffix(opts.URL, "/"),
		version:  opts.Version,
		headers:  opts.Headers,
		username: opts.Username,
		password: opts.Password,
		http:     &httpClient,
		log:      opts.Logger,
	}, nil
}

func newRetryClient(opts Options) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	if opts.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		rc.RetryWaitMax = opts.RetryWaitMax
	}
	if opts.Timeout > 0 {
		rc.HTTPClient.Timeout = opts.Timeout
	}
	rc.Logger = leveledLogger{opts.Logger}
	// Hand the final response back so non-2xx bodies become APIErrors.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return rc
}

// leveledLogger adapts logrus to retryablehttp.LeveledLogger.
type leveledLogger struct {
	log logrus.FieldLogger
}

func (l leveledLogger) fields(kv []interface{}) logrus.FieldLogger {
	entry := l.log
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			entry = entry.WithField(k, kv[i+1])
		}
	}
	return entry
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.fields(kv).Error(msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.fields(kv).Debug(msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.fields(kv).Debug(msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.fields(kv).Warn(msg) }

var _ retryablehttp.LeveledLogger = leveledLogger{}

func (c *Client) collectionPath(environmentID, collectionID string) string {
	return "/v1/environments/" + url.PathEscape(environmentID) + "/collections/" + url.PathEscape(collectionID)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte, result interface{}) error {
	query := url.Values{}
	query.Set("version", c.version)
	reqURL := c.baseURL + path + "?" + query.Encode()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	c.log.WithFields(logrus.Fields{"method": method, "path": path, "status": resp.StatusCode}).Debug("discovery request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp.StatusCode, respBody)
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshaling response: %w", err)
		}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, result interface{}) error {
	return c.do(ctx, http.MethodGet, path, "", nil, result)
}

func (c *Client) postJSON(ctx context.Context, path string, payload, result interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, "application/json", body, result)
}

// ListEnvironments lists the environments of the instance.
func (c *Client) ListEnvironments(ctx context.Context) (*ListEnvironmentsResponse, error) {
	var out ListEnvironmentsResponse
	if err := c.getJSON(ctx, "/v1/environments", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCollection fetches a collection, including its status.
func (c *Client) GetCollection(ctx context.Context, environmentID, collectionID string) (*Collection, error) {
	var out Collection
	if err := c.getJSON(ctx, c.collectionPath(environmentID, collectionID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDocumentStatus fetches the ingestion status of a document.
func (c *Client) GetDocumentStatus(ctx context.Context, environmentID, collectionID, documentID string) (*DocumentStatus, error) {
	var out DocumentStatus
	path := c.collectionPath(environmentID, collectionID) + "/documents/" + url.PathEscape(documentID)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetStopwordListStatus fetches the build status of the collection's custom stopword list.
func (c *Client) GetStopwordListStatus(ctx context.Context, environmentID, collectionID string) (*TokenDictStatusResponse, error) {
	var out TokenDictStatusResponse
	if err := c.getJSON(ctx, c.collectionPath(environmentID, collectionID)+"/word_lists/stopwords", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTokenizationDictionaryStatus fetches the build status of the collection's tokenization dictionary.
func (c *Client) GetTokenizationDictionaryStatus(ctx context.Context, environmentID, collectionID string) (*TokenDictStatusResponse, error) {
	var out TokenDictStatusResponse
	if err := c.getJSON(ctx, c.collectionPath(environmentID, collectionID)+"/word_lists/tokenization_dictionary", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateStopwordList uploads a stopword file, one word per line. The list is
// built asynchronously; the returned status is usually pending.
func (c *Client) CreateStopwordList(ctx context.Context, environmentID, collectionID, filename string, stopwords io.Reader) (*TokenDictStatusResponse, error) {
	if stopwords == nil {
		return nil, errors.New("stopword file is required")
	}
	if filename == "" {
		filename = "stopwords.txt"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("stopword_file", filename)
	if err != nil {
		return nil, fmt.Errorf("creating multipart part: %w", err)
	}
	if _, err := io.Copy(part, stopwords); err != nil {
		return nil, fmt.Errorf("reading stopword file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	var out TokenDictStatusResponse
	path := c.collectionPath(environmentID, collectionID) + "/word_lists/stopwords"
	if err := c.do(ctx, http.MethodPost, path, mw.FormDataContentType(), buf.Bytes(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateTokenizationDictionary replaces the collection's tokenization dictionary.
func (c *Client) CreateTokenizationDictionary(ctx context.Context, environmentID, collectionID string, rules []TokenDictRule) (*TokenDictStatusResponse, error) {
	var out TokenDictStatusResponse
	path := c.collectionPath(environmentID, collectionID) + "/word_lists/tokenization_dictionary"
	if err := c.postJSON(ctx, path, tokenizationDictionaryRequest{TokenizationRules: rules}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteStopwordList removes the custom stopword list, restoring the defaults.
func (c *Client) DeleteStopwordList(ctx context.Context, environmentID, collectionID string) error {
	return c.do(ctx, http.MethodDelete, c.collectionPath(environmentID, collectionID)+"/word_lists/stopwords", "", nil, nil)
}

// DeleteTokenizationDictionary removes the tokenization dictionary.
func (c *Client) DeleteTokenizationDictionary(ctx context.Context, environmentID, collectionID string) error {
	return c.do(ctx, http.MethodDelete, c.collectionPath(environmentID, collectionID)+"/word_lists/tokenization_dictionary", "", nil, nil)
}
