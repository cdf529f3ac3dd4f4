// Package codex is a client for a hosted Codex project: a store of
// subject-matter-expert answers that can also judge whether a RAG response is
// bad and should be replaced.
package codex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	defaultBaseURL  = "https://api-codex.cleanlab.ai"
	accessKeyHeader = "X-Access-Key"
)

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx responses from the Codex API.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("codex: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// accessKeyPayload is the JSON shape stored in the parameter store for the
// project access key.
type accessKeyPayload struct {
	Token string `json:"token"`
}

// ValidateRequest carries one RAG exchange to be judged.
type ValidateRequest struct {
	Query    string `json:"query"`
	Context  string `json:"context"`
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// ValidateResult is the project's verdict on a response.
type ValidateResult struct {
	IsBadResponse  bool               `json:"is_bad_response"`
	ExpertAnswer   *string            `json:"expert_answer"`
	EscalatedToSME bool               `json:"escalated_to_sme"`
	EvalScores     map[string]float64 `json:"eval_scores,omitempty"`
}

// Expert returns the expert answer, or "" when the project has none.
func (r ValidateResult) Expert() string {
	if r.ExpertAnswer == nil {
		return ""
	}
	return strings.TrimSpace(*r.ExpertAnswer)
}

type queryRequest struct {
	Question string `json:"question"`
}

type queryResponse struct {
	Answer *string `json:"answer"`
}

// Client talks to one Codex project.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string
	projectID   string

	keyMu     sync.RWMutex
	accessKey string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient returns a client for projectID. The project access key is read
// from "<paramPrefix>/codex-access-key" on first use and cached once fetched.
func NewClient(ps Getter, paramPrefix, projectID string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("codex: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("codex: parameter prefix must not be empty")
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errors.New("codex: project id must not be empty")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
		projectID:   projectID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Validate asks the project whether response is bad for query and, if an SME
// has answered a similar question, returns that answer.
func (c *Client) Validate(ctx context.Context, in ValidateRequest) (ValidateResult, error) {
	if strings.TrimSpace(in.Query) == "" {
		return ValidateResult{}, errors.New("codex: query must not be empty")
	}
	var out ValidateResult
	if err := c.post(ctx, c.projectURL("validate"), in, &out); err != nil {
		return ValidateResult{}, fmt.Errorf("codex: validate: %w", err)
	}
	return out, nil
}

// Query looks up an SME answer for question. ok is false when the project has
// no answer yet; the question is then logged in the project for an SME.
func (c *Client) Query(ctx context.Context, question string) (answer string, ok bool, err error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", false, errors.New("codex: question must not be empty")
	}
	var out queryResponse
	if err := c.post(ctx, c.projectURL("entries/query"), queryRequest{Question: question}, &out); err != nil {
		return "", false, fmt.Errorf("codex: query: %w", err)
	}
	if out.Answer == nil || strings.TrimSpace(*out.Answer) == "" {
		return "", false, nil
	}
	return strings.TrimSpace(*out.Answer), true, nil
}

func (c *Client) projectURL(path string) string {
	base := strings.TrimRight(c.baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return fmt.Sprintf("%s/api/projects/%s/%s", base, url.PathEscape(c.projectID), path)
}

func (c *Client) post(ctx context.Context, endpoint string, payload, out any) error {
	key, err := c.resolveAccessKey(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(accessKeyHeader, key)

	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: endpoint, Body: string(buf)}
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (c *Client) resolveAccessKey(ctx context.Context) (string, error) {
	c.keyMu.RLock()
	key := c.accessKey
	c.keyMu.RUnlock()
	if key != "" {
		return key, nil
	}

	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.accessKey != "" {
		return c.accessKey, nil
	}
	key, err := fetchAccessKey(ctx, c.getter, c.paramPrefix+"/codex-access-key")
	if err != nil {
		return "", err
	}
	c.accessKey = key
	return key, nil
}

func fetchAccessKey(ctx context.Context, getter Getter, name string) (string, error) {
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("codex: fetch access key: %w", err)
	}
	var p accessKeyPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return "", fmt.Errorf("codex: unmarshal access key value as JSON: %w", err)
	}
	if p.Token == "" {
		return "", errors.New("codex: access key is empty")
	}
	return p.Token, nil
}
