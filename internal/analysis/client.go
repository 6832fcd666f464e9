package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const analyzeCommentPath = "/analyze/comment"

// SentimentNeutral is the label used when no analysis result is available.
const SentimentNeutral = "neutral"

var errMissingBaseURL = errors.New("analysis: base url required")

// Request describes one comment submitted for analysis.
type Request struct {
	CommentID string `json:"comment_id"`
	Content   string `json:"content"`
	VideoID   string `json:"video_id,omitempty"`
}

// Result carries the scores produced by the ML service for one comment.
type Result struct {
	Sentiment      string   `json:"sentiment"`
	SentimentScore float64  `json:"sentiment_score"`
	ToxicityScore  float64  `json:"toxicity_score"`
	Themes         []string `json:"themes"`
	Tags           []string `json:"tags"`
	PrimaryTag     string   `json:"primary_tag"`
}

// NeutralResult returns the defaults substituted when analysis is unavailable.
func NeutralResult() Result {
	return Result{
		Sentiment: SentimentNeutral,
		Themes:    []string{},
		Tags:      []string{},
	}
}

// ClientConfig bundles the dependencies for the analysis service client.
type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client calls the external ML service. The service is treated as untrusted
// and sometimes unavailable; callers substitute NeutralResult on error.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a Client with validated configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// AnalyzeComment scores one comment. Any transport failure or non-2xx status
// is returned as an error; the caller decides how to degrade.
func (c *Client) AnalyzeComment(ctx context.Context, request Request) (Result, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return Result{}, err
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+analyzeCommentPath, bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return Result{}, fmt.Errorf("analysis: service unreachable: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		c.logger.Warn("analysis service rejected request",
			zap.String("comment_id", request.CommentID),
			zap.Int("status", response.StatusCode))
		return Result{}, fmt.Errorf("analysis: service returned status %d", response.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(response.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("analysis: invalid response: %w", err)
	}
	if result.Sentiment == "" {
		result.Sentiment = SentimentNeutral
	}
	if result.Themes == nil {
		result.Themes = []string{}
	}
	if result.Tags == nil {
		result.Tags = []string{}
	}
	return result, nil
}
