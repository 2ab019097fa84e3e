package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// ExternalResult is what a remote model returns for a feature vector.
type ExternalResult struct {
	BotProbability float64  `json:"bot_probability"`
	Confidence     float64  `json:"confidence"`
	Category       Category `json:"category"`
	ModelVersion   string   `json:"model_version"`
}

// ExternalClassifier scores a feature vector with a model the core does not
// own. Implementations are network calls and must honor ctx cancellation.
type ExternalClassifier interface {
	Classify(ctx context.Context, sessionID string, vector map[string]float64) (ExternalResult, error)
}

// HTTPClassifier calls a cloud classification endpoint.
type HTTPClassifier struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

// NewHTTPClassifier builds a classifier client with the given call timeout.
func NewHTTPClassifier(endpoint, apiKey string, timeout time.Duration) *HTTPClassifier {
	return &HTTPClassifier{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Client:   &http.Client{Timeout: timeout},
	}
}

type classifyRequest struct {
	SessionID     string             `json:"session_id"`
	FeatureVector map[string]float64 `json:"feature_vector"`
	Timestamp     int64              `json:"timestamp"`
}

// Classify POSTs the vector and decodes the model's verdict. Any transport
// or decode failure is returned as an error; the caller falls back to the
// heuristic result and never surfaces this to its own caller.
func (c *HTTPClassifier) Classify(ctx context.Context, sessionID string, vector map[string]float64) (ExternalResult, error) {
	if c.Endpoint == "" {
		return ExternalResult{}, fmt.Errorf("classifier endpoint not configured")
	}

	payload, err := json.Marshal(classifyRequest{
		SessionID:     sessionID,
		FeatureVector: vector,
		Timestamp:     time.Now().Unix(),
	})
	if err != nil {
		return ExternalResult{}, fmt.Errorf("failed to encode classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return ExternalResult{}, fmt.Errorf("failed to build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return ExternalResult{}, fmt.Errorf("classify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ExternalResult{}, fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return ExternalResult{}, fmt.Errorf("failed to read classifier response: %w", err)
	}

	var out ExternalResult
	if err := json.Unmarshal(body, &out); err != nil {
		return ExternalResult{}, fmt.Errorf("malformed classifier response: %w", err)
	}
	return out, nil
}

// combine blends the heuristic result with an external model's result.
// Each source's probability is weighted by its own confidence; the combined
// confidence takes the higher of the two. Only called after a successful
// external round trip, so the ensemble tag is always honest.
func combine(h HeuristicResult, ext ExternalResult) (botProbability, confidence float64, category Category) {
	hw := h.Confidence
	ew := ext.Confidence
	total := hw + ew
	if total > 0 {
		hw /= total
		ew /= total
	} else {
		hw, ew = 0.5, 0.5
	}

	botProbability = round4(h.BotProbability*hw + ext.BotProbability*ew)
	confidence = math.Max(h.Confidence, ext.Confidence)

	if botProbability >= botThreshold {
		category = ext.Category
		if category == "" {
			category = h.Category
		}
		if category == "" {
			category = CategoryUnknownBot
		}
	} else {
		category = CategoryHuman
	}
	return botProbability, confidence, category
}
