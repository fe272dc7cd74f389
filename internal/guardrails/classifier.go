package guardrails

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultModelName = "default"

// Prediction is the classification of one input text.
type Prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type predictRequest struct {
	Texts     []string `json:"texts"`
	ModelName string   `json:"model_name"`
}

type predictResponse struct {
	Predictions []Prediction `json:"predictions"`
	ModelName   string       `json:"model_name"`
}

type Health struct {
	Status string         `json:"status"`
	Models map[string]any `json:"models"`
}

// ClassifierError is a non-2xx answer from the model service.
type ClassifierError struct {
	StatusCode int
	Detail     string
}

func (e *ClassifierError) Error() string {
	return fmt.Sprintf("model service returned %d: %s", e.StatusCode, e.Detail)
}

// Classifier calls a local classification model service.
type Classifier struct {
	baseURL string
	http    *http.Client
}

func NewClassifier(baseURL string, timeout time.Duration) (*Classifier, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("model service url is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Classifier{baseURL: baseURL, http: &http.Client{Timeout: timeout}}, nil
}

// Classify returns one prediction per text, in order.
func (c *Classifier) Classify(ctx context.Context, model string, texts ...string) ([]Prediction, error) {
	if len(texts) == 0 {
		return nil, errors.New("at least one text is required")
	}
	if model == "" {
		model = DefaultModelName
	}
	var out predictResponse
	if err := c.do(ctx, http.MethodPost, "/predict", predictRequest{Texts: texts, ModelName: model}, &out); err != nil {
		return nil, err
	}
	if len(out.Predictions) != len(texts) {
		return nil, fmt.Errorf("model service returned %d predictions for %d texts", len(out.Predictions), len(texts))
	}
	return out.Predictions, nil
}

func (c *Classifier) Health(ctx context.Context) (*Health, error) {
	h := new(Health)
	if err := c.do(ctx, http.MethodGet, "/health", nil, h); err != nil {
		return nil, err
	}
	return h, nil
}

func (c *Classifier) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var fastapi struct {
			Detail string `json:"detail"`
		}
		detail := strings.TrimSpace(string(b))
		if json.Unmarshal(b, &fastapi) == nil && fastapi.Detail != "" {
			detail = fastapi.Detail
		}
		return &ClassifierError{StatusCode: resp.StatusCode, Detail: detail}
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
