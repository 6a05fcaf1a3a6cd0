// Package transcribe proxies speech-to-text requests to an external
// recognition service.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const DefaultLanguageCode = "it-IT"

// RecognitionConfig is passed through to the recognition service.
type RecognitionConfig struct {
	Encoding        string `json:"encoding,omitempty"`
	SampleRateHertz int    `json:"sampleRateHertz,omitempty"`
	LanguageCode    string `json:"languageCode,omitempty"`
	Model           string `json:"model,omitempty"`
	UseEnhanced     bool   `json:"useEnhanced,omitempty"`
}

type Request struct {
	AudioData string             `json:"audioData"`
	Config    *RecognitionConfig `json:"config,omitempty"`
}

type Result struct {
	Transcription string  `json:"transcription"`
	Confidence    float64 `json:"confidence"`
}

// Transcriber turns a base64 audio clip into text.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (*Result, error)
}

// StatusError is returned when the service answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("speech service returned status code: %d, response: %s", e.StatusCode, e.Body)
}

// Client is an HTTP client for the recognition service.
type Client struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
		headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
	if apiKey != "" {
		c.SetHeader("Authorization", "Bearer "+apiKey)
	}
	return c
}

func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

func (c *Client) MakeRequest(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(responseBody)}
	}
	return responseBody, nil
}

// Transcribe posts req to the service. A missing language defaults to
// Italian.
func (c *Client) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if req.Config == nil {
		req.Config = &RecognitionConfig{}
	}
	if req.Config.LanguageCode == "" {
		req.Config.LanguageCode = DefaultLanguageCode
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := c.MakeRequest(ctx, http.MethodPost, "", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode transcription: %w", err)
	}
	return &result, nil
}
