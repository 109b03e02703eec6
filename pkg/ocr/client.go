package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"docflow/internal/model"

	"github.com/rs/zerolog/log"
)

// Client calls the external OCR extraction provider. The provider is a
// black box to the pipeline: it either returns structured fields or fails.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	log.Info().
		Str("base_url", baseURL).
		Dur("timeout", timeout).
		Msg("Initializing OCR client")

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiKey:     apiKey,
		baseURL:    baseURL,
	}
}

// Extract submits document content and returns the provider's structured
// extraction. The call blocks until the provider answers or its timeout
// fires; the worker treats it as an opaque blocking call.
func (c *Client) Extract(ctx context.Context, content []byte) (model.ExtractedFields, error) {
	var fields model.ExtractedFields

	url := fmt.Sprintf("%s/v1/extract", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(content))
	if err != nil {
		return fields, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("OCR request failed")
		return fields, fmt.Errorf("ocr request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fields, fmt.Errorf("error reading ocr response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Error().
			Int("status", resp.StatusCode).
			Dur("duration", time.Since(start)).
			Msg("OCR provider returned error")
		return fields, fmt.Errorf("ocr provider returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, &fields); err != nil {
		return fields, fmt.Errorf("error parsing ocr response: %w", err)
	}

	log.Debug().
		Str("vendor", fields.Vendor).
		Float64("confidence", fields.Confidence).
		Dur("duration", time.Since(start)).
		Msg("OCR extraction completed")

	return fields, nil
}
