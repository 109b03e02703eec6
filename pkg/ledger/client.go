package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"docflow/internal/model"

	"github.com/rs/zerolog/log"
)

// Client fetches open items from the external ledger system.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	log.Info().
		Str("base_url", baseURL).
		Dur("timeout", timeout).
		Msg("Initializing ledger client")

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiKey:     apiKey,
		baseURL:    baseURL,
	}
}

// GetOpenItems returns the currently open ledger records. Callers treat a
// failure as an empty candidate list; the matching engine logs and
// continues.
func (c *Client) GetOpenItems(ctx context.Context) ([]model.OpenItem, error) {
	url := fmt.Sprintf("%s/v1/open-items", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Dur("duration", time.Since(start)).Msg("Ledger request failed")
		return nil, fmt.Errorf("ledger request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading ledger response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Warn().
			Int("status", resp.StatusCode).
			Dur("duration", time.Since(start)).
			Msg("Ledger system returned error")
		return nil, fmt.Errorf("ledger returned status %d", resp.StatusCode)
	}

	var items []model.OpenItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("error parsing ledger response: %w", err)
	}

	log.Debug().
		Int("items", len(items)).
		Dur("duration", time.Since(start)).
		Msg("Fetched open ledger items")

	return items, nil
}
