package sentinel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// HTTPJudge calls an external judgment service over HTTP. The service
// receives the interaction text and must answer with a Compliance document.
type HTTPJudge struct {
	url    string
	client *http.Client
}

// NewHTTPJudge creates a judge backed by the given endpoint.
func NewHTTPJudge(url string) *HTTPJudge {
	return &HTTPJudge{
		url:    url,
		client: &http.Client{},
	}
}

type judgeRequest struct {
	Text string `json:"text"`
}

// Judge posts the text and decodes the enriched judgment. Deadlines and
// cancellation come from the caller's context.
func (j *HTTPJudge) Judge(ctx context.Context, text string) (*domain.Compliance, error) {
	body, err := json.Marshal(judgeRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode judgment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build judgment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := j.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("judgment request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("judgment service returned status %d", resp.StatusCode)
	}

	var judgment domain.Compliance
	if err := json.NewDecoder(resp.Body).Decode(&judgment); err != nil {
		return nil, fmt.Errorf("failed to decode judgment: %w", err)
	}

	return &judgment, nil
}
