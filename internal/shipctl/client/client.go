// Package client is the shipwayd API client used by shipctl.
package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shipway/shipway/internal/core/promotion"
	"github.com/shipway/shipway/internal/shell/promoter"
)

// ErrStageFailed marks a stage that ran but did not pass. The stage
// result travels alongside so callers can still print diagnostics.
var ErrStageFailed = errors.New("promotion stage failed")

// Client talks to the shipwayd promotion API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// New creates a shipwayd API client. Stage runs deploy and health-poll
// synchronously, so the timeout is generous.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout: 15 * time.Minute,
		},
	}
}

// =============================================================================
// Stage Triggers
// =============================================================================

// RunAcceptance triggers the acceptance stage.
func (c *Client) RunAcceptance(force bool) (*promotion.StageResult, error) {
	return c.postStage("/api/v1/promotions/acceptance", map[string]any{"force": force})
}

// RunQA deploys a release candidate to the QA environment.
func (c *Client) RunQA(tag string) (*promotion.StageResult, error) {
	return c.postStage("/api/v1/promotions/qa", map[string]any{"version": tag})
}

// SubmitSignoff records the QA verdict for a release candidate.
func (c *Client) SubmitSignoff(tag, verdict string) (*promotion.StageResult, error) {
	return c.postStage("/api/v1/promotions/signoff", map[string]any{"version": tag, "result": verdict})
}

// RunProduction releases a signed-off candidate to production.
func (c *Client) RunProduction(tag string) (*promotion.StageResult, error) {
	return c.postStage("/api/v1/promotions/production", map[string]any{"version": tag})
}

func (c *Client) postStage(path string, body map[string]any) (*promotion.StageResult, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.do(http.MethodPost, path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var result promotion.StageResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return &result, nil
	case http.StatusBadGateway:
		// The stage ran and failed; the body is the stage result.
		var result promotion.StageResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("failed to decode failure response: %w", err)
		}
		return &result, ErrStageFailed
	default:
		return nil, apiError(resp)
	}
}

// =============================================================================
// Reads
// =============================================================================

// Status fetches the promotion chain state derived from the registry.
func (c *Client) Status() (*promoter.ChainStatus, error) {
	resp, err := c.do(http.MethodGet, "/api/v1/status", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var status promoter.ChainStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &status, nil
}

// History lists recent promotion runs, newest first.
func (c *Client) History(limit int) ([]promotion.Run, error) {
	path := "/api/v1/promotions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var runs []promotion.Run
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return runs, nil
}

// GetRun fetches one journal entry by ID.
func (c *Client) GetRun(id string) (*promotion.Run, error) {
	resp, err := c.do(http.MethodGet, "/api/v1/promotions/"+id, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	var run promotion.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &run, nil
}

// =============================================================================
// Transport
// =============================================================================

func (c *Client) do(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach shipwayd at %s: %w", c.baseURL, err)
	}
	return resp, nil
}

func apiError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(raw))
}
