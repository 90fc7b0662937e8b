package grant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// PanelClient talks to the key-provisioning panel over its HTTP API.
type PanelClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewPanelClient creates a PanelClient for the given panel base URL.
func NewPanelClient(baseURL, token string, timeout time.Duration) *PanelClient {
	return &PanelClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type createKeyRequest struct {
	UserID int64  `json:"user_id"`
	PlanID string `json:"plan_id"`
	Host   string `json:"host,omitempty"`
}

type createKeyResponse struct {
	KeyRef string `json:"key_ref"`
}

type extendKeyRequest struct {
	PlanID string `json:"plan_id"`
}

// CreateKey provisions a new access key and returns its panel reference.
func (c *PanelClient) CreateKey(ctx context.Context, userID int64, planID, host string) (string, error) {
	var resp createKeyResponse
	err := c.post(ctx, "/api/keys", createKeyRequest{UserID: userID, PlanID: planID, Host: host}, &resp)
	if err != nil {
		return "", err
	}
	if resp.KeyRef == "" {
		return "", fmt.Errorf("panel returned empty key_ref")
	}
	return resp.KeyRef, nil
}

// ExtendKey extends an existing access key by the plan's duration.
func (c *PanelClient) ExtendKey(ctx context.Context, keyRef, planID string) error {
	return c.post(ctx, "/api/keys/"+keyRef+"/extend", extendKeyRequest{PlanID: planID}, nil)
}

func (c *PanelClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal panel request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build panel request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("panel %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("panel %s: status %d: %s", path, resp.StatusCode, string(detail))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode panel response: %w", err)
		}
	}
	return nil
}
