// Package notify delivers expiry notices to the chat gateway. Delivery is
// best-effort: callers log failures and the scanner retries on its next pass.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/wenwu/saas-platform/provisioning-service/internal/models"
)

// Gateway handles communication with the chat gateway service
type Gateway struct {
	baseURL     string
	internalKey string
	httpClient  *http.Client
}

// NewGateway creates a new chat gateway client
func NewGateway(baseURL, internalKey string) *Gateway {
	return &Gateway{
		baseURL:     baseURL,
		internalKey: internalKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// expiryNotice is the gateway's expiry event payload. The gateway resolves
// owner_id to a chat and renders the text itself.
type expiryNotice struct {
	Kind     string `json:"kind"` // warning | expired
	OwnerID  string `json:"owner_id"`
	Username string `json:"username"`
	Protocol string `json:"protocol"`
	ServerID string `json:"server_id"`
	ExpireAt string `json:"expire_at"` // YYYY-MM-DD
	DaysLeft int    `json:"days_left,omitempty"`
}

// ExpiryWarning tells the gateway an account is daysLeft days from expiry.
func (g *Gateway) ExpiryWarning(ctx context.Context, a *models.Account, daysLeft int) error {
	return g.post(ctx, &expiryNotice{
		Kind:     "warning",
		OwnerID:  a.OwnerID,
		Username: a.Username,
		Protocol: a.Protocol,
		ServerID: a.ServerID,
		ExpireAt: a.ExpireAt.Format("2006-01-02"),
		DaysLeft: daysLeft,
	})
}

// ExpiredNotice tells the gateway an account has lapsed.
func (g *Gateway) ExpiredNotice(ctx context.Context, a *models.Account) error {
	return g.post(ctx, &expiryNotice{
		Kind:     "expired",
		OwnerID:  a.OwnerID,
		Username: a.Username,
		Protocol: a.Protocol,
		ServerID: a.ServerID,
		ExpireAt: a.ExpireAt.Format("2006-01-02"),
	})
}

func (g *Gateway) post(ctx context.Context, notice *expiryNotice) error {
	url := fmt.Sprintf("%s/api/internal/notifications/expiry", g.baseURL)

	body, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Secret", g.internalKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("chat gateway returned status %d", resp.StatusCode)
	}

	return nil
}
