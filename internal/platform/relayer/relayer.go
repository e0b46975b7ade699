// Package relayer talks to the transaction relayer service that signs and
// submits settlement transactions to the chain. A deterministic in-process
// simulator backs simulation mode.
package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/degenlabs/degen-exchange/internal/domain"
)

// Client is the HTTP client for the relayer service.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a relayer Client against baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("component", "relayer")),
	}
}

type matchRequest struct {
	FillID        string `json:"fill_id"`
	MarketID      string `json:"market_id"`
	MakerOrderID  string `json:"maker_order_id"`
	TakerOrderID  string `json:"taker_order_id"`
	PriceTicks    int64  `json:"price_ticks"`
	SizeUnits     int64  `json:"size_units"`
	TakerSide     string `json:"taker_side"`
	TakerOutcome  string `json:"taker_outcome"`
	NotionalMicro int64  `json:"notional_micro"`
}

type closeRequest struct {
	MarketAddress string `json:"market_address"`
}

type settleRequest struct {
	MarketAddress string `json:"market_address"`
	UserID        string `json:"user_id"`
	Winner        string `json:"winner"`
}

type txResponse struct {
	Signature string `json:"signature"`
	Error     string `json:"error,omitempty"`
}

// ExecuteMatch submits the match transaction for a fill.
func (c *Client) ExecuteMatch(ctx context.Context, f domain.Fill) (string, error) {
	return c.post(ctx, "/v1/match", matchRequest{
		FillID:        f.ID,
		MarketID:      f.MarketID,
		MakerOrderID:  f.MakerOrderID,
		TakerOrderID:  f.TakerOrderID,
		PriceTicks:    f.PriceTicks,
		SizeUnits:     f.SizeUnits,
		TakerSide:     string(f.TakerSide),
		TakerOutcome:  string(f.TakerOutcome),
		NotionalMicro: f.TakerNotionalMicro,
	})
}

// ExecuteClose closes the market on chain.
func (c *Client) ExecuteClose(ctx context.Context, marketAddress string) (string, error) {
	return c.post(ctx, "/v1/close", closeRequest{MarketAddress: marketAddress})
}

// SettlePosition pays out one position.
func (c *Client) SettlePosition(ctx context.Context, marketAddress, userID string, winner domain.MarketOutcome) (string, error) {
	return c.post(ctx, "/v1/settle", settleRequest{
		MarketAddress: marketAddress,
		UserID:        userID,
		Winner:        string(winner),
	})
}

// Ready probes the relayer health endpoint.
func (c *Client) Ready(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// CheckAllowance asks the relayer whether the user's on-chain delegation
// covers requiredMicro.
func (c *Client) CheckAllowance(ctx context.Context, userID string, requiredMicro int64) (domain.AllowanceResult, error) {
	body, err := json.Marshal(map[string]any{
		"user_id":        userID,
		"required_micro": requiredMicro,
	})
	if err != nil {
		return domain.AllowanceResult{}, fmt.Errorf("relayer: marshal allowance request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/allowance", bytes.NewReader(body))
	if err != nil {
		return domain.AllowanceResult{}, fmt.Errorf("relayer: build allowance request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.AllowanceResult{}, fmt.Errorf("relayer: allowance request: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Approved bool   `json:"approved"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.AllowanceResult{}, fmt.Errorf("relayer: decode allowance response: %w", err)
	}
	return domain.AllowanceResult{Approved: out.Approved, Reason: out.Reason}, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("relayer: marshal %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("relayer: build %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("relayer: %s: %w", path, err)
	}
	defer resp.Body.Close()

	var out txResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("relayer: decode %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK || out.Error != "" {
		return "", fmt.Errorf("relayer: %s: status %d: %s", path, resp.StatusCode, out.Error)
	}
	c.logger.DebugContext(ctx, "relayer transaction submitted",
		slog.String("path", path),
		slog.String("signature", out.Signature),
	)
	return out.Signature, nil
}
