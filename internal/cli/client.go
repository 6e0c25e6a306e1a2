package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"tycoon/internal/game"
	"tycoon/internal/market"
	"tycoon/internal/num"
	"tycoon/internal/save"
)

// APIError is a non-2xx reply from the game server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Clock(ctx context.Context) (game.ClockStatus, error) {
	var out game.ClockStatus
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/clock", nil, &out, "")
	return out, err
}

// ClockAction posts one of start, stop, pause or resume.
func (c *Client) ClockAction(ctx context.Context, action string) (game.ClockStatus, error) {
	var out game.ClockStatus
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/clock/"+url.PathEscape(action), nil, &out, "")
	return out, err
}

func (c *Client) Advance(ctx context.Context, ticks int64) (game.ClockStatus, error) {
	var out game.ClockStatus
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/clock/advance", map[string]any{"ticks": ticks}, &out, "")
	return out, err
}

func (c *Client) Assets(ctx context.Context) ([]market.AssetView, error) {
	var out struct {
		Assets []market.AssetView `json:"assets"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/assets", nil, &out, "")
	return out.Assets, err
}

func (c *Client) Asset(ctx context.Context, id string) (market.AssetView, error) {
	var out market.AssetView
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/assets/"+url.PathEscape(id), nil, &out, "")
	return out, err
}

func (c *Client) PlaceOrder(ctx context.Context, assetID, side string, amount num.Decimal, idem string) (market.TradeResult, error) {
	var out market.TradeResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/orders", game.OrderInput{
		AssetID: assetID,
		Side:    side,
		Amount:  amount,
	}, &out, idem)
	return out, err
}

func (c *Client) Portfolio(ctx context.Context) (market.PortfolioView, error) {
	var out market.PortfolioView
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/portfolio", nil, &out, "")
	return out, err
}

func (c *Client) Multipliers(ctx context.Context) ([]game.MultiplierView, error) {
	var out struct {
		Multipliers []game.MultiplierView `json:"multipliers"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/multipliers", nil, &out, "")
	return out.Multipliers, err
}

func (c *Client) Multiplier(ctx context.Context, category string) (game.MultiplierView, error) {
	var out game.MultiplierView
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/multipliers/"+url.PathEscape(category), nil, &out, "")
	return out, err
}

func (c *Client) AddContribution(ctx context.Context, in game.ContributionInput) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/contributions", in, &out, "")
	return out.ID, err
}

func (c *Client) RemoveContribution(ctx context.Context, id string) error {
	return c.jsonRequest(ctx, http.MethodDelete, "/v1/contributions/"+url.PathEscape(id), nil, nil, "")
}

func (c *Client) PrestigeReset(ctx context.Context, points num.Decimal) (game.PrestigeResult, error) {
	var out game.PrestigeResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/prestige/reset", map[string]any{"points": points}, &out, "")
	return out, err
}

func (c *Client) HardReset(ctx context.Context) (game.ClockStatus, error) {
	var out game.ClockStatus
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/reset", nil, &out, "")
	return out, err
}

func (c *Client) Saves(ctx context.Context) ([]save.Record, error) {
	var out struct {
		Saves []save.Record `json:"saves"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/saves", nil, &out, "")
	return out.Saves, err
}

func (c *Client) Save(ctx context.Context, slot string) (game.SaveResult, error) {
	var out game.SaveResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/saves/"+url.PathEscape(slot), nil, &out, "")
	return out, err
}

func (c *Client) Load(ctx context.Context, slot string) (uint64, error) {
	var out struct {
		Tick uint64 `json:"tick"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/saves/"+url.PathEscape(slot)+"/load", nil, &out, "")
	return out.Tick, err
}

// Replay sends a request whose body is already encoded, as queued by syncq.
func (c *Client) Replay(ctx context.Context, method, path string, body []byte, idem string) error {
	var in any
	if len(body) > 0 {
		in = json.RawMessage(body)
	}
	return c.jsonRequest(ctx, method, path, in, nil, idem)
}

// IsNetworkError reports whether err happened before the server answered.
// Those are the failures worth queueing for a later replay.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	return !errors.As(err, &apiErr)
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
