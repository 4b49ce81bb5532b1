package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx response from the colony API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsAPIError reports whether err is a structured API rejection rather than
// a transport failure.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

type Client struct {
	BaseURL  string
	PlayerID string
	HTTP     *http.Client
}

func NewClient(baseURL, playerID string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		PlayerID: playerID,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Colony(ctx context.Context) (map[string]any, error) {
	return c.Do(ctx, http.MethodGet, "/v1/colony", nil, "")
}

func (c *Client) Market(ctx context.Context) (map[string]any, error) {
	return c.Do(ctx, http.MethodGet, "/v1/market", nil, "")
}

func (c *Client) Depth(ctx context.Context, resource string) (map[string]any, error) {
	return c.Do(ctx, http.MethodGet, "/v1/market/"+url.PathEscape(resource)+"/depth", nil, "")
}

func (c *Client) Modifiers(ctx context.Context) (map[string]any, error) {
	return c.Do(ctx, http.MethodGet, "/v1/modifiers", nil, "")
}

func (c *Client) Ledger(ctx context.Context, limit int) (map[string]any, error) {
	return c.Do(ctx, http.MethodGet, "/v1/ledger?limit="+strconv.Itoa(limit), nil, "")
}

// Write describes a state-changing request so it can be queued offline.
type Write struct {
	Method string
	Path   string
	Body   map[string]any
}

func BuildWrite(moduleType, tier string, x, y int) Write {
	return Write{Method: http.MethodPost, Path: "/v1/modules", Body: map[string]any{
		"type": moduleType,
		"tier": tier,
		"x":    x,
		"y":    y,
	}}
}

// ModuleWrite targets one module; verb is upgrade, toggle, repair or
// demolish.
func ModuleWrite(verb, moduleID string) Write {
	path := "/v1/modules/" + url.PathEscape(moduleID)
	if verb == "demolish" {
		return Write{Method: http.MethodDelete, Path: path}
	}
	return Write{Method: http.MethodPost, Path: path + "/" + verb}
}

func CollectWrite() Write {
	return Write{Method: http.MethodPost, Path: "/v1/collect"}
}

func TradeWrite(resource, side string, quantity int64) Write {
	return Write{Method: http.MethodPost, Path: "/v1/trades", Body: map[string]any{
		"resource": resource,
		"side":     side,
		"quantity": quantity,
	}}
}

func RecruitWrite() Write {
	return Write{Method: http.MethodPost, Path: "/v1/crew"}
}

func AssignWrite(crewID, moduleID string) Write {
	return Write{Method: http.MethodPost, Path: "/v1/crew/" + url.PathEscape(crewID) + "/assign", Body: map[string]any{
		"module_id": moduleID,
	}}
}

func DailyWrite() Write {
	return Write{Method: http.MethodPost, Path: "/v1/daily"}
}

func (c *Client) Send(ctx context.Context, w Write, idem string) (map[string]any, error) {
	return c.Do(ctx, w.Method, w.Path, w.Body, idem)
}

func (c *Client) Do(ctx context.Context, method, path string, body map[string]any, idem string) (map[string]any, error) {
	var in any
	if body != nil {
		in = body
	}
	var out map[string]any
	err := c.jsonRequest(ctx, method, path, in, &out, idem)
	return out, err
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
	if c.PlayerID != "" {
		req.Header.Set("X-Player-ID", c.PlayerID)
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
		msg := strings.TrimSpace(string(raw))
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
