// Package http provides an HTTP client for the ccip event companion service.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	ccip "github.com/CCIP-App/ccip-server/clients/go"
)

// Config holds configuration for the HTTP client.
type Config struct {
	// BaseURL is the base URL of the ccip server, e.g. "http://localhost:8080".
	BaseURL string
	// Token is the attendee token sent on attendee-facing endpoints.
	Token string
	// AdminKey is the bearer key for the admin endpoints. Optional; only
	// needed for CreateAnnouncement and ReplaceRuleset.
	AdminKey string
	// HTTPClient is optional; defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Client talks to the ccip server's JSON API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient returns a new HTTP client for the ccip service.
func NewClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{cfg: cfg, httpClient: hc}
}

// APIError is returned when the server responds with an HTTP error status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ccip: HTTP %d: %s", e.StatusCode, e.Message)
}

// -- wire types --------------------------------------------------------------

type wireScenario struct {
	Order         int               `json:"order"`
	DisplayText   map[string]string `json:"display_text"`
	AvailableTime int64             `json:"available_time"`
	ExpireTime    int64             `json:"expire_time"`
	Used          *int64            `json:"used"`
	Disabled      *string           `json:"disabled"`
	Attr          map[string]any    `json:"attr"`
}

type wireStatus struct {
	PublicToken string                  `json:"public_token"`
	UserID      string                  `json:"user_id"`
	FirstUse    *int64                  `json:"first_use"`
	Role        string                  `json:"role"`
	Scenario    map[string]wireScenario `json:"scenario"`
	Attr        map[string]any          `json:"attr"`
}

type wireAnnouncement struct {
	Datetime int64  `json:"datetime"`
	MsgEn    string `json:"msgEn"`
	MsgZh    string `json:"msgZh"`
	URI      string `json:"uri"`
}

// -- helpers -----------------------------------------------------------------

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, bearer string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("ccip: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	target := c.cfg.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("ccip: create request: %w", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ccip: http: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	return resp, nil
}

func (c *Client) tokenQuery() url.Values {
	return url.Values{"token": []string{c.cfg.Token}}
}

func decodeStatus(ws wireStatus) ccip.Status {
	status := ccip.Status{
		PublicToken: ws.PublicToken,
		UserID:      ws.UserID,
		Role:        ws.Role,
		Attributes:  ws.Attr,
		Scenarios:   make(map[string]ccip.Scenario, len(ws.Scenario)),
	}
	if ws.FirstUse != nil {
		at := time.Unix(*ws.FirstUse, 0).UTC()
		status.FirstUse = &at
	}
	for id, s := range ws.Scenario {
		scenario := ccip.Scenario{
			Order:         s.Order,
			DisplayText:   s.DisplayText,
			AvailableTime: time.Unix(s.AvailableTime, 0).UTC(),
			ExpireTime:    time.Unix(s.ExpireTime, 0).UTC(),
			Disabled:      s.Disabled,
			Attributes:    s.Attr,
		}
		if s.Used != nil {
			at := time.Unix(*s.Used, 0).UTC()
			scenario.Used = &at
		}
		status.Scenarios[id] = scenario
	}
	return status
}

// -- attendee endpoints ------------------------------------------------------

// Landing fetches the landing page greeting for the configured token. Unknown
// tokens still yield a profile with a generic nickname.
func (c *Client) Landing(ctx context.Context) (ccip.Profile, error) {
	resp, err := c.do(ctx, http.MethodGet, "/landing", c.tokenQuery(), nil, "")
	if err != nil {
		return ccip.Profile{}, err
	}
	defer resp.Body.Close()

	var out struct {
		Nickname string `json:"nickname"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ccip.Profile{}, fmt.Errorf("ccip: decode response: %w", err)
	}
	return ccip.Profile{Nickname: out.Nickname}, nil
}

// Status fetches the attendee's evaluated scenario list. The first call checks
// the attendee in.
func (c *Client) Status(ctx context.Context) (ccip.Status, error) {
	return c.status(ctx, false)
}

// StaffStatus fetches the status with the staff preview flag set, which shows
// out-of-window scenarios as usable and skips check-in.
func (c *Client) StaffStatus(ctx context.Context) (ccip.Status, error) {
	return c.status(ctx, true)
}

func (c *Client) status(ctx context.Context, staffQuery bool) (ccip.Status, error) {
	query := c.tokenQuery()
	if staffQuery {
		query.Set("StaffQuery", "true")
	}
	resp, err := c.do(ctx, http.MethodGet, "/status", query, nil, "")
	if err != nil {
		return ccip.Status{}, err
	}
	defer resp.Body.Close()

	var out wireStatus
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ccip.Status{}, fmt.Errorf("ccip: decode response: %w", err)
	}
	return decodeStatus(out), nil
}

// Use consumes the named scenario for the attendee and returns the refreshed
// status.
func (c *Client) Use(ctx context.Context, scenarioID string) (ccip.Status, error) {
	resp, err := c.do(ctx, http.MethodPost, "/use/"+url.PathEscape(scenarioID), c.tokenQuery(), nil, "")
	if err != nil {
		return ccip.Status{}, err
	}
	defer resp.Body.Close()

	var out wireStatus
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ccip.Status{}, fmt.Errorf("ccip: decode response: %w", err)
	}
	return decodeStatus(out), nil
}

// Announcements lists the announcements visible to the attendee, newest first.
func (c *Client) Announcements(ctx context.Context) ([]ccip.Announcement, error) {
	resp, err := c.do(ctx, http.MethodGet, "/announcement", c.tokenQuery(), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out []wireAnnouncement
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ccip: decode response: %w", err)
	}
	announcements := make([]ccip.Announcement, len(out))
	for i, a := range out {
		announcements[i] = ccip.Announcement{
			AnnouncedAt: time.Unix(a.Datetime, 0).UTC(),
			MessageEn:   a.MsgEn,
			MessageZh:   a.MsgZh,
			URI:         a.URI,
		}
	}
	return announcements, nil
}

// -- admin endpoints ---------------------------------------------------------

// CreateAnnouncement publishes an announcement. Roles limits visibility; an
// empty slice means visible to everyone. Requires Config.AdminKey.
func (c *Client) CreateAnnouncement(ctx context.Context, msgEn, msgZh, uri string, roles []string) error {
	if roles == nil {
		roles = []string{}
	}
	body := struct {
		MsgEn string   `json:"msg_en"`
		MsgZh string   `json:"msg_zh"`
		URI   string   `json:"uri"`
		Role  []string `json:"role"`
	}{MsgEn: msgEn, MsgZh: msgZh, URI: uri, Role: roles}

	resp, err := c.do(ctx, http.MethodPost, "/announcement", nil, body, c.cfg.AdminKey)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ReplaceRuleset swaps in a new ruleset configuration. The config must be the
// full ruleset JSON object. Requires Config.AdminKey.
func (c *Client) ReplaceRuleset(ctx context.Context, config json.RawMessage) error {
	resp, err := c.do(ctx, http.MethodPut, "/admin/ruleset", nil, config, c.cfg.AdminKey)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
