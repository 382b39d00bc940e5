// Package pings delivers notifications through the CSH pings service.
//
// Each kind of message (join, leave, added, removed) goes to its own route so
// users can subscribe to them separately:
//
//	POST {base}/service/route/{route}/ping
//	Authorization: Bearer {token}
//	{"username": "jdoe", "body": "..."}
package pings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultBaseURL is the production pings service.
const DefaultBaseURL = "https://pings.csh.rit.edu"

// Routes are the per-message route ids issued by the pings service.
type Routes struct {
	Join   string
	Leave  string
	Add    string
	Remove string
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   string
	Routes  Routes
	Timeout time.Duration
}

// Client sends pings. It is safe for concurrent use.
type Client struct {
	http    *http.Client
	baseURL string
	routes  Routes
	logger  *slog.Logger
}

// New builds a Client whose requests carry cfg.Token as a bearer token.
//
// oauth2.NewClient with a static token source is the same transport the
// login flow uses, minus the exchange: it just stamps Authorization on every
// request.
func New(cfg Config, logger *slog.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		// Must stay well under the worker's lease.
		timeout = 3 * time.Second
	}

	hc := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cfg.Token,
		TokenType:   "Bearer",
	}))
	hc.Timeout = timeout

	return &Client{
		http:    hc,
		baseURL: strings.TrimRight(base, "/"),
		routes:  cfg.Routes,
		logger:  logger,
	}
}

// SendJoin tells a driver that someone joined their car.
func (c *Client) SendJoin(ctx context.Context, to, joiner, event string) error {
	return c.send(ctx, c.routes.Join, to, fmt.Sprintf("@%s joined your ride to \"%s\".", joiner, event))
}

// SendLeave tells a driver that someone left their car.
func (c *Client) SendLeave(ctx context.Context, to, leaver, event string) error {
	return c.send(ctx, c.routes.Leave, to, fmt.Sprintf("@%s left your ride \"%s\".", leaver, event))
}

// SendAdded tells a rider the driver put them in the car.
func (c *Client) SendAdded(ctx context.Context, to, driver, event string) error {
	return c.send(ctx, c.routes.Add, to,
		fmt.Sprintf("You have been added to %s's ride to \"%s\" by the driver.", driver, event))
}

// SendRemoved tells a rider the driver took them out of the car.
func (c *Client) SendRemoved(ctx context.Context, to, driver, event string) error {
	return c.send(ctx, c.routes.Remove, to,
		fmt.Sprintf("You have been removed from %s's ride to \"%s\" by the driver.", driver, event))
}

type pingRequest struct {
	Username string `json:"username"`
	Body     string `json:"body"`
}

func (c *Client) send(ctx context.Context, route, to, body string) error {
	payload, err := json.Marshal(pingRequest{Username: to, Body: body})
	if err != nil {
		return fmt.Errorf("pings: encoding request: %w", err)
	}

	endpoint := c.baseURL + "/service/route/" + url.PathEscape(route) + "/ping"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("pings: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("pings: sending to %s: %w", to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pings: sending to %s: status %d: %s", to, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	c.logger.Debug("ping sent", slog.String("to", to), slog.String("route", route))
	return nil
}
