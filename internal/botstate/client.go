// Package botstate is the read-only HTTP client for bot world state:
// position, vitals, inventory, and nearby blocks. Calls carry a per-request
// timeout; a timed-out call is terminal, never retried at this layer.
package botstate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"botmind/internal/logging"
)

// Position is a world coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// DistanceTo returns euclidean distance between two positions.
func (p Position) DistanceTo(o Position) float64 {
	dx, dy, dz := p.X-o.X, p.Y-o.Y, p.Z-o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Item is one inventory stack.
type Item struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// State is the full snapshot payload from the bot.
type State struct {
	Position     Position `json:"position"`
	Food         float64  `json:"food"`
	Health       float64  `json:"health"`
	Inventory    []Item   `json:"inventory"`
	NearbyBlocks []string `json:"nearbyBlocks"`
}

// InventoryTotal sums all stack counts.
func (s *State) InventoryTotal() int {
	total := 0
	for _, it := range s.Inventory {
		total += it.Count
	}
	return total
}

// InventoryByName groups counts by normalized item name (namespace prefix
// stripped, lowercased).
func (s *State) InventoryByName() map[string]int {
	byName := make(map[string]int, len(s.Inventory))
	for _, it := range s.Inventory {
		byName[NormalizeItemName(it.Type)] += it.Count
	}
	return byName
}

// NormalizeItemName strips the "minecraft:" namespace prefix and lowercases.
func NormalizeItemName(name string) string {
	return strings.TrimPrefix(strings.ToLower(name), "minecraft:")
}

// Client reads bot state over HTTP.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	log     *logging.Logger
}

// New creates a client. timeout <= 0 defaults to 5s.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    &http.Client{},
		log:     logging.Get(logging.CategoryBot),
	}
}

// Get performs a GET against the bot and decodes the JSON body into out.
// The configured timeout bounds the whole call; an aborted call returns the
// context error and must not be retried by callers.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("bot state request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("GET %s failed: %v", path, err)
		return fmt.Errorf("bot state GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("bot state GET %s: status %d: %s", path, resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("bot state GET %s: decode: %w", path, err)
	}
	return nil
}

// Snapshot fetches the full bot state.
func (c *Client) Snapshot(ctx context.Context) (*State, error) {
	var st State
	if err := c.Get(ctx, "/state", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Inventory fetches only the inventory listing.
func (c *Client) Inventory(ctx context.Context) ([]Item, error) {
	var items []Item
	if err := c.Get(ctx, "/inventory", &items); err != nil {
		return nil, err
	}
	return items, nil
}
