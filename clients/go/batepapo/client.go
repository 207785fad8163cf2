// Package batepapo provides a client for the batepapo chat API.
package batepapo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Broadcast is the recipient that addresses everyone in the room.
const Broadcast = "Todos"

// Message types accepted by PostMessage.
const (
	TypeMessage        = "message"
	TypePrivateMessage = "private_message"
)

// Client is a batepapo API client acting as a single participant.
type Client struct {
	BaseURL    string
	Name       string
	HTTPClient *http.Client
}

// NewClient creates a new client. Name is sent as the User header on
// every request once set.
func NewClient(baseURL, name string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:5000"
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Name:       name,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Messages   []string
}

func (e *APIError) Error() string {
	if len(e.Messages) == 0 {
		return fmt.Sprintf("batepapo error %d", e.StatusCode)
	}
	return fmt.Sprintf("batepapo error %d: %s", e.StatusCode, strings.Join(e.Messages, "; "))
}

// doRequest performs an HTTP request and decodes the response into out.
func (c *Client) doRequest(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Name != "" {
		req.Header.Set("User", c.Name)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, respBody)
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// decodeError understands both the validation list and the {"error": ...}
// object shapes.
func decodeError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}

	var messages []string
	if err := json.Unmarshal(body, &messages); err == nil {
		apiErr.Messages = messages
		return apiErr
	}

	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		apiErr.Messages = []string{errResp.Error}
	}
	return apiErr
}

// Participant is a registered chat participant.
type Participant struct {
	ID         string `json:"_id"`
	Name       string `json:"name"`
	LastStatus int64  `json:"lastStatus"`
}

// Register joins the room as c.Name.
func (c *Client) Register(ctx context.Context) (*Participant, error) {
	var p Participant
	if err := c.doRequest(ctx, http.MethodPost, "/participants", map[string]string{"name": c.Name}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Participants lists everyone currently in the room.
func (c *Client) Participants(ctx context.Context) ([]Participant, error) {
	var ps []Participant
	if err := c.doRequest(ctx, http.MethodGet, "/participants", nil, &ps); err != nil {
		return nil, err
	}
	return ps, nil
}

// Message is a chat message as returned by the server.
type Message struct {
	ID   string `json:"_id"`
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
	Type string `json:"type"`
	Time string `json:"time"`
}

// PostMessageRequest is the request body for posting a message.
type PostMessageRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
	Type string `json:"type"`
}

// PostMessage sends a message from c.Name.
func (c *Client) PostMessage(ctx context.Context, to, text, msgType string) (*Message, error) {
	var m Message
	req := PostMessageRequest{To: to, Text: text, Type: msgType}
	if err := c.doRequest(ctx, http.MethodPost, "/messages", req, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Messages returns the messages visible to c.Name, newest first. A limit
// of zero returns all of them.
func (c *Client) Messages(ctx context.Context, limit int) ([]Message, error) {
	path := "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var ms []Message
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &ms); err != nil {
		return nil, err
	}
	return ms, nil
}

// Heartbeat refreshes c.Name's presence.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodPost, "/status", nil, nil)
}

// KeepAlive sends a heartbeat every interval until ctx is done or a
// heartbeat fails.
func (c *Client) KeepAlive(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.Heartbeat(ctx); err != nil {
				return err
			}
		}
	}
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StatsResponse is the response from the stats endpoint.
type StatsResponse struct {
	Participants   int64     `json:"participants"`
	TotalMessages  int64     `json:"total_messages"`
	RecentMessages []Message `json:"recent_messages"`
}

// Stats returns room statistics.
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	var resp StatsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/stats", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
