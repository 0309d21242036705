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
	"strings"
	"time"

	"github.com/google/uuid"

	"animewife/internal/wife"
)

// APIError is a non-2xx answer from the bot API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// ErrUnauthorized is returned when the API rejects the profile's token.
var ErrUnauthorized = errors.New("unauthorized: run `wifectl login` again")

type Reply struct {
	Text     string `json:"text"`
	Image    string `json:"image,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type SayResult struct {
	MessageID string  `json:"message_id"`
	Replies   []Reply `json:"replies"`
}

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   strings.TrimSpace(token),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Health(ctx context.Context) error {
	return c.jsonRequest(ctx, http.MethodGet, "/healthz", nil, nil, "")
}

// Say posts text to group as sender and returns the bot's replies.
func (c *Client) Say(ctx context.Context, group, sender, senderName, text string, mentions []string) (SayResult, error) {
	var out SayResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/groups/"+url.PathEscape(group)+"/messages", map[string]any{
		"sender_id":   sender,
		"sender_name": senderName,
		"text":        text,
		"mentions":    mentions,
		"addressed":   true,
	}, &out, uuid.NewString())
	return out, err
}

func (c *Client) Backpack(ctx context.Context, group, user string) (wife.BackpackView, error) {
	var out wife.BackpackView
	err := c.jsonRequest(ctx, http.MethodGet, userPath(group, user, "backpack"), nil, &out, "")
	return out, err
}

func (c *Client) Trades(ctx context.Context, group, user string) (wife.TradeListing, error) {
	var out wife.TradeListing
	err := c.jsonRequest(ctx, http.MethodGet, userPath(group, user, "trades"), nil, &out, "")
	return out, err
}

func userPath(group, user, leaf string) string {
	return "/v1/groups/" + url.PathEscape(group) + "/users/" + url.PathEscape(user) + "/" + leaf
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
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func errorMessage(raw []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(raw))
}
