// Package chatmesh provides an HTTP client for the chatmesh authority API.
package chatmesh

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/chatmesh/internal/api/middleware"
	"github.com/eldtechnologies/chatmesh/internal/handlers"
	"github.com/eldtechnologies/chatmesh/internal/models"
)

// Client is a chatmesh API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chatmesh error %d: %s", e.Status, e.Message)
}

// NewClient creates a new chatmesh client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// doRequest performs an HTTP request and decodes a JSON response into out
// when out is non-nil.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, header http.Header, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
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
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		if errResp.Error == "" {
			errResp.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// Presence is the state a participant publishes to the authority.
type Presence struct {
	DisplayName string      `json:"display_name"`
	Position    models.Vec3 `json:"position"`
	AreaID      int64       `json:"area_id"`
}

// PutPresence registers or updates id on the authority's roster.
func (c *Client) PutPresence(ctx context.Context, id uuid.UUID, p Presence) (*handlers.ParticipantResponse, error) {
	var resp handlers.ParticipantResponse
	if err := c.doRequest(ctx, http.MethodPut, "/participants/"+id.String(), p, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeletePresence removes id from the authority's roster.
func (c *Client) DeletePresence(ctx context.Context, id uuid.UUID) error {
	return c.doRequest(ctx, http.MethodDelete, "/participants/"+id.String(), nil, nil, nil)
}

// ListChannels lists subscribable channels.
func (c *Client) ListChannels(ctx context.Context) (*handlers.ChannelListResponse, error) {
	var resp handlers.ChannelListResponse
	if err := c.doRequest(ctx, http.MethodGet, "/channels", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PostMessage submits content on channel as sender over HTTP.
func (c *Client) PostMessage(ctx context.Context, sender uuid.UUID, channel models.ChannelID, content string) (*handlers.PostMessageResponse, error) {
	header := http.Header{}
	header.Set(middleware.ParticipantHeader, sender.String())

	var resp handlers.PostMessageResponse
	req := handlers.PostMessageRequest{Channel: channel, Content: content}
	if err := c.doRequest(ctx, http.MethodPost, "/messages", req, header, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks server health.
func (c *Client) Health(ctx context.Context) (*handlers.HealthResponse, error) {
	var resp handlers.HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/health", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
