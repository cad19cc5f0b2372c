// Package realtime talks to the external collaboration service that hosts
// live document rooms. The API only brokers access: it asks the service for
// a scoped session grant after checking membership itself, and tells the
// service to drop a room when the document is deleted.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SessionRequest identifies the user and the room a session grant is for.
type SessionRequest struct {
	UserID string
	Name   string
	Avatar string
	RoomID string
}

// Client is the surface the application layer depends on.
type Client interface {
	// AuthorizeSession asks the collaboration service for a session grant
	// scoped to a single room. The raw grant payload is returned as-is so
	// the caller can hand it to the browser client untouched.
	AuthorizeSession(ctx context.Context, req SessionRequest) ([]byte, error)

	// DeleteRoom removes the room from the collaboration service. A missing
	// room is not an error.
	DeleteRoom(ctx context.Context, roomID string) error
}

type HTTPClient struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

func NewHTTPClient(baseURL, secretKey string) *HTTPClient {
	return &HTTPClient{
		baseURL:   baseURL,
		secretKey: secretKey,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

type authorizeRequest struct {
	UserID      string              `json:"userId"`
	UserInfo    map[string]string   `json:"userInfo"`
	Permissions map[string][]string `json:"permissions"`
}

func (c *HTTPClient) AuthorizeSession(ctx context.Context, req SessionRequest) ([]byte, error) {
	userInfo := map[string]string{"name": req.Name}
	if req.Avatar != "" {
		userInfo["avatar"] = req.Avatar
	}

	body, err := json.Marshal(authorizeRequest{
		UserID:   req.UserID,
		UserInfo: userInfo,
		Permissions: map[string][]string{
			req.RoomID: {"room:write"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal authorize request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/authorize-user", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build authorize request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("authorize session: network error: %w", err)
	}
	defer resp.Body.Close()

	grant, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read authorize response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("authorize session: service returned %d: %s", resp.StatusCode, grant)
	}
	return grant, nil
}

func (c *HTTPClient) DeleteRoom(ctx context.Context, roomID string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v2/rooms/"+roomID, nil)
	if err != nil {
		return fmt.Errorf("build delete room request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("delete room: network error: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete room: service returned %d", resp.StatusCode)
	}
	return nil
}
