package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/photosync/sync/internal/config"
	"github.com/photosync/sync/internal/models"
)

// RemoteClient submits mutation batches to the remote store. Implementations
// must distinguish credential rejection (ErrUnauthorized) from transport
// failure so the engine can classify the pass correctly.
type RemoteClient interface {
	SubmitMutations(ctx context.Context, req *models.SyncMutationsRequest) (*models.SyncMutationsResponse, error)
}

// HTTPRemoteClient talks to the sync server over HTTP. Credentials come from
// the identity collaborator as an oauth2.TokenSource; this client never
// refreshes tokens itself.
type HTTPRemoteClient struct {
	baseURL      string
	deviceID     string
	deviceHeader string
	bearerHeader string
	tokens       oauth2.TokenSource
	httpClient   *http.Client
}

// NewHTTPRemoteClient creates an HTTPRemoteClient. The security config names
// the headers carrying the device id and the sync credential, matching what
// the server's auth middleware reads.
func NewHTTPRemoteClient(baseURL, deviceID string, tokens oauth2.TokenSource, sec config.Security, timeout time.Duration) *HTTPRemoteClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	deviceHeader := sec.DeviceHeader
	if deviceHeader == "" {
		deviceHeader = "X-Device-ID"
	}
	bearerHeader := sec.BearerHeader
	if bearerHeader == "" {
		bearerHeader = "Authorization"
	}
	return &HTTPRemoteClient{
		baseURL:      baseURL,
		deviceID:     deviceID,
		deviceHeader: deviceHeader,
		bearerHeader: bearerHeader,
		tokens:       tokens,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// SubmitMutations posts a mutation batch to /api/sync/mutations
func (c *HTTPRemoteClient) SubmitMutations(ctx context.Context, req *models.SyncMutationsRequest) (*models.SyncMutationsResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sync request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/sync/mutations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.deviceID != "" {
		httpReq.Header.Set(c.deviceHeader, c.deviceID)
	}

	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
		}
		httpReq.Header.Set(c.bearerHeader, "Bearer "+token.AccessToken)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrNetworkUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, models.ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", models.ErrNetworkUnreachable, resp.StatusCode, payload)
	}

	var out models.SyncMutationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", models.ErrNetworkUnreachable, err)
	}
	return &out, nil
}
