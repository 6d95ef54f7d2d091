package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pagemarklabs/pagemark/internal/annotations"
)

var (
	errMissingBaseURL = errors.New("syncer: endpoint base url is required")
	// ErrMalformedResponse indicates the backend answered with an undecodable body.
	// It is treated as a failed flush, never as fatal.
	ErrMalformedResponse = errors.New("syncer: malformed endpoint response")
)

// ClientConfig configures the HTTP persistence client.
type ClientConfig struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
}

// Client talks to the persistence endpoint: one write operation accepting a batch
// of annotation records and one read operation returning the bulk-import shape.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient validates the configuration and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    baseURL,
		token:      cfg.BearerToken,
		httpClient: httpClient,
	}, nil
}

type saveRequestPayload struct {
	Records []annotations.Record `json:"records"`
}

type saveResponsePayload struct {
	Results []saveResultPayload `json:"results"`
}

type saveResultPayload struct {
	ID       string `json:"id"`
	Accepted bool   `json:"accepted"`
	Version  int64  `json:"version"`
	Deleted  bool   `json:"deleted"`
}

type loadResponsePayload struct {
	Annotations annotations.ToolRecords `json:"annotations"`
}

// SaveBatch posts one coalesced batch to the save endpoint. Any transport error,
// non-2xx status, or undecodable body is reported as an error for the Syncer's
// retry policy to handle.
func (c *Client) SaveBatch(ctx context.Context, records []annotations.Record) error {
	body, err := json.Marshal(saveRequestPayload{Records: records})
	if err != nil {
		return err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/annotations/sync", bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	c.authorize(request)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer drainAndClose(response.Body)

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("syncer: save endpoint returned status %d", response.StatusCode)
	}
	var decoded saveResponsePayload
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// LoadAll fetches the author's stored annotations in the bulk-import shape
// consumed by the per-tool stores.
func (c *Client) LoadAll(ctx context.Context) (annotations.ToolRecords, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/annotations", nil)
	if err != nil {
		return nil, err
	}
	c.authorize(request)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer drainAndClose(response.Body)

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, fmt.Errorf("syncer: read endpoint returned status %d", response.StatusCode)
	}
	var decoded loadResponsePayload
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if decoded.Annotations == nil {
		return annotations.ToolRecords{}, nil
	}
	return decoded.Annotations, nil
}

func (c *Client) authorize(request *http.Request) {
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
