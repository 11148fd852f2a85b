// Package catalog cross-checks generated part numbers against the Rebrickable parts catalog.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"k8s.io/klog/v2"
)

// DefaultBaseURL is the Rebrickable v3 API root.
const DefaultBaseURL = "https://rebrickable.com/api/v3"

// CatalogPart is a part record returned by the catalog.
type CatalogPart struct {
	PartNum   string `json:"part_num"`
	Name      string `json:"name"`
	PartCatID int    `json:"part_cat_id"`
}

// PartLookup resolves catalog part numbers. A *StatusError means the request was
// answered but rejected; any other error means the catalog could not be reached.
type PartLookup interface {
	LookupParts(ctx context.Context, partNums []string) ([]CatalogPart, error)
}

// StatusError is a non-2xx catalog response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog request failed: %d %s: %s", e.Code, http.StatusText(e.Code), e.Body)
}

// IsRejected reports whether err is a rejected (non-2xx) catalog response.
func IsRejected(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

type partsResp struct {
	Count   int           `json:"count"`
	Next    *string       `json:"next"`
	Results []CatalogPart `json:"results"`
}

// Client talks to the Rebrickable parts endpoint.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewClient creates a Client. An empty baseURL uses DefaultBaseURL.
func NewClient(apiKey, baseURL string, client *http.Client) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("rebrickable api key missing; provide catalog.api_key")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}, nil
}

// LookupParts fetches the given part numbers in a single request.
func (c *Client) LookupParts(ctx context.Context, partNums []string) ([]CatalogPart, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/lego/parts/", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "key "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	q := req.URL.Query()
	q.Set("part_nums", strings.Join(partNums, ","))
	// The endpoint pages at 100 by default; ask for the whole chunk at once.
	q.Set("page_size", strconv.Itoa(len(partNums)))
	req.URL.RawQuery = q.Encode()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var data partsResp
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode catalog response: %w", err)
	}
	if data.Next != nil {
		klog.V(2).Infof("[catalog] response truncated: count=%d returned=%d", data.Count, len(data.Results))
	}
	return data.Results, nil
}

var _ PartLookup = (*Client)(nil)
