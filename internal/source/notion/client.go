// Package notion reads pages, block trees and users from the Notion REST API.
package notion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agenthands/driftwatch/internal/fault"
)

// APIVersion is sent as the Notion-Version header.
const APIVersion = "2022-06-28"

const maxPageSize = 100

// APIError is the error body Notion returns with non-2xx responses.
type APIError struct {
	StatusCode int    `json:"status"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("notion returned status: %d", e.StatusCode)
	}
	return fmt.Sprintf("notion returned status %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

type Option func(*Client)

func NewClient(baseURL, token string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = "https://api.notion.com"
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.client = httpClient
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.client.Timeout = timeout
		}
	}
}

// GetPage fetches a page object with its properties.
func (c *Client) GetPage(ctx context.Context, pageID string) (*Page, error) {
	var page Page
	if err := c.get(ctx, "notion.GetPage", "/v1/pages/"+url.PathEscape(pageID), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetBlockChildren fetches one page of a block's children. An empty cursor
// starts at the beginning.
func (c *Client) GetBlockChildren(ctx context.Context, blockID, cursor string) (*BlockList, error) {
	q := url.Values{}
	q.Set("page_size", fmt.Sprint(maxPageSize))
	if cursor != "" {
		q.Set("start_cursor", cursor)
	}
	var list BlockList
	if err := c.get(ctx, "notion.GetBlockChildren", "/v1/blocks/"+url.PathEscape(blockID)+"/children", q, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// ListUsers fetches one page of workspace users.
func (c *Client) ListUsers(ctx context.Context, cursor string) (*UserList, error) {
	q := url.Values{}
	q.Set("page_size", fmt.Sprint(maxPageSize))
	if cursor != "" {
		q.Set("start_cursor", cursor)
	}
	var list UserList
	if err := c.get(ctx, "notion.ListUsers", "/v1/users", q, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fault.New(fault.Internal, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", APIVersion)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fault.New(fault.Timeout, op, ctx.Err())
		}
		return fault.New(fault.Transient, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fault.New(fault.Transient, op, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(body, apiErr)
		apiErr.StatusCode = resp.StatusCode
		return fault.FromStatus(op, resp.StatusCode, apiErr)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fault.New(fault.Permanent, op, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}
