// Copyright 2025 Tydring
// SPDX-License-Identifier: Apache-2.0

package notionsync

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

// Notion wire types. Only the property kinds the mapping tables use are
// modeled; unknown properties on a page are decoded and ignored.

type TextContent struct {
	Content string `json:"content"`
}

type RichTextSpan struct {
	Type      string       `json:"type,omitempty"`
	Text      *TextContent `json:"text,omitempty"`
	PlainText string       `json:"plain_text,omitempty"`
}

type SelectOption struct {
	Name string `json:"name"`
}

type DateValue struct {
	Start string `json:"start"`
}

// PropertyValue is one typed Notion page property. Exactly one of the value
// members is set depending on the property kind.
type PropertyValue struct {
	Type     string         `json:"type,omitempty"`
	Title    []RichTextSpan `json:"title,omitempty"`
	RichText []RichTextSpan `json:"rich_text,omitempty"`
	Number   *float64       `json:"number,omitempty"`
	Select   *SelectOption  `json:"select,omitempty"`
	Date     *DateValue     `json:"date,omitempty"`
}

// PlainText flattens a title or rich_text property into a single string.
func (p PropertyValue) PlainText() string {
	spans := p.Title
	if len(spans) == 0 {
		spans = p.RichText
	}
	var b strings.Builder
	for _, span := range spans {
		if span.PlainText != "" {
			b.WriteString(span.PlainText)
		} else if span.Text != nil {
			b.WriteString(span.Text.Content)
		}
	}
	return b.String()
}

// Page is a Notion page as returned by the API.
type Page struct {
	ID             string                   `json:"id"`
	Archived       bool                     `json:"archived"`
	LastEditedTime time.Time                `json:"last_edited_time"`
	Properties     map[string]PropertyValue `json:"properties"`
}

// QueryResult is one page of a database query.
type QueryResult struct {
	Pages      []Page
	HasMore    bool
	NextCursor string
}

// WorkspaceClient is the surface of the external workspace API the sync
// engine consumes. A single instance is constructed at startup and injected
// into every handler; there is no lazily-built global client.
type WorkspaceClient interface {
	// QueryChangedPages returns pages of databaseID whose last_edited_time is
	// strictly after the given instant, ascending by last_edited_time.
	// cursor continues a prior result's pagination; empty starts from the top.
	QueryChangedPages(ctx context.Context, databaseID string, after time.Time, cursor string) (*QueryResult, error)

	// FindPageByRecordID looks up a non-archived page whose record-id
	// property equals recordID. Returns ErrNotFound when absent.
	FindPageByRecordID(ctx context.Context, databaseID, property, recordID string) (*Page, error)

	CreatePage(ctx context.Context, databaseID string, properties map[string]PropertyValue) (*Page, error)
	UpdatePage(ctx context.Context, pageID string, properties map[string]PropertyValue) (*Page, error)
	ArchivePage(ctx context.Context, pageID string) error
}

// NotionClientOptions configures the HTTP Notion client.
type NotionClientOptions struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	APIVersion string
	UserAgent  string
	PageSize   int
	MaxRetries int // in-call retries for 429/5xx before surfacing the error
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// NotionClient is the HTTP implementation of WorkspaceClient.
type NotionClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	apiVersion string
	userAgent  string
	pageSize   int
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewNotionClient(opts NotionClientOptions) *NotionClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.notion.com"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "2022-06-28"
	}
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &NotionClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		httpClient: httpClient,
		apiVersion: apiVersion,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		pageSize:   pageSize,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

type queryRequest struct {
	Filter      *queryFilter `json:"filter,omitempty"`
	Sorts       []querySort  `json:"sorts,omitempty"`
	StartCursor string       `json:"start_cursor,omitempty"`
	PageSize    int          `json:"page_size,omitempty"`
}

type queryFilter struct {
	Timestamp      string              `json:"timestamp,omitempty"`
	LastEditedTime *timestampCondition `json:"last_edited_time,omitempty"`
	Property       string              `json:"property,omitempty"`
	RichText       *richTextCondition  `json:"rich_text,omitempty"`
}

type timestampCondition struct {
	After string `json:"after"`
}

type richTextCondition struct {
	Equals string `json:"equals"`
}

type querySort struct {
	Timestamp string `json:"timestamp"`
	Direction string `json:"direction"`
}

type queryResponse struct {
	Results    []Page  `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor *string `json:"next_cursor"`
}

func (c *NotionClient) QueryChangedPages(ctx context.Context, databaseID string, after time.Time, cursor string) (*QueryResult, error) {
	req := queryRequest{
		Filter: &queryFilter{
			Timestamp:      "last_edited_time",
			LastEditedTime: &timestampCondition{After: after.UTC().Format(time.RFC3339)},
		},
		Sorts:       []querySort{{Timestamp: "last_edited_time", Direction: "ascending"}},
		StartCursor: cursor,
		PageSize:    c.pageSize,
	}
	var resp queryResponse
	if err := c.do(ctx, http.MethodPost, "/v1/databases/"+databaseID+"/query", req, &resp); err != nil {
		return nil, err
	}
	result := &QueryResult{Pages: resp.Results, HasMore: resp.HasMore}
	if resp.NextCursor != nil {
		result.NextCursor = *resp.NextCursor
	}
	return result, nil
}

func (c *NotionClient) FindPageByRecordID(ctx context.Context, databaseID, property, recordID string) (*Page, error) {
	req := queryRequest{
		Filter: &queryFilter{
			Property: property,
			RichText: &richTextCondition{Equals: recordID},
		},
		PageSize: 1,
	}
	var resp queryResponse
	if err := c.do(ctx, http.MethodPost, "/v1/databases/"+databaseID+"/query", req, &resp); err != nil {
		return nil, err
	}
	for _, page := range resp.Results {
		if !page.Archived {
			p := page
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

type createPageRequest struct {
	Parent     pageParent               `json:"parent"`
	Properties map[string]PropertyValue `json:"properties"`
}

type pageParent struct {
	DatabaseID string `json:"database_id"`
}

func (c *NotionClient) CreatePage(ctx context.Context, databaseID string, properties map[string]PropertyValue) (*Page, error) {
	req := createPageRequest{
		Parent:     pageParent{DatabaseID: databaseID},
		Properties: properties,
	}
	var page Page
	if err := c.do(ctx, http.MethodPost, "/v1/pages", req, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

type updatePageRequest struct {
	Properties map[string]PropertyValue `json:"properties,omitempty"`
	Archived   *bool                    `json:"archived,omitempty"`
}

func (c *NotionClient) UpdatePage(ctx context.Context, pageID string, properties map[string]PropertyValue) (*Page, error) {
	req := updatePageRequest{Properties: properties}
	var page Page
	if err := c.do(ctx, http.MethodPatch, "/v1/pages/"+pageID, req, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *NotionClient) ArchivePage(ctx context.Context, pageID string) error {
	archived := true
	req := updatePageRequest{Archived: &archived}
	var page Page
	return c.do(ctx, http.MethodPatch, "/v1/pages/"+pageID, req, &page)
}

// do issues one API call with bounded in-call retries for rate limits and
// server errors. Anything still failing after the retry budget is surfaced
// to the caller's retry machinery.
func (c *NotionClient) do(ctx context.Context, method, path string, payload, out any) error {
	if c.token == "" {
		return fmt.Errorf("notion token is empty")
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := c.baseURL + path

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(bodyBytes))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Notion-Version", c.apiVersion)
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil {
				return nil
			}
			return json.Unmarshal(respBody, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			if waitErr := sleepWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var parsed struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &parsed) == nil {
			apiErr.Code = parsed.Code
			if strings.TrimSpace(parsed.Message) != "" {
				apiErr.Message = parsed.Message
			}
		}
		return apiErr
	}
}

func (c *NotionClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
