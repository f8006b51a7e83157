// Package gmail is a thin client for the Gmail REST surface the web client
// consumes: list/get/modify/trash/send under users/me. Every call carries a
// bearer token borrowed from the account manager; this package never
// refreshes or stores credentials itself.
package gmail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/mailbeam/mailbeam/internal/util"
)

const defaultBaseURL = "https://gmail.googleapis.com/gmail/v1/users/me"

// defaultTimeout converts upstream hangs into errors instead of stuck
// requests.
const defaultTimeout = 10 * time.Second

// listConcurrency bounds the per-message metadata hydration fan-out.
const listConcurrency = 8

// Labels used by the triage actions.
const (
	LabelInbox = "INBOX"
	LabelSpam  = "SPAM"
)

// StatusError is a non-2xx response from the Gmail API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gmail api returned %d: %s", e.StatusCode, util.TruncateLog(e.Body, 256))
}

// Client calls the Gmail REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a Gmail client with the default endpoint and timeout.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    defaultBaseURL,
	}
}

// ListOptions narrows a message list call.
type ListOptions struct {
	MaxResults int
	PageToken  string
	Query      string
}

// ListMessages lists message IDs and hydrates each with the From/Subject/Date
// metadata the inbox view renders, fanning out with bounded concurrency.
func (c *Client) ListMessages(ctx context.Context, token string, opts ListOptions) (*MessageList, error) {
	q := url.Values{}
	if opts.MaxResults > 0 {
		q.Set("maxResults", fmt.Sprintf("%d", opts.MaxResults))
	}
	if opts.PageToken != "" {
		q.Set("pageToken", opts.PageToken)
	}
	if opts.Query != "" {
		q.Set("q", opts.Query)
	}

	var page struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
		NextPageToken      string `json:"nextPageToken"`
		ResultSizeEstimate int64  `json:"resultSizeEstimate"`
	}
	if err := c.getJSON(ctx, token, "/messages?"+q.Encode(), &page); err != nil {
		return nil, err
	}

	list := &MessageList{
		Messages:           make([]*Message, len(page.Messages)),
		NextPageToken:      page.NextPageToken,
		ResultSizeEstimate: page.ResultSizeEstimate,
	}

	sem := make(chan struct{}, listConcurrency)
	errs := make([]error, len(page.Messages))
	var wg sync.WaitGroup
	for i, ref := range page.Messages {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			list.Messages[i], errs[i] = c.getMetadata(ctx, token, id)
		}(i, ref.ID)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (c *Client) getMetadata(ctx context.Context, token, id string) (*Message, error) {
	path := "/messages/" + id + "?format=metadata" +
		"&metadataHeaders=From&metadataHeaders=Subject&metadataHeaders=Date"
	var msg Message
	if err := c.getJSON(ctx, token, path, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetMessage fetches one message with the full payload.
func (c *Client) GetMessage(ctx context.Context, token, id string) (*Message, error) {
	var msg Message
	if err := c.getJSON(ctx, token, "/messages/"+id+"?format=full", &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Archive removes the message from the inbox.
func (c *Client) Archive(ctx context.Context, token, id string) error {
	return c.modify(ctx, token, id, nil, []string{LabelInbox})
}

// MarkSpam moves the message to spam.
func (c *Client) MarkSpam(ctx context.Context, token, id string) error {
	return c.modify(ctx, token, id, []string{LabelSpam}, []string{LabelInbox})
}

func (c *Client) modify(ctx context.Context, token, id string, add, remove []string) error {
	body := struct {
		AddLabelIDs    []string `json:"addLabelIds,omitempty"`
		RemoveLabelIDs []string `json:"removeLabelIds,omitempty"`
	}{add, remove}
	return c.postJSON(ctx, token, "/messages/"+id+"/modify", body, nil)
}

// Trash moves the message to the trash.
func (c *Client) Trash(ctx context.Context, token, id string) error {
	return c.postJSON(ctx, token, "/messages/"+id+"/trash", nil, nil)
}

// Send submits an outgoing message and returns the created message.
func (c *Client) Send(ctx context.Context, token string, out *OutgoingMessage) (*Message, error) {
	body := struct {
		Raw      string `json:"raw"`
		ThreadID string `json:"threadId,omitempty"`
	}{out.Raw(), out.ThreadID}

	var msg Message
	if err := c.postJSON(ctx, token, "/messages/send", body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) getJSON(ctx context.Context, token, path string, v any) error {
	return c.do(ctx, token, http.MethodGet, path, nil, v)
}

func (c *Client) postJSON(ctx context.Context, token, path string, body, v any) error {
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(b)
	}
	return c.do(ctx, token, http.MethodPost, path, payload, v)
}

func (c *Client) do(ctx context.Context, token, method, path string, body io.Reader, v any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gmail api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &StatusError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode gmail response: %w", err)
	}
	return nil
}
