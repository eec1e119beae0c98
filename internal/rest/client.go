// Package rest is the thin client for the marketplace backend's REST
// collaborator: conversation bootstrap and attachment upload. Everything
// real-time goes over the socket transport instead.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ConversationPreview is a conversation list entry as the backend
// returns it.
type ConversationPreview struct {
	ID               string `json:"id"`
	CounterpartyID   string `json:"counterpartyId"`
	CounterpartyName string `json:"counterpartyName"`
	Preview          string `json:"preview"`
	LastActivity     int64  `json:"lastActivity"`
	Unread           int    `json:"unread"`
}

// Client talks to the REST collaborator.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient creates a REST client for the given base URL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		base:  baseURL,
		token: token,
		http:  &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateConversation creates (or reuses) a conversation with the given
// counterparty and returns its id.
func (c *Client) CreateConversation(ctx context.Context, counterpartyID string) (string, error) {
	body, err := json.Marshal(map[string]string{"counterpartyId": counterpartyID})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/conversations", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp struct {
		ConversationID string `json:"conversationId"`
	}
	if err := c.do(req, &resp); err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	if resp.ConversationID == "" {
		return "", fmt.Errorf("create conversation: empty id in response")
	}
	return resp.ConversationID, nil
}

// ListConversations fetches a page of conversation previews.
func (c *Client) ListConversations(ctx context.Context, sort string, page int, search string) ([]ConversationPreview, error) {
	q := url.Values{}
	if sort != "" {
		q.Set("sort", sort)
	}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if search != "" {
		q.Set("search", search)
	}
	u := c.base + "/conversations"
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Conversations []ConversationPreview `json:"conversations"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return resp.Conversations, nil
}

// UploadAttachment uploads a file and returns the attachment reference
// used in send-message commands.
func (c *Client) UploadAttachment(ctx context.Context, filename string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/attachments", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var resp struct {
		Ref string `json:"ref"`
	}
	if err := c.do(req, &resp); err != nil {
		return "", fmt.Errorf("upload attachment: %w", err)
	}
	if resp.Ref == "" {
		return "", fmt.Errorf("upload attachment: empty ref in response")
	}
	return resp.Ref, nil
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
