// Package rest implements api.Client against the opschatd HTTP surface.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"opschat/internal/api"
	"opschat/internal/app/dto"
	"opschat/internal/domain/chat"
)

// Config defines HTTP client settings.
type Config struct {
	BaseURL     string
	Token       string
	CallTimeout time.Duration
}

// Client is a typed wrapper over the REST endpoints.
type Client struct {
	base        *url.URL
	token       string
	http        *http.Client
	callTimeout time.Duration
	logger      *slog.Logger
}

var _ api.Client = (*Client)(nil)

// NewClient validates the base URL and returns a typed client.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		return nil, errors.New("rest: base url required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("rest: parse base url: %w", err)
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &Client{
		base:        base,
		token:       cfg.Token,
		http:        &http.Client{},
		callTimeout: callTimeout,
		logger:      logger,
	}, nil
}

// ListConversations returns the roster for the authenticated principal.
func (c *Client) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	var list dto.ConversationList
	if err := c.do(ctx, http.MethodGet, "/api/v1/conversations", nil, &list); err != nil {
		return nil, err
	}
	out := make([]chat.Conversation, 0, len(list.Items))
	for _, item := range list.Items {
		out = append(out, item.ToConversation())
	}
	return out, nil
}

// ListMessages returns one page ordered oldest to newest.
func (c *Client) ListMessages(ctx context.Context, conversationID string, pageSize int, beforeMessageID string) ([]chat.Message, error) {
	path := "/api/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	query := url.Values{}
	if pageSize > 0 {
		query.Set("limit", strconv.Itoa(pageSize))
	}
	if beforeMessageID != "" {
		query.Set("before", beforeMessageID)
	}
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var list dto.ChatMessageList
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	out := make([]chat.Message, 0, len(list.Items))
	for _, item := range list.Items {
		out = append(out, item.ToMessage())
	}
	return out, nil
}

// SendMessage posts one message.
func (c *Client) SendMessage(ctx context.Context, conversationID string, params api.SendParams) (chat.Message, error) {
	req := dto.SendMessageRequest{Body: params.Body, Kind: string(params.Kind)}
	if params.Attachment != nil {
		req.AttachmentURL = params.Attachment.URL
		req.AttachmentName = params.Attachment.Name
		req.AttachmentSize = params.Attachment.Size
	}
	var msg dto.ChatMessage
	path := "/api/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, req, &msg); err != nil {
		return chat.Message{}, err
	}
	return msg.ToMessage(), nil
}

// MarkAllRead acknowledges every unread message in the conversation.
func (c *Client) MarkAllRead(ctx context.Context, conversationID string) error {
	path := "/api/v1/conversations/" + url.PathEscape(conversationID) + "/read"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// UpdateConversationStatus moves the conversation between active, resolved
// and archived.
func (c *Client) UpdateConversationStatus(ctx context.Context, conversationID string, status chat.Status) (chat.Conversation, error) {
	path := "/api/v1/conversations/" + url.PathEscape(conversationID) + "/status"
	var conv dto.Conversation
	if err := c.do(ctx, http.MethodPatch, path, map[string]string{"status": string(status)}, &conv); err != nil {
		return chat.Conversation{}, err
	}
	return conv.ToConversation(), nil
}

// UpdateConversationMode switches between the automated agent and a human.
func (c *Client) UpdateConversationMode(ctx context.Context, conversationID string, mode chat.Mode) (chat.Conversation, error) {
	path := "/api/v1/conversations/" + url.PathEscape(conversationID) + "/mode"
	var conv dto.Conversation
	if err := c.do(ctx, http.MethodPatch, path, map[string]string{"mode": string(mode)}, &conv); err != nil {
		return chat.Conversation{}, err
	}
	return conv.ToConversation(), nil
}

// DeleteConversation removes the conversation and its history.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	path := "/api/v1/conversations/" + url.PathEscape(conversationID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// UploadAttachment stores a file and returns its public location.
func (c *Client) UploadAttachment(ctx context.Context, name, contentType string, content io.Reader) (api.Upload, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return api.Upload{}, fmt.Errorf("rest: build multipart: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return api.Upload{}, fmt.Errorf("rest: read attachment: %w", err)
	}
	if err := writer.Close(); err != nil {
		return api.Upload{}, fmt.Errorf("rest: finalize multipart: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.base.String()+"/api/v1/uploads", &buf)
	if err != nil {
		return api.Upload{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logTransportFailure(http.MethodPost, "/api/v1/uploads", err)
		return api.Upload{}, err
	}
	defer resp.Body.Close()
	var upload dto.Upload
	if err := decodeResponse(resp, &upload); err != nil {
		return api.Upload{}, err
	}
	kind, err := chat.ParseKind(upload.Kind)
	if err != nil {
		kind = chat.KindFile
	}
	return api.Upload{URL: upload.URL, Name: upload.Name, Size: upload.Size, Kind: kind}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("rest: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(callCtx, method, c.base.String()+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logTransportFailure(method, path, err)
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

// Transport-level failures are the transient class the session layer retries
// via its backstop poll, so they are logged here once at the source.
func (c *Client) logTransportFailure(method, path string, err error) {
	if c.logger != nil {
		c.logger.Debug("request failed", "method", method, "path", path, "error", err)
	}
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("rest: %s (%d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("rest: unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
