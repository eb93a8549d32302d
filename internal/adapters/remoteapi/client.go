// Package remoteapi implements the client side of the fixed REST contract
// exposed by the central platform.
package remoteapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/agritrace/fieldsync/internal/core/domain"
	"github.com/agritrace/fieldsync/internal/core/ports"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultMaxRetries = 2
)

// TokenFunc supplies the current bearer token. An empty token means the user
// is not authenticated; requests fail with domain.ErrUnauthorized.
type TokenFunc func(ctx context.Context) (string, error)

type Client struct {
	baseURL    string
	token      TokenFunc
	httpClient *http.Client
	logger     *zap.Logger
	maxRetries uint64
}

var _ ports.RemoteClient = (*Client)(nil)

func NewClient(baseURL string, token TokenFunc, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
		maxRetries: defaultMaxRetries,
	}
}

// envelope is the common {success, data} wrapper on every response.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type listData struct {
	Data []json.RawMessage `json:"data"`
	Meta domain.PageMeta   `json:"meta"`
}

type syncData struct {
	Items    []json.RawMessage `json:"items"`
	Total    int               `json:"total"`
	Since    int64             `json:"since"`
	SyncedAt time.Time         `json:"syncedAt"`
}

func (c *Client) List(ctx context.Context, resource string, query url.Values) (ports.ListResult, error) {
	raw, err := c.do(ctx, http.MethodGet, "/"+resource, query, nil)
	if err != nil {
		return ports.ListResult{}, err
	}
	var data listData
	if err := json.Unmarshal(raw, &data); err != nil {
		return ports.ListResult{}, fmt.Errorf("decode list response: %w", err)
	}
	return ports.ListResult{Items: data.Data, Meta: data.Meta}, nil
}

func (c *Client) Get(ctx context.Context, resource, id string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/"+resource+"/"+id, nil, nil)
}

func (c *Client) Create(ctx context.Context, resource string, body any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/"+resource, nil, body)
}

func (c *Client) Update(ctx context.Context, resource, id string, body any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPut, "/"+resource+"/"+id, nil, body)
}

func (c *Client) SetActive(ctx context.Context, resource, id string, active bool) (json.RawMessage, error) {
	action := "deactivate"
	if active {
		action = "activate"
	}
	return c.do(ctx, http.MethodPatch, "/"+resource+"/"+id+"/"+action, nil, nil)
}

func (c *Client) Associate(ctx context.Context, resource, id, subresource, subID string) error {
	_, err := c.do(ctx, http.MethodPost, "/"+resource+"/"+id+"/"+subresource+"/"+subID, nil, nil)
	return err
}

func (c *Client) Dissociate(ctx context.Context, resource, id, subresource, subID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/"+resource+"/"+id+"/"+subresource+"/"+subID, nil, nil)
	return err
}

func (c *Client) SyncAll(ctx context.Context, resource string) (ports.SyncBatch, error) {
	raw, err := c.do(ctx, http.MethodGet, "/"+resource+"/sync/all", nil, nil)
	if err != nil {
		return ports.SyncBatch{}, err
	}
	return decodeSyncBatch(raw)
}

func (c *Client) SyncUpdates(ctx context.Context, resource string, since time.Time) (ports.SyncBatch, error) {
	query := url.Values{}
	query.Set("since", strconv.FormatInt(since.UnixMilli(), 10))
	raw, err := c.do(ctx, http.MethodGet, "/"+resource+"/sync/updates", query, nil)
	if err != nil {
		return ports.SyncBatch{}, err
	}
	return decodeSyncBatch(raw)
}

type documentUpload struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Content  []byte `json:"content"`
}

func (c *Client) UploadDocument(ctx context.Context, resource, id string, doc domain.Document) error {
	body := documentUpload{Name: doc.Name, MimeType: doc.MimeType, Content: doc.Content}
	_, err := c.do(ctx, http.MethodPost, "/"+resource+"/"+id+"/documents", nil, body)
	return err
}

func decodeSyncBatch(raw json.RawMessage) (ports.SyncBatch, error) {
	var data syncData
	if err := json.Unmarshal(raw, &data); err != nil {
		return ports.SyncBatch{}, fmt.Errorf("decode sync response: %w", err)
	}
	return ports.SyncBatch{
		Items:    data.Items,
		Total:    data.Total,
		Since:    time.UnixMilli(data.Since).UTC(),
		SyncedAt: data.SyncedAt,
	}, nil
}

// do performs one logical request. Transport failures and 5xx responses are
// retried a bounded number of times with exponential backoff; everything else
// maps straight onto the domain error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	token, err := c.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if token == "" {
		return nil, fmt.Errorf("%w: no token", domain.ErrUnauthorized)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var result json.RawMessage
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(300*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var reader io.Reader
		if encoded != nil {
			reader = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		if encoded != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("remote request failed",
				zap.String("method", method),
				zap.String("path", path),
				zap.Error(err))
			return retry.RetryableError(&domain.RemoteError{Message: err.Error()})
		}
		defer func() { _ = resp.Body.Close() }()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		if err != nil {
			return retry.RetryableError(&domain.RemoteError{Message: err.Error()})
		}

		if resp.StatusCode >= 500 {
			c.logger.Warn("remote server error",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("status", resp.StatusCode))
			return retry.RetryableError(&domain.RemoteError{StatusCode: resp.StatusCode, Message: string(raw)})
		}
		if err := classifyStatus(resp.StatusCode, raw); err != nil {
			return err
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("decode response envelope: %w", err)
		}
		if !env.Success {
			return &domain.ValidationError{Message: env.Message}
		}
		result = env.Data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func classifyStatus(status int, body []byte) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", domain.ErrUnauthorized, status)
	case status == http.StatusNotFound:
		return domain.ErrNotFound
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return &domain.ValidationError{Message: serverMessage(body)}
	case status >= 400:
		return &domain.RemoteError{StatusCode: status, Message: serverMessage(body)}
	}
	return nil
}

func serverMessage(body []byte) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Message != "" {
		return env.Message
	}
	return string(body)
}
