package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/agritrace/fieldsync/internal/core/domain"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookSink forwards dispatcher events to a configured HTTP endpoint.
// Each request is signed with HMAC-SHA256 so the receiver can verify
// authenticity. Delivery is fire-and-forget: a failed POST is logged and
// dropped, it never blocks or fails the flush loop.
type WebhookSink struct {
	url    string
	secret []byte
	client *http.Client
	log    *zap.Logger
}

// NewWebhookSink returns a WebhookSink that POSTs events to url and signs
// them with secret. A zero or negative timeout falls back to
// defaultWebhookTimeout (10 s).
func NewWebhookSink(url, secret string, timeout time.Duration, log *zap.Logger) *WebhookSink {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookSink{
		url:    url,
		secret: []byte(secret),
		client: &http.Client{Timeout: timeout},
		log:    log.Named("webhook-sink"),
	}
}

// Emit marshals event to JSON, signs the body, and POSTs it to the
// configured webhook URL. The following headers are set on every request:
//
//	Content-Type:          application/json
//	X-Fieldsync-Event:     <event.Type>
//	X-Hub-Signature-256:   sha256=<hex-encoded HMAC-SHA256>
func (s *WebhookSink) Emit(ctx context.Context, event domain.SyncEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.log.Warn("marshal event", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		s.log.Warn("create request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Fieldsync-Event", string(event.Type))
	req.Header.Set("X-Hub-Signature-256", "sha256="+s.sign(payload))

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn("send webhook", zap.Error(err))
		return
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.log.Warn("webhook rejected event", zap.Int("status", resp.StatusCode), zap.String("type", string(event.Type)))
	}
}

// sign returns the lowercase hex-encoded HMAC-SHA256 of payload using s.secret.
func (s *WebhookSink) sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
