package usecase

import (
	"encoding/base64"

	"go.uber.org/zap"

	"github.com/agritrace/fieldsync/internal/core/domain"
	"github.com/agritrace/fieldsync/internal/core/ports"
)

// ServiceDeps bundles the collaborators every entity service shares. Built
// once during wiring; services additionally receive their own cache table.
type ServiceDeps struct {
	API        ports.RemoteClient
	Queue      ports.PendingQueue
	Dispatcher *SyncDispatcher
	Resolver   *IdentityResolver
	Codes      *CodeGenerator
	Schemas    *PayloadSchemas
	Watermarks ports.WatermarkStore
	Poller     *DeltaPoller
	Sink       ports.SyncEventSink
	Ctx        *SyncContext
	Logger     *zap.Logger
}

func payloadString(p domain.Payload, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func documentsToPayload(docs []domain.Document) []any {
	out := make([]any, 0, len(docs))
	for _, doc := range docs {
		out = append(out, map[string]any{
			"name":     doc.Name,
			"mimeType": doc.MimeType,
			"content":  doc.Content,
		})
	}
	return out
}

// documentsFromPayload tolerates both the in-memory shape (fresh enqueue)
// and the JSON round-tripped shape (read back from the queue table, where
// content arrives base64-encoded).
func documentsFromPayload(v any) []domain.Document {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	docs := make([]domain.Document, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		doc := domain.Document{
			Name:     stringValue(entry["name"]),
			MimeType: stringValue(entry["mimeType"]),
		}
		switch content := entry["content"].(type) {
		case []byte:
			doc.Content = content
		case string:
			if decoded, err := base64.StdEncoding.DecodeString(content); err == nil {
				doc.Content = decoded
			}
		}
		docs = append(docs, doc)
	}
	return docs
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func productsFromPayload(v any) []domain.Product {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	products := make([]domain.Product, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		p := domain.Product{
			Name: stringValue(entry["name"]),
			Unit: stringValue(entry["unit"]),
		}
		if q, ok := entry["quantity"].(float64); ok {
			p.Quantity = q
		}
		products = append(products, p)
	}
	return products
}

func productsToPayload(products []domain.Product) []any {
	out := make([]any, 0, len(products))
	for _, p := range products {
		out = append(out, map[string]any{
			"name":     p.Name,
			"quantity": p.Quantity,
			"unit":     p.Unit,
		})
	}
	return out
}
