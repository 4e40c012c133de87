package bus

import (
	"context"
	"encoding/json"

	"rolegate/pkg/models"
)

// AuditRecorder mirrors audit entries onto the event bus so external
// pipelines receive the same trail the panel shows.
type AuditRecorder struct {
	pub Publisher
}

func NewAuditRecorder(pub Publisher) *AuditRecorder {
	return &AuditRecorder{pub: pub}
}

func (r *AuditRecorder) Record(ctx context.Context, entry models.AuditLogEntry) error {
	if r == nil || r.pub == nil {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return r.pub.Publish(ctx, Message{Key: []byte(entry.ID), Value: payload})
}
