package bus

import "context"

type Message struct {
	Key   []byte
	Value []byte
}

// Publisher emits administrative events to an external broker for
// downstream consumers (SIEM pipelines, replica dashboards).
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

type Consumer interface {
	ReadMessage(ctx context.Context) (Message, error)
	Close() error
}
