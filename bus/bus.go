// Package bus defines the broadcast channel boundary: a best-effort
// publish/subscribe transport connecting every process that shares a
// store name. Delivery is unordered across processes and may be lossy;
// consumers must treat notifications as hints, never as state.
package bus

import "context"

// Handler consumes one inbound message. It is invoked from the transport's
// delivery goroutine and should return quickly.
type Handler func(payload []byte)

// Subscription is a live topic subscription.
type Subscription interface {
	// Close cancels the subscription and stops handler invocations.
	// Safe to call more than once.
	Close() error
}

// Bus is a best-effort broadcast transport. Must be safe for concurrent
// use.
type Bus interface {
	// Publish sends payload to every current subscriber of topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers h for topic until the subscription is closed.
	Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error)

	// Close tears down the transport and all subscriptions.
	Close(ctx context.Context) error
}
