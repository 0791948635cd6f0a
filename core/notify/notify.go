// Package notify provides ambient, post-commit change notification. It sits
// strictly outside the synchronous request->SQL pipeline: the batch
// orchestrator calls Notify only after its transaction has committed,
// fire-and-forget, so a notifier outage never affects the gateway's
// transactional guarantees (spec §5 non-goals: no asynchronous execution
// inside the core pipeline itself). Single-operation requests handled by the
// service pipeline outside a batch are not notified.
package notify

import (
	"context"

	"github.com/apifoundry/gateway/core"
	"github.com/apifoundry/gateway/core/logger"
)

// Notifier receives one notification per committed write operation of a
// batch.
type Notifier interface {
	Notify(ctx context.Context, entity string, action core.Action, payload []byte)
}

// NopNotifier discards every notification. It is the default when no notifier
// is configured.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, string, core.Action, []byte) {}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

// Notify implements Notifier. Each sub-notifier is called via safeNotify, so a
// panic in one never prevents the rest from receiving the notification.
func (m Multi) Notify(ctx context.Context, entity string, action core.Action, payload []byte) {
	for _, n := range m {
		safeNotify(ctx, n, entity, action, payload)
	}
}

// safeNotify recovers from a notifier panic so an ambient-notification bug can
// never take down a request that already committed successfully.
func safeNotify(ctx context.Context, n Notifier, entity string, action core.Action, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).Errorf("notifier panic for %s/%s: %v", entity, action, r)
		}
	}()
	n.Notify(ctx, entity, action, payload)
}
