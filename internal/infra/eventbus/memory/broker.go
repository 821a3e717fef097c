// Package memory provides an in-memory implementation of the result and
// health messaging between agent pools and the orchestration layer. It is
// non-persistent by design; reports are handed to the caller once produced.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/ahrav/threatswarm/internal/domain/scanning"
)

type handlerList[T any] []func(T) error

// NodeHeartbeat reports liveness for a node in the swarm. A missed heartbeat
// window is how the coordinator learns a node dropped out.
type NodeHeartbeat struct {
	NodeID  string
	Healthy bool
}

// Broker provides in-memory pub/sub between agent pools and orchestrators.
// Pools publish task results as they finish; each orchestrator subscribes and
// filters for its own run.
type Broker struct {
	mu sync.RWMutex

	resultHandlers    handlerList[scanning.TaskResult]
	heartbeatHandlers handlerList[NodeHeartbeat]
}

// NewBroker creates and initializes a new in-memory broker with empty
// handler slices for each message type.
func NewBroker() *Broker {
	return &Broker{
		resultHandlers:    make(handlerList[scanning.TaskResult], 0),
		heartbeatHandlers: make(handlerList[NodeHeartbeat], 0),
	}
}

// subscribe is a generic helper function for handling all subscription types.
func subscribe[T any](ctx context.Context, mu *sync.RWMutex, handlers *handlerList[T], handler func(T) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	mu.Lock()
	handlerIndex := len(*handlers)
	*handlers = append(*handlers, handler)
	mu.Unlock()

	go func() {
		<-ctx.Done()
		mu.Lock()
		defer mu.Unlock()
		// Remove the handler at the stored index if it's still valid.
		if handlerIndex < len(*handlers) {
			*handlers = append((*handlers)[:handlerIndex], (*handlers)[handlerIndex+1:]...)
		}
	}()

	return nil
}

// publish is a generic helper function for handling all publish types.
func publish[T any](ctx context.Context, mu *sync.RWMutex, handlers *handlerList[T], msg T) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	mu.RLock()
	// Copy the handlers to avoid holding the lock while executing them.
	handlersCopy := make([]func(T) error, len(*handlers))
	copy(handlersCopy, *handlers)
	mu.RUnlock()

	for _, handler := range handlersCopy {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := handler(msg); err != nil {
			return err
		}
	}
	return nil
}

// PublishResult broadcasts a task result to all subscribed handlers, stopping
// at the first error.
func (b *Broker) PublishResult(ctx context.Context, result scanning.TaskResult) error {
	return publish(ctx, &b.mu, &b.resultHandlers, result)
}

// SubscribeResults registers a new handler function for processing task results.
// Multiple handlers can be registered and will all receive published results.
func (b *Broker) SubscribeResults(ctx context.Context, handler func(scanning.TaskResult) error) error {
	return subscribe(ctx, &b.mu, &b.resultHandlers, handler)
}

// PublishHeartbeat broadcasts a node heartbeat to all subscribed handlers.
func (b *Broker) PublishHeartbeat(ctx context.Context, hb NodeHeartbeat) error {
	return publish(ctx, &b.mu, &b.heartbeatHandlers, hb)
}

// SubscribeHeartbeats registers a new handler function for node heartbeats.
func (b *Broker) SubscribeHeartbeats(ctx context.Context, handler func(NodeHeartbeat) error) error {
	return subscribe(ctx, &b.mu, &b.heartbeatHandlers, handler)
}
