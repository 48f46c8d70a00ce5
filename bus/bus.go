// Package bus is the inter-server message bus. Every world-server process
// publishes typed messages on named channels and subscribes once per
// channel; delivery is at-least-once with no ordering across processes.
package bus

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
)

// Channels.
const (
	ChannelChat    = "chat"
	ChannelNetwork = "network"
)

// ErrClosed is returned by a closed bus.
var ErrClosed = errors.New("bus closed")

// Handler receives the raw payload of one message.
type Handler func(ctx context.Context, data []byte)

// Bus publishes and subscribes JSON messages.
type Bus interface {
	// Publish encodes msg as JSON and sends it on channel.
	Publish(ctx context.Context, channel string, msg any) error
	// Subscribe calls h for every message on channel until the returned
	// cancel func is called.
	Subscribe(ctx context.Context, channel string, h Handler) (cancel func(), err error)
	Close() error
}

// On subscribes a typed handler. Payloads that do not decode into T are
// logged and skipped.
func On[T any](ctx context.Context, b Bus, channel string, logger *zap.Logger, fn func(ctx context.Context, msg *T)) (func(), error) {
	return b.Subscribe(ctx, channel, func(ctx context.Context, data []byte) {
		var msg T
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn("bus: bad payload", zap.String("channel", channel), zap.Error(err))
			return
		}
		fn(ctx, &msg)
	})
}

// ServerType tells world servers from auxiliary processes.
type ServerType string

const (
	ServerWorld   ServerType = "world"
	ServerAccount ServerType = "account"
)

// Network message codes.
const (
	NetworkJoin  = "join"
	NetworkLeave = "leave"
)

// ServerInfo describes a process on the bus.
type ServerInfo struct {
	Instance string     `json:"instance"`
	Name     string     `json:"name"`
	Type     ServerType `json:"type"`
}

// NetworkMsg announces a process joining or leaving the network.
type NetworkMsg struct {
	Code string     `json:"code"`
	Info ServerInfo `json:"info"`
}
