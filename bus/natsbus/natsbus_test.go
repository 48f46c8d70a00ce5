package natsbus

import (
	"context"
	"testing"
	"time"

	"github.com/kasuganosora/realmcore/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	srv, err := StartServer("127.0.0.1", -1, 5*time.Second, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)
	return srv
}

func connect(t *testing.T, srv *Server, prefix string) *Bus {
	t.Helper()
	b, err := Connect(srv.ClientURL(), prefix, t.Name(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBus_PublishSubscribe(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()
	pub := connect(t, srv, "realm")
	sub := connect(t, srv, "realm")

	got := make(chan *bus.NetworkMsg, 1)
	cancel, err := bus.On(ctx, sub, bus.ChannelNetwork, zap.NewNop(), func(_ context.Context, m *bus.NetworkMsg) {
		got <- m
	})
	require.NoError(t, err)
	defer cancel()

	msg := bus.NetworkMsg{Code: bus.NetworkJoin, Info: bus.ServerInfo{Instance: "i-1", Name: "Medusa", Type: bus.ServerWorld}}
	require.NoError(t, pub.Publish(ctx, bus.ChannelNetwork, msg))

	select {
	case m := <-got:
		assert.Equal(t, msg, *m)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestBus_PrefixIsolatesNetworks(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()
	live := connect(t, srv, "live")
	test := connect(t, srv, "test")

	got := make(chan []byte, 1)
	_, err := test.Subscribe(ctx, bus.ChannelChat, func(_ context.Context, data []byte) { got <- data })
	require.NoError(t, err)

	require.NoError(t, live.Publish(ctx, bus.ChannelChat, "hello"))
	select {
	case <-got:
		t.Fatal("message crossed prefixes")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_Closed(t *testing.T) {
	srv := startServer(t)
	b, err := Connect(srv.ClientURL(), "", "closed", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(context.Background(), bus.ChannelChat, 1), bus.ErrClosed)
	_, err = b.Subscribe(context.Background(), bus.ChannelChat, func(context.Context, []byte) {})
	assert.ErrorIs(t, err, bus.ErrClosed)
}
