package hook

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrigger_NoHandlers(t *testing.T) {
	hc := NewHookCenter()
	line := &ChatLine{Text: "hello"}
	out, err := hc.Trigger(context.Background(), OnChatSend, line)
	require.NoError(t, err)
	assert.Same(t, line, out)
}

func TestTrigger_ChatLineFlowsThroughHandlers(t *testing.T) {
	hc := NewHookCenter()
	hc.Register(OnChatSend, 10, "shout", func(_ context.Context, event string, data interface{}) (interface{}, error) {
		assert.Equal(t, OnChatSend, event)
		l := data.(*ChatLine)
		l.Text = strings.ToUpper(l.Text)
		return l, nil
	})
	hc.Register(OnChatSend, 0, "censor", func(_ context.Context, _ string, data interface{}) (interface{}, error) {
		l := data.(*ChatLine)
		l.Text = strings.ReplaceAll(l.Text, "darn", "****")
		return l, nil
	})

	out, err := hc.Trigger(context.Background(), OnChatSend, &ChatLine{AccountID: 7, Channel: "say", Text: "darn it"})
	require.NoError(t, err)
	assert.Equal(t, "**** IT", out.(*ChatLine).Text, "lower priority runs first")
}

func TestTrigger_PriorityOrder(t *testing.T) {
	hc := NewHookCenter()
	var order []string
	for _, h := range []struct {
		name     string
		priority int
	}{{"audit", 10}, {"limits", 1}, {"filter", 5}} {
		name := h.name
		hc.Register(BeforeTradeCommit, h.priority, name, func(_ context.Context, _ string, d interface{}) (interface{}, error) {
			order = append(order, name)
			return d, nil
		})
	}
	_, err := hc.Trigger(context.Background(), BeforeTradeCommit, &TradeOffer{})
	require.NoError(t, err)
	assert.Equal(t, []string{"limits", "filter", "audit"}, order)
}

func TestTrigger_InterruptVetoesTrade(t *testing.T) {
	hc := NewHookCenter()
	var audited bool
	hc.Register(BeforeTradeCommit, 0, "no-gifts", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		if o := d.(*TradeOffer); len(o.Received) == 0 {
			return d, ErrInterrupt
		}
		return d, nil
	})
	hc.Register(BeforeTradeCommit, 1, "audit", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		audited = true
		return d, nil
	})

	_, err := hc.Trigger(context.Background(), BeforeTradeCommit, &TradeOffer{AccountID: 1, CounterpartID: 2, Given: []uint16{0x0A00}})
	assert.ErrorIs(t, err, ErrInterrupt)
	assert.False(t, audited, "handlers after an interrupt do not run")

	_, err = hc.Trigger(context.Background(), BeforeTradeCommit, &TradeOffer{Given: []uint16{0x0A00}, Received: []uint16{0x0A01}})
	require.NoError(t, err)
	assert.True(t, audited)
}

func TestTrigger_OtherErrorsContinue(t *testing.T) {
	hc := NewHookCenter()
	var second bool
	hc.Register(OnPlayerLogin, 0, "flaky", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		return d, errors.New("metrics backend down")
	})
	hc.Register(OnPlayerLogin, 1, "greeter", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		second = true
		return d, nil
	})
	_, err := hc.Trigger(context.Background(), OnPlayerLogin, nil)
	assert.ErrorContains(t, err, "on_player_login/flaky: metrics backend down")
	assert.NotErrorIs(t, err, ErrInterrupt)
	assert.True(t, second)
}

func TestTrigger_BadHandlerKeepsPayload(t *testing.T) {
	hc := NewHookCenter()
	hc.Register(OnChatSend, 0, "crashy", func(context.Context, string, interface{}) (interface{}, error) {
		panic("nil map")
	})
	hc.Register(OnChatSend, 1, "wrong-type", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		return d.(*ChatLine).Text, nil
	})
	hc.Register(OnChatSend, 2, "dropper", func(context.Context, string, interface{}) (interface{}, error) {
		return nil, nil
	})
	hc.Register(OnChatSend, 3, "shout", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		l := d.(*ChatLine)
		l.Text += "!"
		return l, nil
	})

	line := &ChatLine{Text: "hi"}
	out, err := hc.Trigger(context.Background(), OnChatSend, line)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crashy: panic: nil map")
	assert.Contains(t, err.Error(), "wrong-type: returned string")
	assert.Contains(t, err.Error(), "dropper: returned <nil>")
	assert.Same(t, line, out)
	assert.Equal(t, "hi!", line.Text)
}

func TestRegister_EqualPriorityKeepsOrder(t *testing.T) {
	hc := NewHookCenter()
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		hc.Register(OnWorldEnter, 5, name, func(_ context.Context, _ string, d interface{}) (interface{}, error) {
			order = append(order, name)
			return d, nil
		})
	}
	_, err := hc.Trigger(context.Background(), OnWorldEnter, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestUnregister(t *testing.T) {
	hc := NewHookCenter()
	var a, b bool
	hc.Register(OnWorldEnter, 0, "a", func(_ context.Context, _ string, d interface{}) (interface{}, error) { a = true; return d, nil })
	hc.Register(OnWorldEnter, 1, "b", func(_ context.Context, _ string, d interface{}) (interface{}, error) { b = true; return d, nil })

	hc.Unregister(OnWorldEnter, "a")
	_, _ = hc.Trigger(context.Background(), OnWorldEnter, nil)
	assert.False(t, a)
	assert.True(t, b)
}

func TestUnregisterAll_RemovesPluginEverywhere(t *testing.T) {
	hc := NewHookCenter()
	calls := map[string]int{}
	hook := func(name string) HookFn {
		return func(_ context.Context, event string, d interface{}) (interface{}, error) {
			calls[name+":"+event]++
			return d, nil
		}
	}
	hc.Register(OnPlayerLogin, 0, "plugin", hook("plugin"))
	hc.Register(OnPlayerLogout, 0, "plugin", hook("plugin"))
	hc.Register(OnPlayerLogout, 1, "core", hook("core"))

	hc.UnregisterAll("plugin")
	for _, ev := range []string{OnPlayerLogin, OnPlayerLogout} {
		_, _ = hc.Trigger(context.Background(), ev, nil)
	}
	assert.Equal(t, map[string]int{"core:" + OnPlayerLogout: 1}, calls)
}
