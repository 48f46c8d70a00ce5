package hook

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// ErrInterrupt is returned by a handler to veto the action behind an event.
var ErrInterrupt = errors.New("hook interrupted")

// HookFn handles one event. It returns the payload to hand to the next
// handler, or ErrInterrupt.
type HookFn func(ctx context.Context, event string, data interface{}) (interface{}, error)

type hookEntry struct {
	priority int
	fn       HookFn
	name     string
}

// HookCenter is the plugin extension point of the game server: chat,
// trading and the session lifecycle fire named events through it.
type HookCenter struct {
	mu    sync.RWMutex
	hooks map[string][]*hookEntry
}

// NewHookCenter creates a new HookCenter.
func NewHookCenter() *HookCenter {
	return &HookCenter{hooks: make(map[string][]*hookEntry)}
}

// Register adds fn under a plugin name. Lower priorities run first; equal
// priorities keep registration order.
func (hc *HookCenter) Register(event string, priority int, name string, fn HookFn) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	entries := hc.hooks[event]
	entries = append(entries, &hookEntry{priority: priority, fn: fn, name: name})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority < entries[j].priority
	})
	hc.hooks[event] = entries
}

// Unregister drops the plugin's handlers for one event.
func (hc *HookCenter) Unregister(event, name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	entries := hc.hooks[event]
	n := 0
	for _, e := range entries {
		if e.name != name {
			entries[n] = e
			n++
		}
	}
	hc.hooks[event] = entries[:n]
}

// UnregisterAll unloads a plugin.
func (hc *HookCenter) UnregisterAll(name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	for event, entries := range hc.hooks {
		n := 0
		for _, e := range entries {
			if e.name != name {
				entries[n] = e
				n++
			}
		}
		hc.hooks[event] = entries[:n]
	}
}

// Trigger runs the handlers registered for event, lowest priority first,
// passing each one the value returned by the previous handler.
//
// ErrInterrupt stops the chain and is returned as is. Any other error, a
// panic, or a handler returning a value of a different type than the
// payload is recorded and the chain continues with the last good value;
// the recorded errors come back joined so the caller can log them.
func (hc *HookCenter) Trigger(ctx context.Context, event string, data interface{}) (interface{}, error) {
	hc.mu.RLock()
	entries := make([]*hookEntry, len(hc.hooks[event]))
	copy(entries, hc.hooks[event])
	hc.mu.RUnlock()

	want := reflect.TypeOf(data)
	var errs []error
	for _, e := range entries {
		out, err := call(ctx, e, event, data)
		if errors.Is(err, ErrInterrupt) {
			return data, err
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("hook %s/%s: %w", event, e.name, err))
			continue
		}
		if reflect.TypeOf(out) != want {
			errs = append(errs, fmt.Errorf("hook %s/%s: returned %T, want %v", event, e.name, out, want))
			continue
		}
		data = out
	}
	return data, errors.Join(errs...)
}

func call(ctx context.Context, e *hookEntry, event string, data interface{}) (out interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.fn(ctx, event, data)
}

// ---- Hook event names ----

// Each event carries one payload type. Handlers return the same pointer
// (possibly modified) or ErrInterrupt where the event allows a veto.
//
//	OnChatSend         *ChatLine, before channel routing. Rewriting Text
//	                   changes what every recipient sees; ErrInterrupt
//	                   drops the line silently.
//	BeforeTradeCommit  *TradeOffer, after both sides accepted and before
//	                   any item moves. ErrInterrupt cancels the trade for
//	                   both players. Runs under the trade lock.
//	OnPlayerLogin      *model.Account, once the character has spawned.
//	OnPlayerLogout     *model.Account, before the final character save.
//	OnWorldEnter       *world.Player, on login and after every realm or
//	                   dungeon transfer.
//
// Login, logout and world entry are notifications; ErrInterrupt there
// only stops later handlers.
const (
	OnChatSend        = "on_chat_send"
	BeforeTradeCommit = "before_trade_commit"
	OnPlayerLogin     = "on_player_login"
	OnPlayerLogout    = "on_player_logout"
	OnWorldEnter      = "on_world_enter"
)

// ChatLine is a message on its way to a channel.
type ChatLine struct {
	AccountID int64
	Channel   string
	Text      string
	Emotes    []string // exclusive emotes the sender owns
}

// TradeOffer is one side's view of a trade about to commit: Given leaves
// AccountID's inventory and Received arrives from CounterpartID. Item
// types are catalog object types.
type TradeOffer struct {
	AccountID     int64
	CounterpartID int64
	Given         []uint16
	Received      []uint16
}
