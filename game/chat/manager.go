// Package chat delivers chat across world-server processes. Outgoing lines
// are published on the bus; every process fans inbound lines out to its own
// sessions.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/kasuganosora/realmcore/bus"
	"github.com/kasuganosora/realmcore/game/player"
	"github.com/kasuganosora/realmcore/game/world"
	"github.com/kasuganosora/realmcore/model"
	"github.com/kasuganosora/realmcore/plugin/hook"
	"go.uber.org/zap"
)

const maxMsgLen = 256

var (
	ErrTargetNotFound = errors.New("chat target not found")
	ErrRateLimited    = errors.New("chat rate limited")
	ErrMuted          = errors.New("muted")
	ErrNoGuild        = errors.New("not in a guild")
	ErrTooLong        = errors.New("message too long")
)

// exclusiveEmotes may only be used by accounts that unlocked them.
var exclusiveEmotes = []string{":whitebag:", ":bluebag:", ":cyanbag:", ":rip:", ":pbag:"}

// Directory resolves accounts by name and id.
type Directory interface {
	ResolveID(ctx context.Context, name string) (int64, error)
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	IsMuted(ctx context.Context, ip string) (bool, error)
}

// Presence reports whether an account is online anywhere on the network.
type Presence interface {
	Exists(ctx context.Context, accountID int64) (bool, error)
}

// Manager publishes chat for local senders and delivers inbound chat to
// local sessions.
type Manager struct {
	inst     string
	name     string
	bus      bus.Bus
	sessions *player.SessionManager
	worlds   *world.Manager
	dir      Directory
	presence Presence
	hooks    *hook.HookCenter
	logger   *zap.Logger

	mu      sync.Mutex
	cancels []func()
}

// NewManager creates a Manager for the server called name. Every Manager
// gets a fresh instance id.
func NewManager(name string, b bus.Bus, sm *player.SessionManager, wm *world.Manager,
	dir Directory, presence Presence, hooks *hook.HookCenter, logger *zap.Logger) *Manager {
	if hooks == nil {
		hooks = hook.NewHookCenter()
	}
	m := &Manager{
		inst:     uuid.NewString(),
		name:     name,
		bus:      b,
		sessions: sm,
		worlds:   wm,
		dir:      dir,
		presence: presence,
		hooks:    hooks,
		logger:   logger,
	}
	hooks.Register(hook.OnChatSend, 0, "exclusive-emotes", filterEmotes)
	return m
}

// Instance returns this process's instance id.
func (m *Manager) Instance() string { return m.inst }

// Start subscribes to the chat and network channels and announces this
// server to the others.
func (m *Manager) Start(ctx context.Context) error {
	chat, err := bus.On(ctx, m.bus, bus.ChannelChat, m.logger, m.handleChat)
	if err != nil {
		return err
	}
	network, err := bus.On(ctx, m.bus, bus.ChannelNetwork, m.logger, m.handleNetwork)
	if err != nil {
		chat()
		return err
	}
	m.mu.Lock()
	m.cancels = append(m.cancels, chat, network)
	m.mu.Unlock()

	m.publish(ctx, bus.ChannelNetwork, bus.NetworkMsg{
		Code: bus.NetworkJoin,
		Info: bus.ServerInfo{Instance: m.inst, Name: m.name, Type: bus.ServerWorld},
	})
	return nil
}

// Stop tells the network this server is leaving and unsubscribes.
func (m *Manager) Stop(ctx context.Context) {
	m.publish(ctx, bus.ChannelNetwork, bus.NetworkMsg{
		Code: bus.NetworkLeave,
		Info: bus.ServerInfo{Instance: m.inst, Name: m.name, Type: bus.ServerWorld},
	})
	m.mu.Lock()
	cancels := m.cancels
	m.cancels = nil
	m.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

func (m *Manager) publish(ctx context.Context, channel string, msg any) {
	if err := m.bus.Publish(ctx, channel, msg); err != nil {
		m.logger.Error("chat publish failed", zap.String("channel", channel), zap.Error(err))
	}
}

// ---- Outgoing ----

// Say speaks to everyone in the sender's world.
func (m *Manager) Say(ctx context.Context, p *world.Player, text string) error {
	s := p.Session
	text, err := m.prepare(ctx, s, "say", text)
	if err != nil || text == "" {
		return err
	}
	w := p.Entity.World()
	if w == nil {
		return nil
	}
	acc := s.Account()
	nameColor, textColor := 0xEBEBEB, 0xB0B0B0
	if acc.Admin {
		nameColor, textColor = 0xF2CA46, 0xD4AF37
	}
	line := player.Text{
		Name:       p.Name(),
		ObjectID:   p.Entity.ID,
		Stars:      acc.Rank,
		BubbleTime: 5,
		Text:       text,
		CleanText:  text,
		NameColor:  nameColor,
		TextColor:  textColor,
	}
	for _, other := range w.Players() {
		other.Session.SendText(line)
	}
	return nil
}

// Announce sends a server-wide announcement. A local announcement only
// reaches this process's players.
func (m *Manager) Announce(ctx context.Context, text string, local bool) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if local {
		m.deliverAnnounce(text)
		return
	}
	m.publish(ctx, bus.ChannelChat, &Message{Type: TypeAnnounce, Inst: m.inst, Text: text})
}

// Info sends a server notice to one account wherever it is connected.
func (m *Manager) Info(ctx context.Context, accountID int64, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	m.publish(ctx, bus.ChannelChat, &Message{Type: TypeInfo, Inst: m.inst, To: accountID, Text: text})
}

// Tell sends a private message to the online account called target.
func (m *Manager) Tell(ctx context.Context, s *player.PlayerSession, target, text string) error {
	text, err := m.prepare(ctx, s, "tell", text)
	if err != nil || text == "" {
		return err
	}
	to, err := m.online(ctx, s, target)
	if err != nil {
		return err
	}
	acc := s.Account()
	m.publish(ctx, bus.ChannelChat, &Message{
		Type:     TypeTell,
		Inst:     m.inst,
		ObjID:    m.objectID(s.AccountID),
		Stars:    acc.Rank,
		Admin:    acc.Admin,
		From:     s.AccountID,
		FromName: acc.Name,
		To:       to.ID,
		ToName:   to.Name,
		Text:     text,
		SrcIP:    s.IP,
	})
	return nil
}

// Invite asks the online account called target to join a world.
func (m *Manager) Invite(ctx context.Context, s *player.PlayerSession, target, worldName string, worldID int) error {
	to, err := m.online(ctx, s, target)
	if err != nil {
		return err
	}
	m.publish(ctx, bus.ChannelChat, &Message{
		Type:     TypeInvite,
		Inst:     m.inst,
		ObjID:    int32(worldID),
		From:     s.AccountID,
		FromName: s.Name(),
		To:       to.ID,
		ToName:   to.Name,
		Text:     worldName,
	})
	return nil
}

// Guild sends a line to the sender's guild. announce marks it as a guild
// announcement.
func (m *Manager) Guild(ctx context.Context, s *player.PlayerSession, text string, announce bool) error {
	acc := s.Account()
	if acc.GuildID <= 0 {
		return ErrNoGuild
	}
	text, err := m.prepare(ctx, s, "guild", text)
	if err != nil || text == "" {
		return err
	}
	typ := TypeGuild
	if announce {
		typ = TypeGuildAnnounce
	}
	m.publish(ctx, bus.ChannelChat, &Message{
		Type:     typ,
		Inst:     m.inst,
		ObjID:    m.objectID(s.AccountID),
		Stars:    acc.Rank,
		Admin:    acc.Admin,
		From:     s.AccountID,
		FromName: acc.Name,
		To:       acc.GuildID,
		Text:     text,
	})
	return nil
}

// GuildAnnounce posts a system line to acc's guild, e.g. on membership
// changes. Lines about hidden accounts only reach admins.
func (m *Manager) GuildAnnounce(ctx context.Context, acc *model.Account, text string) {
	if strings.TrimSpace(text) == "" || acc.GuildID <= 0 {
		return
	}
	m.publish(ctx, bus.ChannelChat, &Message{
		Type:   TypeGuildAnnounce,
		Inst:   m.inst,
		ObjID:  player.NoObject,
		From:   acc.ID,
		To:     acc.GuildID,
		Text:   text,
		Hidden: acc.Hidden,
	})
}

// prepare applies the sender checks and the chat hooks. An empty result
// means the line was dropped.
func (m *Manager) prepare(ctx context.Context, s *player.PlayerSession, channel, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}
	if len([]rune(text)) > maxMsgLen {
		return "", ErrTooLong
	}
	if !s.AllowChat() {
		s.SendError("You are sending messages too fast.")
		return "", ErrRateLimited
	}
	if m.dir != nil {
		muted, err := m.dir.IsMuted(ctx, s.IP)
		if err != nil {
			return "", err
		}
		if muted {
			s.SendError("Muted. You can not talk at this time.")
			return "", ErrMuted
		}
	}

	line := &hook.ChatLine{AccountID: s.AccountID, Channel: channel, Text: text, Emotes: s.Account().Emotes}
	out, err := m.hooks.Trigger(ctx, hook.OnChatSend, line)
	if errors.Is(err, hook.ErrInterrupt) {
		return "", nil
	}
	if l, ok := out.(*hook.ChatLine); ok {
		line = l
	}
	return strings.TrimSpace(line.Text), nil
}

// online resolves target to an account that is connected somewhere and
// visible to s.
func (m *Manager) online(ctx context.Context, s *player.PlayerSession, target string) (*model.Account, error) {
	if m.dir == nil {
		return nil, ErrTargetNotFound
	}
	id, err := m.dir.ResolveID(ctx, target)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, ErrTargetNotFound
	}
	if m.presence != nil {
		on, err := m.presence.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !on {
			return nil, ErrTargetNotFound
		}
	}
	acc, err := m.dir.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if acc == nil || acc.Hidden && !s.Account().Admin {
		return nil, ErrTargetNotFound
	}
	return acc, nil
}

// objectID is the sender's entity id in its local world.
func (m *Manager) objectID(accountID int64) int32 {
	if m.worlds == nil {
		return player.NoObject
	}
	if p := m.worlds.FindPlayer(accountID); p != nil {
		return p.Entity.ID
	}
	return player.NoObject
}

// filterEmotes strips exclusive emotes the sender has not unlocked.
func filterEmotes(_ context.Context, _ string, data interface{}) (interface{}, error) {
	line, ok := data.(*hook.ChatLine)
	if !ok {
		return data, nil
	}
	words := strings.Split(line.Text, " ")
	out := words[:0]
	for _, w := range words {
		if isExclusive(w) && !contains(line.Emotes, w) {
			continue
		}
		out = append(out, w)
	}
	line.Text = strings.Join(out, " ")
	return line, nil
}

func isExclusive(word string) bool { return contains(exclusiveEmotes, word) }

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
