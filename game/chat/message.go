package chat

import (
	"context"

	"github.com/kasuganosora/realmcore/bus"
	"github.com/kasuganosora/realmcore/game/player"
	"go.uber.org/zap"
)

// Type discriminates chat messages on the bus.
type Type string

const (
	TypeAnnounce      Type = "announce"
	TypeInfo          Type = "info"
	TypeTell          Type = "tell"
	TypeInvite        Type = "invite"
	TypeGuild         Type = "guild"
	TypeGuildAnnounce Type = "guild_announce"
)

// Message is a chat line on the bus. Inst is the id of the process that
// sent it; ObjID is only meaningful inside that process.
type Message struct {
	Type     Type   `json:"type"`
	Inst     string `json:"inst"`
	ObjID    int32  `json:"obj_id"`
	Stars    int    `json:"stars"`
	Admin    bool   `json:"admin"`
	From     int64  `json:"from"`
	FromName string `json:"from_name"`
	To       int64  `json:"to"`
	ToName   string `json:"to_name"`
	Text     string `json:"text"`
	SrcIP    string `json:"src_ip,omitempty"`
	Hidden   bool   `json:"hidden,omitempty"`
}

// objID returns the speaker's object id as seen by this process.
func (m *Manager) objID(msg *Message) int32 {
	if msg.Inst == m.inst {
		return msg.ObjID
	}
	return player.NoObject
}

// inWorld returns the local sessions that have a character in the game.
func (m *Manager) inWorld() []*player.PlayerSession {
	all := m.sessions.All()
	out := all[:0]
	for _, s := range all {
		if s.Character() != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m *Manager) handleChat(_ context.Context, msg *Message) {
	switch msg.Type {
	case TypeAnnounce:
		m.deliverAnnounce(msg.Text)

	case TypeInfo:
		if s := m.sessions.Get(msg.To); s != nil {
			s.SendInfo(msg.Text)
		}

	case TypeInvite:
		for _, s := range m.inWorld() {
			acc := s.Account()
			if acc.ID != msg.To || acc.Ignores(msg.From) {
				continue
			}
			s.SendInvite(msg.FromName, msg.Text, int(msg.ObjID))
		}

	case TypeTell:
		// The recipient always gets the line. The sender's echo only goes
		// to the session it was typed on.
		line := player.Text{
			Name:      msg.FromName,
			ObjectID:  m.objID(msg),
			Stars:     msg.Stars,
			Recipient: msg.ToName,
			Text:      msg.Text,
			CleanText: msg.Text,
		}
		if msg.Admin {
			line.NameColor, line.TextColor = 0xF2CA46, 0xD4AF37
		}
		for _, s := range m.inWorld() {
			acc := s.Account()
			if acc.Ignores(msg.From) {
				continue
			}
			if acc.ID == msg.To || acc.ID == msg.From && s.IP == msg.SrcIP {
				s.SendText(line)
			}
		}

	case TypeGuild:
		line := player.Text{
			Name:      msg.FromName,
			ObjectID:  m.objID(msg),
			Stars:     msg.Stars,
			Recipient: "*Guild*",
			Text:      msg.Text,
			CleanText: msg.Text,
		}
		for _, s := range m.inWorld() {
			acc := s.Account()
			if acc.GuildID <= 0 || acc.GuildID != msg.To || acc.Ignores(msg.From) {
				continue
			}
			s.SendText(line)
		}

	case TypeGuildAnnounce:
		line := player.Text{
			ObjectID:  player.NoObject,
			Stars:     -1,
			Recipient: "*Guild*",
			Text:      msg.Text,
			CleanText: msg.Text,
		}
		for _, s := range m.inWorld() {
			acc := s.Account()
			if acc.GuildID <= 0 || acc.GuildID != msg.To {
				continue
			}
			if msg.Hidden && !acc.Admin {
				continue
			}
			s.SendText(line)
		}

	default:
		m.logger.Warn("unknown chat message", zap.String("type", string(msg.Type)))
	}
}

func (m *Manager) deliverAnnounce(text string) {
	line := player.Text{Name: "@Announcement", ObjectID: player.NoObject, Stars: -1, Text: text, CleanText: text}
	for _, s := range m.inWorld() {
		s.SendText(line)
	}
}

func (m *Manager) handleNetwork(ctx context.Context, msg *bus.NetworkMsg) {
	if msg.Info.Instance == m.inst || msg.Info.Type != bus.ServerWorld {
		return
	}
	switch msg.Code {
	case bus.NetworkJoin:
		m.Announce(ctx, "A new server has come online: "+msg.Info.Name, true)
	case bus.NetworkLeave:
		m.Announce(ctx, "Server, "+msg.Info.Name+", is no longer online.", true)
	}
}
