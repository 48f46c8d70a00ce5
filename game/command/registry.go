// Package command parses and runs the slash commands any player may use.
package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kasuganosora/realmcore/game/chat"
	"github.com/kasuganosora/realmcore/game/player"
	"github.com/kasuganosora/realmcore/game/trade"
	"github.com/kasuganosora/realmcore/game/world"
	"github.com/kasuganosora/realmcore/ledger"
	"github.com/kasuganosora/realmcore/store"
	"go.uber.org/zap"
)

// UserError is a failure the player caused. Msg is shown to them as is.
type UserError struct {
	Msg  string
	Info bool // shown as a notice rather than an error
}

func (e *UserError) Error() string { return e.Msg }

func userErr(format string, args ...interface{}) error {
	return &UserError{Msg: fmt.Sprintf(format, args...)}
}

func notice(msg string) error { return &UserError{Msg: msg, Info: true} }

// Func runs a command for p with everything after the command name.
type Func func(ctx context.Context, p *world.Player, args string) error

type command struct {
	name    string
	aliases []string
	run     Func
}

// Deps are the services commands act on.
type Deps struct {
	Store      *store.Store
	Ledger     *ledger.Ledger
	Trade      *trade.Service
	Chat       *chat.Manager
	Sessions   *player.SessionManager
	ServerName string
}

// Registry maps command names and aliases to commands.
type Registry struct {
	deps   Deps
	cmds   map[string]*command
	names  []string
	logger *zap.Logger
}

// NewRegistry creates a Registry with every built-in command.
func NewRegistry(deps Deps, logger *zap.Logger) *Registry {
	r := &Registry{deps: deps, cmds: make(map[string]*command), logger: logger}
	r.Register("help", r.help)
	r.Register("commands", r.list)
	r.Register("who", r.who)
	r.Register("world", r.world)
	r.Register("pos", r.pos, "position")
	r.Register("uptime", r.uptime)
	r.Register("tp", r.teleport, "teleport")
	r.Register("trade", r.trade)
	r.Register("tell", r.tell, "t")
	r.Register("g", r.guildChat, "guild")
	r.Register("ignore", r.ignore, "block")
	r.Register("unignore", r.unignore, "unblock")
	r.Register("lock", r.lock)
	r.Register("unlock", r.unlock)
	r.Register("gcreate", r.createGuild)
	r.Register("invite", r.guildInvite, "ginvite")
	r.Register("join", r.joinGuild)
	r.Register("gkick", r.guildKick)
	r.Register("gwho", r.guildWho, "mates")
	r.Register("glevel", r.guildLevel)
	r.Register("gboard", r.guildBoard)
	return r
}

// Register adds a command. Later registrations replace earlier ones.
func (r *Registry) Register(name string, fn Func, aliases ...string) {
	c := &command{name: name, aliases: aliases, run: fn}
	if _, ok := r.cmds[name]; !ok {
		r.names = append(r.names, name)
		sort.Strings(r.names)
	}
	r.cmds[name] = c
	for _, a := range aliases {
		r.cmds[a] = c
	}
}

// Names returns the primary command names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Execute runs a "/name args" line for p. It reports whether the line was
// a known command. Failures are reported to the player.
func (r *Registry) Execute(ctx context.Context, p *world.Player, line string) bool {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return false
	}
	name, args, _ := strings.Cut(line[1:], " ")
	c, ok := r.cmds[strings.ToLower(name)]
	if !ok {
		p.Session.SendError("Unknown command!")
		return false
	}

	err := c.run(ctx, p, strings.TrimSpace(args))
	var ue *UserError
	switch {
	case err == nil:
	case errors.As(err, &ue):
		if ue.Info {
			p.Session.SendInfo(ue.Msg)
		} else {
			p.Session.SendError(ue.Msg)
		}
	case errors.Is(err, ledger.ErrConflict), errors.Is(err, store.ErrConflict):
		p.Session.SendError("Someone else changed that at the same time. Try again.")
	default:
		r.logger.Error("command failed",
			zap.String("command", c.name),
			zap.Int64("account_id", p.AccountID()),
			zap.Error(err))
		p.Session.SendError("Something went wrong. Try again later.")
	}
	return true
}
