package command

import (
	"context"
	"errors"
	"strings"

	"github.com/kasuganosora/realmcore/game/chat"
	"github.com/kasuganosora/realmcore/game/world"
	"github.com/kasuganosora/realmcore/model"
)

func (r *Registry) tell(ctx context.Context, p *world.Player, args string) error {
	s := p.Session
	if !s.Account().NameChosen {
		return userErr("Choose a name!")
	}
	name, text, ok := strings.Cut(args, " ")
	if !ok || strings.TrimSpace(text) == "" {
		return userErr("Usage: /tell <player name> <text>")
	}
	if strings.EqualFold(name, p.Name()) {
		return notice("Quit telling yourself!")
	}
	err := r.deps.Chat.Tell(ctx, s, name, text)
	switch {
	case errors.Is(err, chat.ErrTargetNotFound):
		return userErr("%s not found.", name)
	case errors.Is(err, chat.ErrMuted), errors.Is(err, chat.ErrRateLimited):
		return nil
	case errors.Is(err, chat.ErrTooLong):
		return userErr("Message too long.")
	}
	return err
}

func (r *Registry) guildChat(ctx context.Context, p *world.Player, text string) error {
	s := p.Session
	if !s.Account().NameChosen {
		return userErr("Choose a name!")
	}
	err := r.deps.Chat.Guild(ctx, s, text, false)
	switch {
	case errors.Is(err, chat.ErrNoGuild):
		return userErr("You need to be in a guild to guild chat.")
	case errors.Is(err, chat.ErrMuted), errors.Is(err, chat.ErrRateLimited):
		return nil
	case errors.Is(err, chat.ErrTooLong):
		return userErr("Message too long.")
	}
	return err
}

// target resolves name to an account p is allowed to see.
func (r *Registry) target(ctx context.Context, p *world.Player, name string) (*model.Account, error) {
	id, err := r.deps.Store.ResolveID(ctx, name)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, userErr("Player not found.")
	}
	acc, err := r.deps.Store.GetAccount(ctx, id)
	if err != nil {
		return nil, userErr("Player not found.")
	}
	if acc.Hidden && !p.Session.Account().Admin {
		return nil, userErr("Player not found.")
	}
	return acc, nil
}

type listEdit struct {
	usage, self, done string
	apply             func(ctx context.Context, acc *model.Account, other int64) error
}

// editList runs a lock or ignore list change on a copy of the session's
// account and swaps the copy in once it is stored.
func (r *Registry) editList(ctx context.Context, p *world.Player, name string, e listEdit) error {
	if name == "" {
		return &UserError{Msg: e.usage}
	}
	if strings.EqualFold(name, p.Name()) {
		return notice(e.self)
	}
	target, err := r.target(ctx, p, name)
	if err != nil {
		return err
	}
	acc := *p.Session.Account()
	if err := e.apply(ctx, &acc, target.ID); err != nil {
		return err
	}
	p.Session.SetAccount(&acc)
	p.Session.SendInfo(name + e.done)
	return nil
}

func (r *Registry) ignore(ctx context.Context, p *world.Player, name string) error {
	return r.editList(ctx, p, name, listEdit{
		usage: "Usage: /ignore <player name>",
		self:  "Can't ignore yourself!",
		done:  " has been added to your ignore list.",
		apply: func(ctx context.Context, acc *model.Account, other int64) error {
			return r.deps.Store.IgnoreAccount(ctx, acc, other, true)
		},
	})
}

func (r *Registry) unignore(ctx context.Context, p *world.Player, name string) error {
	return r.editList(ctx, p, name, listEdit{
		usage: "Usage: /unignore <player name>",
		self:  "You are no longer ignoring yourself. Good job.",
		done:  " no longer ignored.",
		apply: func(ctx context.Context, acc *model.Account, other int64) error {
			return r.deps.Store.IgnoreAccount(ctx, acc, other, false)
		},
	})
}

func (r *Registry) lock(ctx context.Context, p *world.Player, name string) error {
	return r.editList(ctx, p, name, listEdit{
		usage: "Usage: /lock <player name>",
		self:  "Can't lock yourself!",
		done:  " has been locked.",
		apply: func(ctx context.Context, acc *model.Account, other int64) error {
			return r.deps.Store.LockAccount(ctx, acc, other, true)
		},
	})
}

func (r *Registry) unlock(ctx context.Context, p *world.Player, name string) error {
	return r.editList(ctx, p, name, listEdit{
		usage: "Usage: /unlock <player name>",
		self:  "You are no longer locking yourself. Nice!",
		done:  " no longer locked.",
		apply: func(ctx context.Context, acc *model.Account, other int64) error {
			return r.deps.Store.LockAccount(ctx, acc, other, false)
		},
	})
}
