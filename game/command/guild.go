package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kasuganosora/realmcore/game/world"
	"github.com/kasuganosora/realmcore/ledger"
	"github.com/kasuganosora/realmcore/model"
	"github.com/kasuganosora/realmcore/store"
)

func (r *Registry) guildOf(ctx context.Context, acc *model.Account) (*model.Guild, error) {
	g, err := r.deps.Store.GetGuild(ctx, acc.GuildID)
	if errors.Is(err, store.ErrGuildNotFound) {
		return nil, userErr("Guild not found.")
	}
	return g, err
}

func (r *Registry) createGuild(ctx context.Context, p *world.Player, name string) error {
	s := p.Session
	if s.Account().GuildID > 0 {
		return userErr("You are already in a guild.")
	}
	if name == "" {
		return userErr("Usage: /gcreate <guild name>")
	}
	acc := *s.Account()
	g, err := r.deps.Ledger.FoundGuild(ctx, name, &acc)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrInvalidName):
		return userErr("Guild names are 1 to 20 letters and spaces.")
	case errors.Is(err, ledger.ErrUsedName):
		return userErr("Guild name already taken.")
	case errors.Is(err, ledger.ErrInAnotherGuild), errors.Is(err, ledger.ErrAlreadyInGuild):
		return userErr("You are already in a guild.")
	default:
		return err
	}
	s.SetAccount(&acc)
	s.SendInfo("You founded " + g.Name + "!")
	return nil
}

func (r *Registry) guildInvite(ctx context.Context, p *world.Player, name string) error {
	acc := p.Session.Account()
	if acc.GuildID <= 0 || acc.GuildRank < model.GuildRankOfficer {
		return userErr("Insufficient privileges.")
	}
	if name == "" {
		return userErr("Usage: /invite <player name>")
	}
	id, err := r.deps.Store.ResolveID(ctx, name)
	if err != nil {
		return err
	}
	target := r.deps.Sessions.Get(id)
	if id == 0 || target == nil || target.Character() == nil || !target.Account().NameChosen {
		return userErr("Could not find the player to invite.")
	}
	if target.Account().GuildID > 0 {
		return userErr("Player is already in a guild.")
	}
	g, err := r.guildOf(ctx, acc)
	if err != nil {
		return err
	}
	target.SetGuildInvite(g.ID)
	target.SendInfo(fmt.Sprintf("%s invited you to join %s. Type /join %s to accept.", p.Name(), g.Name, g.Name))
	p.Session.SendInfo("Invited " + target.Name() + " to the guild.")
	return nil
}

func (r *Registry) joinGuild(ctx context.Context, p *world.Player, name string) error {
	if name == "" {
		return userErr("Usage: /join <guild name>")
	}
	s := p.Session
	id, err := r.deps.Store.ResolveGuildID(ctx, name)
	if err != nil {
		return err
	}
	if id == 0 {
		return userErr("Guild not found.")
	}
	if s.GuildInvite() != id {
		return userErr("You have not been invited to join %s.", name)
	}
	g, err := r.deps.Store.GetGuild(ctx, id)
	if err != nil {
		return userErr("Guild not found.")
	}

	acc := *s.Account()
	switch err := r.deps.Ledger.AddGuildMember(ctx, g, &acc, false); {
	case err == nil:
	case errors.Is(err, ledger.ErrGuildFull):
		return userErr("%s is full.", g.Name)
	case errors.Is(err, ledger.ErrInAnotherGuild), errors.Is(err, ledger.ErrAlreadyInGuild):
		return userErr("You are already in a guild.")
	case errors.Is(err, ledger.ErrNotInGuild):
		return userErr("Guild not found.")
	default:
		return err
	}
	s.SetAccount(&acc)
	s.SetGuildInvite(0)
	r.deps.Chat.GuildAnnounce(ctx, &acc, acc.Name+" has joined the guild!")
	return nil
}

func (r *Registry) guildKick(ctx context.Context, p *world.Player, name string) error {
	s := p.Session
	me := s.Account()
	if me.GuildID <= 0 {
		return userErr("You are not in a guild!")
	}

	if strings.EqualFold(name, p.Name()) {
		// Announce first: the line is routed by the guild we are leaving.
		r.deps.Chat.GuildAnnounce(ctx, me, p.Name()+" has left the guild.")
		acc := *me
		ok, err := r.deps.Ledger.RemoveFromGuild(ctx, &acc)
		if err != nil {
			return err
		}
		if !ok {
			return userErr("Guild not found.")
		}
		s.SetAccount(&acc)
		return nil
	}

	id, err := r.deps.Store.ResolveID(ctx, name)
	if err != nil {
		return err
	}
	if id == 0 {
		return userErr("Player not found")
	}

	// A connected member is kicked through its live account so the
	// session sees the change.
	var target model.Account
	sess := r.deps.Sessions.Get(id)
	if sess != nil {
		target = *sess.Account()
	} else {
		acc, err := r.deps.Store.GetAccount(ctx, id)
		if err != nil {
			return userErr("Player not found")
		}
		target = *acc
	}

	if me.GuildRank < model.GuildRankOfficer || me.GuildID != target.GuildID || me.GuildRank <= target.GuildRank {
		return userErr("Can't remove member. Insufficient privileges.")
	}
	ok, err := r.deps.Ledger.RemoveFromGuild(ctx, &target)
	if err != nil {
		return err
	}
	if !ok {
		return userErr("Guild not found.")
	}
	r.deps.Chat.GuildAnnounce(ctx, me, target.Name+" has been kicked from the guild by "+p.Name())
	if sess != nil {
		sess.SetAccount(&target)
		sess.SendInfo("You have been kicked from the guild.")
	}
	return nil
}

func (r *Registry) guildWho(_ context.Context, p *world.Player, _ string) error {
	acc := p.Session.Account()
	if acc.GuildID <= 0 {
		return userErr("You are not in a guild!")
	}
	var names []string
	for _, s := range r.deps.Sessions.All() {
		other := s.Account()
		if other.GuildID != acc.GuildID || other.Hidden && !acc.Admin {
			continue
		}
		names = append(names, s.Name())
	}
	p.Session.SendInfo("Guild members online:")
	p.Session.SendInfo(fmt.Sprintf("[%s]: %s", r.deps.ServerName, strings.Join(names, ", ")))
	return nil
}

func (r *Registry) guildLevel(ctx context.Context, p *world.Player, args string) error {
	acc := p.Session.Account()
	if acc.GuildID <= 0 || acc.GuildRank < model.GuildRankFounder {
		return userErr("Only the founder can change the guild level.")
	}
	level, err := strconv.Atoi(args)
	if err != nil {
		return userErr("Usage: /glevel <1-3>")
	}
	g, err := r.guildOf(ctx, acc)
	if err != nil {
		return err
	}
	if err := r.deps.Ledger.ChangeGuildLevel(ctx, g, level); err != nil {
		if errors.Is(err, ledger.ErrInvalidLevel) {
			return userErr("Level must be 1, 2 or 3.")
		}
		return err
	}
	r.deps.Chat.GuildAnnounce(ctx, acc, fmt.Sprintf("The guild is now level %d.", level))
	return nil
}

func (r *Registry) guildBoard(ctx context.Context, p *world.Player, text string) error {
	acc := p.Session.Account()
	if acc.GuildID <= 0 {
		return userErr("You are not in a guild!")
	}
	g, err := r.guildOf(ctx, acc)
	if err != nil {
		return err
	}
	if text == "" {
		if g.Board == "" {
			return notice("The guild board is empty.")
		}
		return notice("Guild board: " + g.Board)
	}
	if acc.GuildRank < model.GuildRankOfficer {
		return userErr("Insufficient privileges.")
	}
	if err := r.deps.Ledger.SetGuildBoard(ctx, g, text); err != nil {
		return err
	}
	r.deps.Chat.GuildAnnounce(ctx, acc, "The guild board has been updated.")
	return nil
}
