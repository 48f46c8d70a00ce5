package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kasuganosora/realmcore/game/world"
)

func (r *Registry) help(_ context.Context, p *world.Player, _ string) error {
	p.Session.SendInfo("Help:" +
		"\n[/who]: list players in your world" +
		"\n[/tell <player name> <message>]: send a private message to a player" +
		"\n[/guild <message>]: send a message to your guild" +
		"\n[/ignore <player name>]: don't show chat messages from player" +
		"\n[/unignore <player name>]: stop ignoring a player" +
		"\n[/teleport <player name>]: teleport to a player" +
		"\n[/trade <player name>]: request a trade with a player" +
		"\n[/invite <player name>]: invite a player to your guild" +
		"\n[/join <guild name>]: join a guild (invite necessary)" +
		"\n[/lock <player name>]: lock a player to the player grid" +
		"\n[/unlock <player name>]: unlock a player from the player grid" +
		"\n[/commands]: show all commands" +
		"\n[/help]: go for another round")
	return nil
}

func (r *Registry) list(_ context.Context, p *world.Player, _ string) error {
	p.Session.SendInfo("Available commands: " + strings.Join(r.Names(), ", "))
	return nil
}

func (r *Registry) who(_ context.Context, p *world.Player, _ string) error {
	w := p.Entity.World()
	if w == nil {
		return nil
	}
	all := w.Players()
	var names []string
	for _, other := range all {
		if other.VisibleTo(p) {
			names = append(names, other.Name())
		}
	}
	p.Session.SendInfo(fmt.Sprintf("Players in current area (%d): %s", len(all), strings.Join(names, ", ")))
	return nil
}

func (r *Registry) world(_ context.Context, p *world.Player, _ string) error {
	w := p.Entity.World()
	if w == nil {
		return nil
	}
	p.Session.SendInfo(fmt.Sprintf("[%d] %s (%d players)", w.ID, w.Name, len(w.Players())))
	return nil
}

func (r *Registry) pos(_ context.Context, p *world.Player, _ string) error {
	x, y := p.Entity.Position()
	p.Session.SendInfo(fmt.Sprintf("Current Position: %d, %d", int(x), int(y)))
	return nil
}

func (r *Registry) uptime(_ context.Context, p *world.Player, _ string) error {
	w := p.Entity.World()
	if w == nil {
		return nil
	}
	p.Session.SendInfo("The world has been up for " + formatUptime(time.Duration(w.Time().TotalElapsedMs)*time.Millisecond) + ".")
	return nil
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	s := fmt.Sprintf("%02dh:%02dm:%02ds", int(d.Hours())%24, int(d.Minutes())%60, int(d.Seconds())%60)
	if days > 0 {
		return fmt.Sprintf("%dd:%s", days, s)
	}
	return s
}

func (r *Registry) teleport(_ context.Context, p *world.Player, name string) error {
	w := p.Entity.World()
	var target *world.Player
	if w != nil {
		target = w.PlayerByName(name)
	}
	if target == nil || !target.VisibleTo(p) {
		return userErr("Unable to find player: %s", name)
	}
	switch err := w.Teleport(p, target); {
	case err == nil:
		p.Session.SendInfo("Teleported to " + target.Name() + ".")
		return nil
	case errors.Is(err, world.ErrTPSelf):
		return userErr("You are already at yourself, and always will be!")
	case errors.Is(err, world.ErrTPCooldown):
		return userErr("Too soon to teleport again!")
	case errors.Is(err, world.ErrNotVisible):
		return userErr("Unable to find player: %s", name)
	default:
		return err
	}
}

func (r *Registry) trade(_ context.Context, p *world.Player, name string) error {
	if name == "" {
		return userErr("Usage: /trade <player name>")
	}
	if r.deps.Trade == nil {
		return userErr("Trading is disabled.")
	}
	// The trade service tells the player why a request failed.
	_ = r.deps.Trade.RequestTrade(p, name)
	return nil
}
