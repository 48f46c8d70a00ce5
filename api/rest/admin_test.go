package rest_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/kasuganosora/realmcore/game/player"
	"github.com/kasuganosora/realmcore/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *env) online(t *testing.T, id int64, ip string) *player.PlayerSession {
	t.Helper()
	ctx := context.Background()
	acc := e.account(t, id)
	chr, err := e.ledger.CreateCharacter(ctx, acc, testutil.Rogue, 0)
	require.NoError(t, err)
	s := player.NewPlayerSession(acc, ip, nil, nop())
	s.SetCharacter(chr, 1)
	e.sessions.Register(s)
	return s
}

func TestAdmin_RequiresKey(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/api/admin/metrics", nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodGet, "/api/admin/metrics", nil, "X-Admin-Key", "wrong").Code)
	assert.Equal(t, http.StatusOK, e.admin(http.MethodGet, "/api/admin/metrics", nil).Code)
}

func TestAdmin_MetricsAndPlayers(t *testing.T) {
	e := newEnv(t)
	id, _ := e.register(t, "alice@x", "Alice")
	e.online(t, id, "10.0.0.1")

	var metrics struct {
		Online int      `json:"online_players"`
		Tasks  []string `json:"scheduler_tasks"`
	}
	decode(t, e.admin(http.MethodGet, "/api/admin/metrics", nil), &metrics)
	assert.Equal(t, 1, metrics.Online)
	assert.Equal(t, []string{"legends-clean"}, metrics.Tasks)

	var players struct {
		Players []struct {
			AccountID int64  `json:"account_id"`
			Name      string `json:"name"`
			IP        string `json:"ip"`
		} `json:"players"`
		Count int `json:"count"`
	}
	decode(t, e.admin(http.MethodGet, "/api/admin/players", nil), &players)
	require.Equal(t, 1, players.Count)
	assert.Equal(t, id, players.Players[0].AccountID)
	assert.Equal(t, "Alice", players.Players[0].Name)
	assert.Equal(t, "10.0.0.1", players.Players[0].IP)
}

func TestAdmin_Kick(t *testing.T) {
	e := newEnv(t)
	id, _ := e.register(t, "alice@x", "Alice")
	s := e.online(t, id, "10.0.0.1")

	assert.Equal(t, http.StatusNotFound, e.admin(http.MethodPost, "/api/admin/kick/Bob", nil).Code)
	assert.Equal(t, http.StatusOK, e.admin(http.MethodPost, "/api/admin/kick/alice", nil).Code)
	assert.True(t, s.IsClosed())
}

func TestAdmin_BanAndUnban(t *testing.T) {
	e := newEnv(t)
	id, _ := e.register(t, "alice@x", "Alice")
	s := e.online(t, id, "10.0.0.1")
	path := fmt.Sprintf("/api/admin/accounts/%d/ban", id)

	w := e.admin(http.MethodPost, path, map[string]interface{}{"ban": true, "reason": "botting", "hours": 24})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	acc := e.account(t, id)
	assert.True(t, acc.IsBanned(time.Now()))
	assert.False(t, acc.IsBanned(time.Now().Add(25*time.Hour)), "temporary ban lifts")
	assert.Equal(t, "botting", acc.Notes)
	assert.True(t, s.IsClosed(), "banned player is kicked")

	w = e.admin(http.MethodPost, path, map[string]interface{}{"ban": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"was_banned":true`)
	assert.False(t, e.account(t, id).IsBanned(time.Now()))

	assert.Equal(t, http.StatusNotFound, e.admin(http.MethodPost, "/api/admin/accounts/999/ban", map[string]interface{}{"ban": true}).Code)
	assert.Equal(t, http.StatusBadRequest, e.admin(http.MethodPost, "/api/admin/accounts/x/ban", nil).Code)
}

func TestAdmin_Mute(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.Equal(t, http.StatusOK, e.admin(http.MethodPost, "/api/admin/mute", map[string]interface{}{"ip": "10.0.0.9", "minutes": 5}).Code)
	muted, err := e.store.IsMuted(ctx, "10.0.0.9")
	require.NoError(t, err)
	assert.True(t, muted)

	require.Equal(t, http.StatusOK, e.admin(http.MethodPost, "/api/admin/mute", map[string]interface{}{"ip": "10.0.0.9", "unmute": true}).Code)
	muted, _ = e.store.IsMuted(ctx, "10.0.0.9")
	assert.False(t, muted)

	assert.Equal(t, http.StatusBadRequest, e.admin(http.MethodPost, "/api/admin/mute", map[string]interface{}{"ip": "nope"}).Code)
}

func TestAdmin_Announce(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusBadRequest, e.admin(http.MethodPost, "/api/admin/announce", map[string]string{}).Code)
	assert.Equal(t, http.StatusOK, e.admin(http.MethodPost, "/api/admin/announce", map[string]string{"text": "restart in 5"}).Code)
}

func TestAdmin_ResetFame(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id, _ := e.register(t, "alice@x", "Alice")
	_, err := e.ledger.UpdateFame(ctx, id, 120)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, e.admin(http.MethodPost, "/api/admin/fame/reset", nil).Code)
	acc := e.account(t, id)
	assert.Zero(t, acc.Fame)
	assert.Equal(t, int64(120), acc.TotalFame)
}

func TestAdmin_Grant(t *testing.T) {
	e := newEnv(t)
	id, _ := e.register(t, "alice@x", "Alice")
	path := fmt.Sprintf("/api/admin/accounts/%d/grant", id)

	var bal struct {
		Credits int64 `json:"credits"`
		Fame    int64 `json:"fame"`
	}
	w := e.admin(http.MethodPost, path, map[string]interface{}{"kind": "gold", "amount": 500})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &bal)
	start := e.account(t, id)
	assert.Equal(t, start.Credits, bal.Credits)

	w = e.admin(http.MethodPost, path, map[string]interface{}{"kind": "gold", "amount": -200})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &bal)
	assert.Equal(t, start.Credits-200, bal.Credits)
	assert.Equal(t, start.TotalCredits, e.account(t, id).TotalCredits, "spending leaves the lifetime total")

	w = e.admin(http.MethodPost, path, map[string]interface{}{"kind": "gold", "amount": -(bal.Credits + 1)})
	assert.Equal(t, http.StatusBadRequest, w.Code, "balances never go negative")

	w = e.admin(http.MethodPost, path, map[string]interface{}{"kind": "fame", "amount": 40})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &bal)
	assert.Equal(t, int64(40), bal.Fame)

	assert.Equal(t, http.StatusBadRequest, e.admin(http.MethodPost, path, map[string]interface{}{"kind": "gems", "amount": 1}).Code)
	assert.Equal(t, http.StatusBadRequest, e.admin(http.MethodPost, path, map[string]interface{}{"kind": "gold"}).Code)
	assert.Equal(t, http.StatusNotFound, e.admin(http.MethodPost, "/api/admin/accounts/999/grant",
		map[string]interface{}{"kind": "gold", "amount": 1}).Code)
}

func TestAdmin_WipeCharacters(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id, _ := e.register(t, "alice@x", "Alice")
	acc := e.account(t, id)
	chr, err := e.ledger.CreateCharacter(ctx, acc, testutil.Rogue, 0)
	require.NoError(t, err)
	chr.Fame = 25
	require.NoError(t, e.store.SaveCharacter(ctx, acc, chr))
	path := fmt.Sprintf("/api/admin/accounts/%d/wipe", id)

	token, ok, err := e.leases.Acquire(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, e.admin(http.MethodPost, path, nil).Code, "not while playing")
	_, err = e.leases.Release(ctx, id, token)
	require.NoError(t, err)

	var resp struct {
		Deaths int   `json:"deaths"`
		Fame   int64 `json:"fame"`
	}
	w := e.admin(http.MethodPost, path, map[string]string{"killer": "Thunder"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &resp)
	assert.Equal(t, 1, resp.Deaths)
	assert.Equal(t, int64(25), resp.Fame)

	death, err := e.store.GetDeath(ctx, id, chr.ID)
	require.NoError(t, err)
	assert.Equal(t, "Thunder", death.Killer)

	w = e.admin(http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &resp)
	assert.Equal(t, 0, resp.Deaths, "nothing left alive")

	assert.Equal(t, http.StatusNotFound, e.admin(http.MethodPost, "/api/admin/accounts/999/wipe", nil).Code)
}
