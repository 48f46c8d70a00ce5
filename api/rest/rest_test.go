package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/realmcore/api/rest"
	"github.com/kasuganosora/realmcore/bus"
	"github.com/kasuganosora/realmcore/config"
	"github.com/kasuganosora/realmcore/game/chat"
	"github.com/kasuganosora/realmcore/game/player"
	"github.com/kasuganosora/realmcore/game/world"
	"github.com/kasuganosora/realmcore/lease"
	"github.com/kasuganosora/realmcore/ledger"
	mw "github.com/kasuganosora/realmcore/middleware"
	"github.com/kasuganosora/realmcore/model"
	"github.com/kasuganosora/realmcore/scheduler"
	"github.com/kasuganosora/realmcore/store"
	"github.com/kasuganosora/realmcore/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const adminKey = "admin-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func nop() *zap.Logger { return zap.NewNop() }

type env struct {
	r        *gin.Engine
	store    *store.Store
	ledger   *ledger.Ledger
	leases   *lease.Manager
	sessions *player.SessionManager
}

func newEnv(t *testing.T) *env {
	t.Helper()
	c, ps := testutil.SetupTestCache(t)
	lm := lease.NewManager(c, time.Minute, nop())
	st := store.New(c, lm, testutil.Catalog(), store.Options{MaxCharSlot: 2, BcryptCost: bcrypt.MinCost}, nop())
	l := ledger.New(st, ledger.NewBoard(c, 10), nil, ledger.RetryPolicy{}, nop())
	sm := player.NewSessionManager(nop())
	wm := world.NewManager(testutil.Catalog(), world.Options{}, world.Deps{}, nop())
	t.Cleanup(wm.StopAll)

	b := bus.NewCacheBus(ps, nop())
	t.Cleanup(func() { _ = b.Close() })
	cm := chat.NewManager("test", b, sm, wm, st, lm, nil, nop())
	require.NoError(t, cm.Start(context.Background()))
	t.Cleanup(func() { cm.Stop(context.Background()) })

	sched := scheduler.New(nop())
	t.Cleanup(sched.Stop)
	sched.AddTicker("legends-clean", time.Hour, func(context.Context) {})

	sec := config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: time.Hour}
	authH := rest.NewAuthHandler(st, sec, nop())
	charH := rest.NewCharacterHandler(st, l, nop())
	rankH := rest.NewRankingHandler(l.Board(), st, nop())
	guildH := rest.NewGuildHandler(st, nop())
	adminH := rest.NewAdminHandler(st, l, sm, wm, cm, sched, nop())

	r := gin.New()
	r.POST("/api/auth/register", authH.Register)
	r.POST("/api/auth/login", authH.Login)
	r.POST("/api/auth/refresh", mw.Auth(sec.JWTSecret, st), authH.Refresh)
	chars := r.Group("/api/characters", mw.Auth(sec.JWTSecret, st))
	chars.GET("", charH.List)
	chars.POST("", charH.Create)
	chars.DELETE("/:id", charH.Delete)
	r.GET("/api/legends/:span", rankH.Legends)
	r.GET("/api/guilds/:name", guildH.Detail)
	admin := r.Group("/api/admin", mw.AdminKey(adminKey))
	admin.GET("/metrics", adminH.Metrics)
	admin.GET("/players", adminH.ListPlayers)
	admin.GET("/scheduler", adminH.ListSchedulerTasks)
	admin.POST("/kick/:name", adminH.KickPlayer)
	admin.POST("/accounts/:id/ban", adminH.BanAccount)
	admin.POST("/accounts/:id/grant", adminH.Grant)
	admin.POST("/accounts/:id/wipe", adminH.WipeCharacters)
	admin.POST("/mute", adminH.Mute)
	admin.POST("/announce", adminH.Announce)
	admin.POST("/fame/reset", adminH.ResetFame)

	return &env{r: r, store: st, ledger: l, leases: lm, sessions: sm}
}

// do sends a JSON request. headers are key, value pairs.
func (e *env) do(method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var b []byte
	if body != nil {
		b, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func (e *env) authed(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	return e.do(method, path, body, "Authorization", "Bearer "+token)
}

func (e *env) admin(method, path string, body interface{}) *httptest.ResponseRecorder {
	return e.do(method, path, body, mw.AdminKeyHeader, adminKey)
}

// register creates an account through the API and returns its token.
func (e *env) register(t *testing.T, uuid, name string) (int64, string) {
	t.Helper()
	w := e.do(http.MethodPost, "/api/auth/register", map[string]string{
		"uuid": uuid, "password": "pass1234", "name": name,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		Token     string `json:"token"`
		AccountID int64  `json:"account_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.AccountID, resp.Token
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func (e *env) account(t *testing.T, id int64) *model.Account {
	t.Helper()
	acc, err := e.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc
}
