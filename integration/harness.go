package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	apirest "github.com/kasuganosora/realmcore/api/rest"
	apiws "github.com/kasuganosora/realmcore/api/ws"
	"github.com/kasuganosora/realmcore/bus"
	"github.com/kasuganosora/realmcore/cache"
	"github.com/kasuganosora/realmcore/config"
	"github.com/kasuganosora/realmcore/game/chat"
	"github.com/kasuganosora/realmcore/game/command"
	"github.com/kasuganosora/realmcore/game/player"
	"github.com/kasuganosora/realmcore/game/trade"
	"github.com/kasuganosora/realmcore/game/world"
	"github.com/kasuganosora/realmcore/lease"
	"github.com/kasuganosora/realmcore/ledger"
	mw "github.com/kasuganosora/realmcore/middleware"
	"github.com/kasuganosora/realmcore/persist"
	"github.com/kasuganosora/realmcore/scheduler"
	"github.com/kasuganosora/realmcore/store"
	"github.com/kasuganosora/realmcore/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const adminKey = "integration-admin"

// Cluster is a set of world servers sharing one database and one bus.
type Cluster struct {
	Cache  cache.Cache
	PubSub cache.PubSub
	Sec    config.SecurityConfig
}

// NewCluster creates the shared backing services.
func NewCluster(t *testing.T) *Cluster {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, ps := testutil.SetupTestCache(t)
	return &Cluster{
		Cache:  c,
		PubSub: ps,
		Sec: config.SecurityConfig{
			JWTSecret: "integration-test-secret",
			JWTTTLH:   time.Hour,
		},
	}
}

// Node is one fully wired world server. It mirrors the wiring in main.go.
type Node struct {
	Name     string
	Store    *store.Store
	Ledger   *ledger.Ledger
	Leases   *lease.Manager
	Sessions *player.SessionManager
	Worlds   *world.Manager
	Chat     *chat.Manager
	Server   *httptest.Server
	URL      string // http://127.0.0.1:<port>
	WSURL    string // ws://127.0.0.1:<port>/ws
}

// Start brings a node called name online.
func (cl *Cluster) Start(t *testing.T, name string) *Node {
	t.Helper()
	logger := zap.NewNop()
	ctx := context.Background()
	cat := testutil.Catalog()

	leases := lease.NewManager(cl.Cache, time.Minute, logger)
	st := store.New(cl.Cache, leases, cat, store.Options{MaxCharSlot: 2, BcryptCost: bcrypt.MinCost}, logger)
	board := ledger.NewBoard(cl.Cache, 10)
	led := ledger.New(st, board, nil, ledger.RetryPolicy{Retries: 2}, logger)

	queue := persist.New(config.PersistConfig{Workers: 1, QueueSize: 64, MaxAttempts: 2, Backoff: 10 * time.Millisecond}, logger)
	sm := player.NewSessionManager(logger)
	tradeSvc := trade.NewService(0, nil, logger)
	wm := world.NewManager(cat, world.Options{TickInterval: 10 * time.Millisecond, ActiveRadius: 10}, world.Deps{Store: st, Persist: queue}, logger)
	wm.OnCreate(tradeSvc.Install)

	b := bus.NewCacheBus(cl.PubSub, logger)
	chatMgr := chat.NewManager(name, b, sm, wm, st, leases, nil, logger)
	require.NoError(t, chatMgr.Start(ctx))
	commands := command.NewRegistry(command.Deps{
		Store: st, Ledger: led, Trade: tradeSvc, Chat: chatMgr, Sessions: sm, ServerName: name,
	}, logger)

	sched := scheduler.New(logger)
	(&scheduler.Maintenance{Sessions: sm, Leases: leases, Legends: board, Worlds: wm, Logger: logger}).
		Install(sched, scheduler.Intervals{LeaseRenew: time.Second})

	wsRouter := apiws.NewRouter(logger)
	apiws.NewGameHandlers(chatMgr, commands, logger).RegisterHandlers(wsRouter)
	apiws.NewTradeHandlers(tradeSvc, logger).RegisterHandlers(wsRouter)
	wsH := apiws.NewHandler(apiws.Deps{
		Store: st, Leases: leases, Sessions: sm, Worlds: wm, Trade: tradeSvc, Router: wsRouter, Persist: queue,
	}, cl.Sec, config.GameConfig{DefaultWorld: "nexus", ChatRPS: 100, ChatBurst: 100}, logger)

	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	authH := apirest.NewAuthHandler(st, cl.Sec, logger)
	charH := apirest.NewCharacterHandler(st, led, logger)
	adminH := apirest.NewAdminHandler(st, led, sm, wm, chatMgr, sched, logger)
	requireAuth := mw.Auth(cl.Sec.JWTSecret, st)

	api := r.Group("/api")
	api.POST("/auth/register", authH.Register)
	api.POST("/auth/login", authH.Login)
	chars := api.Group("/characters", requireAuth)
	chars.GET("", charH.List)
	chars.POST("", charH.Create)
	chars.DELETE("/:id", charH.Delete)
	api.GET("/legends/:span", apirest.NewRankingHandler(board, st, logger).Legends)
	admin := api.Group("/admin", mw.AdminKey(adminKey))
	admin.POST("/announce", adminH.Announce)
	admin.POST("/kick/:name", adminH.KickPlayer)
	r.GET("/ws", wsH.ServeWS)

	server := httptest.NewServer(r)
	n := &Node{
		Name:     name,
		Store:    st,
		Ledger:   led,
		Leases:   leases,
		Sessions: sm,
		Worlds:   wm,
		Chat:     chatMgr,
		Server:   server,
		URL:      server.URL,
		WSURL:    "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
	}
	t.Cleanup(func() {
		server.Close()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		wsH.WaitSaves(stopCtx)
		sched.Stop()
		chatMgr.Stop(context.Background())
		wm.StopAll()
		queue.Stop()
		_ = b.Close()
	})
	return n
}

// --- HTTP helpers ---

// PostJSON sends a POST request with a JSON body and optional Bearer token.
func (n *Node) PostJSON(t *testing.T, path string, body interface{}, token string, headers ...string) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, n.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// Get sends a GET request with an optional Bearer token.
func (n *Node) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, n.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// ReadJSON reads and decodes a JSON response body into target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// --- Account helpers ---

// Register creates an account and returns its token and id.
func (n *Node) Register(t *testing.T, uuid, name string) (token string, accountID int64) {
	t.Helper()
	resp := n.PostJSON(t, "/api/auth/register", map[string]string{
		"uuid": uuid, "password": "pass1234", "name": name,
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var result struct {
		Token     string `json:"token"`
		AccountID int64  `json:"account_id"`
	}
	ReadJSON(t, resp, &result)
	return result.Token, result.AccountID
}

// Login returns a fresh token for uuid.
func (n *Node) Login(t *testing.T, uuid string) string {
	t.Helper()
	resp := n.PostJSON(t, "/api/auth/login", map[string]string{"uuid": uuid, "password": "pass1234"}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Token string `json:"token"`
	}
	ReadJSON(t, resp, &result)
	return result.Token
}

// CreateCharacter creates a Rogue and returns its id.
func (n *Node) CreateCharacter(t *testing.T, token string) int64 {
	t.Helper()
	resp := n.PostJSON(t, "/api/characters", map[string]interface{}{"class_type": testutil.Rogue}, token)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var result struct {
		ID int64 `json:"id"`
	}
	ReadJSON(t, resp, &result)
	return result.ID
}

// --- WebSocket client ---

// WSClient wraps a gorilla/websocket connection. Reads happen on a
// background goroutine so a timed out wait never poisons the conn.
type WSClient struct {
	Conn   *websocket.Conn
	t      *testing.T
	seq    uint64
	readCh chan readResult
}

type readResult struct {
	pkt player.Packet
	err error
}

// Dial connects charID to the node. The handshake response is returned
// when the server refuses the upgrade.
func (n *Node) Dial(t *testing.T, token string, charID int64) (*WSClient, *http.Response, error) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s?token=%s&char_id=%d", n.WSURL, token, charID), nil)
	if err != nil {
		return nil, resp, err
	}
	wc := &WSClient{Conn: conn, t: t, readCh: make(chan readResult, 256)}
	go wc.readLoop()
	t.Cleanup(wc.Close)
	return wc, resp, nil
}

// Enter dials charID and waits until the player is in a world.
func (n *Node) Enter(t *testing.T, token string, charID int64) *WSClient {
	t.Helper()
	wc, _, err := n.Dial(t, token, charID)
	require.NoError(t, err, "WS dial failed")
	wc.RecvType(player.PktCreateSuccess, 5*time.Second)
	return wc
}

func (wc *WSClient) readLoop() {
	for {
		var pkt player.Packet
		err := wc.Conn.ReadJSON(&pkt)
		wc.readCh <- readResult{pkt, err}
		if err != nil {
			return
		}
	}
}

// Send writes a packet with the next sequence number.
func (wc *WSClient) Send(msgType string, payload interface{}) {
	wc.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(wc.t, err)
	seq := atomic.AddUint64(&wc.seq, 1)
	require.NoError(wc.t, wc.Conn.WriteJSON(player.Packet{Seq: seq, Type: msgType, Payload: raw}))
}

// Say sends a line of chat or a slash command.
func (wc *WSClient) Say(text string) {
	wc.Send("player_text", map[string]string{"text": text})
}

// RecvType reads packets until one of msgType arrives.
func (wc *WSClient) RecvType(msgType string, timeout time.Duration) player.Packet {
	wc.t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case res := <-wc.readCh:
			require.NoError(wc.t, res.err, "WS recv failed while waiting for %q", msgType)
			if res.pkt.Type == msgType {
				return res.pkt
			}
		case <-deadline:
			wc.t.Fatalf("timed out waiting for message type %q", msgType)
			return player.Packet{}
		}
	}
}

// RecvText reads text packets until one carries want.
func (wc *WSClient) RecvText(want string, timeout time.Duration) player.Text {
	wc.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		pkt := wc.RecvType(player.PktText, time.Until(deadline))
		var line player.Text
		require.NoError(wc.t, json.Unmarshal(pkt.Payload, &line))
		if line.Text == want {
			return line
		}
	}
}

// Closed reports whether the server closed the connection within timeout.
func (wc *WSClient) Closed(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case res := <-wc.readCh:
			if res.err != nil {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

// Close closes the WebSocket connection.
func (wc *WSClient) Close() {
	_ = wc.Conn.Close()
}
