package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"moff.io/moff-login/internal/config"
	"moff.io/moff-login/internal/provider/providertest"
	"moff.io/moff-login/internal/session"
	"moff.io/moff-login/internal/view"
	"moff.io/moff-login/pkg/log"
)

const addrOne = "0x1111111111111111111111111111111111111111"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func newTestServer(t *testing.T, gw session.Gateway) (*Server, *session.Manager) {
	t.Helper()
	m := session.NewManager(gw)
	t.Cleanup(m.Initialize(context.Background()))
	s := NewServer(m)
	t.Cleanup(s.Stop)
	return s, m
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) sessionResponse {
	t.Helper()
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestGetSession(t *testing.T) {
	s, _ := newTestServer(t, providertest.New())

	w := serve(s, httptest.NewRequest(http.MethodGet, "/session", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("x-request-id"))
	resp := decode(t, w)
	assert.Equal(t, session.Session{Status: session.Disconnected}, resp.Session)
	assert.Equal(t, view.LoginAction, resp.Page.Action)
}

func TestRequestIDIsEchoed(t *testing.T) {
	s, _ := newTestServer(t, providertest.New())
	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.Header.Set("x-request-id", "abc")
	w := serve(s, req)
	assert.Equal(t, "abc", w.Header().Get("x-request-id"))
}

func TestConnect(t *testing.T) {
	gw := providertest.New().SetAccounts(addrOne).SetNetwork("mainnet")
	s, m := newTestServer(t, gw)

	w := serve(s, httptest.NewRequest(http.MethodPost, "/connect", nil))
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, session.Session{Status: session.Connected, Account: addrOne, Network: "mainnet"}, resp.Session)
	assert.True(t, resp.Page.Connected)
	assert.Equal(t, "mainnet", resp.Page.Network)
	assert.Equal(t, m.Session(), resp.Session)
}

func TestConnectFromForm(t *testing.T) {
	gw := providertest.New().SetAccounts(addrOne).SetNetwork("mainnet")
	s, m := newTestServer(t, gw)

	req := httptest.NewRequest(http.MethodPost, "/connect", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	w := serve(s, req)
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
	assert.Equal(t, session.Connected, m.Session().Status)
}

func TestConnectWithoutGateway(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := serve(s, httptest.NewRequest(http.MethodPost, "/connect", nil))
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, session.Error, resp.Session.Status)
	assert.Equal(t, session.GatewayMissing.Message(), resp.Session.LastError)
	assert.Equal(t, session.GatewayMissing.Message(), resp.Page.Notice)
}

func TestIndexPage(t *testing.T) {
	gw := providertest.New().SetAccounts(addrOne).SetNetwork("goerli")
	s, m := newTestServer(t, gw)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, view.LoginAction)
	assert.Contains(t, body, view.Hint)
	assert.NotContains(t, body, view.LoggedIn)

	m.Connect(context.Background())
	body = serve(s, httptest.NewRequest(http.MethodGet, "/", nil)).Body.String()
	assert.Contains(t, body, view.ShortAddress(addrOne))
	assert.Contains(t, body, "goerli")
	assert.Contains(t, body, view.LoggedIn)
	assert.NotContains(t, body, view.LoginAction)
}

func TestSessionFeed(t *testing.T) {
	gw := providertest.New().SetNetwork("mainnet")
	s, _ := newTestServer(t, gw)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/session/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() sessionResponse {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var resp sessionResponse
		require.NoError(t, conn.ReadJSON(&resp))
		return resp
	}
	// bursts are coalesced, so intermediate values may be skipped
	readUntil := func(done func(session.Session) bool) sessionResponse {
		for {
			if resp := read(); done(resp.Session) {
				return resp
			}
		}
	}
	assert.Equal(t, session.Disconnected, read().Session.Status)

	gw.SwitchAccounts(addrOne)
	resp := readUntil(func(s session.Session) bool { return s.Network != "" })
	assert.Equal(t, session.Connected, resp.Session.Status)
	assert.Equal(t, addrOne, resp.Session.Account)
	assert.Equal(t, "mainnet", resp.Page.Network)

	gw.SwitchAccounts()
	resp = readUntil(func(s session.Session) bool { return s.Status == session.Disconnected })
	assert.Equal(t, session.DisconnectedByProvider, resp.Session.Reason)
	assert.Equal(t, "Disconnected from the wallet.", resp.Page.Notice)
}

func TestSessionFeedSkipsValueAlreadySent(t *testing.T) {
	f := newSessionFeed()
	snapshot := session.Session{Status: session.Connected, Account: addrOne}

	// a change delivered before the initial snapshot is written
	f.push(snapshot)
	f.markSent(snapshot)
	<-f.notify
	_, ok := f.next()
	assert.False(t, ok)

	changed := snapshot
	changed.Network = "mainnet"
	f.push(changed)
	<-f.notify
	got, ok := f.next()
	require.True(t, ok)
	assert.Equal(t, changed, got)
	_, ok = f.next()
	assert.False(t, ok)
}

func TestSessionFeedQuietWithoutChanges(t *testing.T) {
	gw := providertest.New()
	s, _ := newTestServer(t, gw)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/session/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	var resp sessionResponse
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, session.Disconnected, resp.Session.Status)

	gw.SwitchChain("0x5", "goerli") // ignored while disconnected, no update
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	assert.Error(t, conn.ReadJSON(&resp), "nothing changed, nothing sent")
}

func TestApplyListen(t *testing.T) {
	s := NewServer(session.NewManager(nil))
	s.Apply(&config.Configuration{HTTP: config.HTTP{Listen: "127.0.0.1:9999"}})
	assert.Equal(t, "127.0.0.1:9999", s.listen)
	s.Apply(nil)
	assert.Equal(t, "127.0.0.1:9999", s.listen)
}

func TestSessionFeedCap(t *testing.T) {
	s, _ := newTestServer(t, providertest.New())
	s.Apply(&config.Configuration{HTTP: config.HTTP{MaxFeeds: 1}})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/session/ws"

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer first.Close()

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
