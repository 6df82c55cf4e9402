package walletconnect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"moff.io/moff-login/internal/provider"
	"moff.io/moff-login/internal/session"
	"moff.io/moff-login/pkg/errors"
	"moff.io/moff-login/pkg/log"
	"moff.io/moff-login/pkg/wcbridge"
)

const (
	addrOne = "0x1111111111111111111111111111111111111111"
	addrTwo = "0x2222222222222222222222222222222222222222"

	walletPeer = "wallet-peer"
	waitFor    = 5 * time.Second
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// fakeBridge hands every accepted websocket to the test, which then plays
// the wallet side of the protocol.
type fakeBridge struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
}

func newFakeBridge(t *testing.T) *fakeBridge {
	b := &fakeBridge{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.conns <- conn
	}))
	t.Cleanup(b.srv.Close)
	return b
}

type fakeWallet struct {
	t         *testing.T
	conn      *websocket.Conn
	key       []byte
	clientID  string
	requestID int64
}

// accept plays the wallet until the session request has been read.
func (b *fakeBridge) accept(t *testing.T, uris <-chan string) *fakeWallet {
	t.Helper()
	w := &fakeWallet{t: t}
	select {
	case w.conn = <-b.conns:
	case <-time.After(waitFor):
		t.Fatal("no bridge connection")
	}
	t.Cleanup(func() { w.conn.Close() })

	sub := w.next()
	require.Equal(t, typeSub, sub.Type)
	w.clientID = sub.Topic

	pub := w.next()
	require.Equal(t, typePub, pub.Type)
	assert.True(t, pub.Silent)

	var uri string
	select {
	case uri = <-uris:
	case <-time.After(waitFor):
		t.Fatal("pairing uri not displayed")
	}
	topic, bridgeURL, key, err := wcbridge.ParsePairingURI(uri)
	require.NoError(t, err)
	assert.Equal(t, pub.Topic, topic)
	assert.Equal(t, b.srv.URL, bridgeURL)
	w.key = key

	req := w.open(pub)
	assert.Equal(t, methodSessionRequest, gjson.Get(req, "method").String())
	assert.Equal(t, w.clientID, gjson.Get(req, "params.0.peerId").String())
	assert.Equal(t, "moff login", gjson.Get(req, "params.0.peerMeta.name").String())
	w.requestID = gjson.Get(req, "id").Int()
	return w
}

func (w *fakeWallet) next() *wcMessage {
	w.t.Helper()
	require.NoError(w.t, w.conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, data, err := w.conn.ReadMessage()
	require.NoError(w.t, err)
	msg, err := newWCMessageFromBytes(data)
	require.NoError(w.t, err)
	return msg
}

func (w *fakeWallet) open(msg *wcMessage) string {
	w.t.Helper()
	p, err := msg.payload()
	require.NoError(w.t, err)
	body, err := wcbridge.Open(p, w.key)
	require.NoError(w.t, err)
	return string(body)
}

// publish sends body to the dApp and waits for its ack.
func (w *fakeWallet) publish(body string) {
	w.t.Helper()
	sealed, err := wcbridge.Seal([]byte(body), w.key)
	require.NoError(w.t, err)
	payload, _ := json.Marshal(sealed)
	msg := &wcMessage{Topic: w.clientID, Type: typePub, Payload: string(payload), Silent: true}
	require.NoError(w.t, w.conn.WriteMessage(websocket.TextMessage, msg.Marshal()))
	ack := w.next()
	assert.Equal(w.t, typeAck, ack.Type)
	assert.Equal(w.t, w.clientID, ack.Topic)
}

func (w *fakeWallet) approve(chainID uint64, accounts ...string) {
	list, _ := json.Marshal(accounts)
	w.publish(fmt.Sprintf(`{"id":%d,"jsonrpc":"2.0","result":{"approved":true,"chainId":%d,"networkId":%d,`+
		`"accounts":%s,"rpcUrl":"","peerId":%q,"peerMeta":{"name":"Test Wallet"}}}`,
		w.requestID, chainID, chainID, list, walletPeer))
}

func (w *fakeWallet) update(approved bool, chainID uint64, accounts ...string) {
	list, _ := json.Marshal(accounts)
	w.publish(fmt.Sprintf(`{"id":%d,"jsonrpc":"2.0","method":"wc_sessionUpdate",`+
		`"params":[{"approved":%t,"chainId":%d,"accounts":%s}]}`,
		payloadID(), approved, chainID, list))
}

type requestResult struct {
	accounts []string
	err      error
}

func newTestGateway(b *fakeBridge) (*Gateway, chan string) {
	uris := make(chan string, 1)
	g := NewGateway(Options{
		BridgeURL: b.srv.URL,
		Name:      "moff login",
		Display: func(uri string, png []byte) error {
			if len(png) == 0 {
				return errors.New("empty qr code")
			}
			uris <- uri
			return nil
		},
	})
	return g, uris
}

func requestAsync(ctx context.Context, g *Gateway) <-chan requestResult {
	out := make(chan requestResult, 1)
	go func() {
		accounts, err := g.RequestAccounts(ctx)
		out <- requestResult{accounts, err}
	}()
	return out
}

func wait(t *testing.T, ch <-chan requestResult) requestResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitFor):
		t.Fatal("request accounts did not return")
		return requestResult{}
	}
}

func nextEvent(t *testing.T, events <-chan provider.Event) provider.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(waitFor):
		t.Fatal("no provider event")
		return provider.Event{}
	}
}

func paired(t *testing.T) (*Gateway, *fakeWallet, *fakeBridge) {
	t.Helper()
	b := newFakeBridge(t)
	g, uris := newTestGateway(b)
	t.Cleanup(g.Close)

	result := requestAsync(context.Background(), g)
	w := b.accept(t, uris)
	w.approve(1, addrOne)
	r := wait(t, result)
	require.NoError(t, r.err)
	require.Equal(t, []string{addrOne}, r.accounts)
	return g, w, b
}

func TestPairingApproved(t *testing.T) {
	g, _, b := paired(t)

	name, err := g.NetworkName(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mainnet", name)

	// a live session is reused without a new pairing
	accounts, err := g.RequestAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{addrOne}, accounts)
	assert.Len(t, b.conns, 0)
}

func TestPairingRejectedMovesSessionToError(t *testing.T) {
	b := newFakeBridge(t)
	g, uris := newTestGateway(b)
	m := session.NewManager(g)
	defer m.Initialize(context.Background())()

	done := make(chan session.Session, 1)
	go func() { done <- m.Connect(context.Background()) }()

	w := b.accept(t, uris)
	w.publish(fmt.Sprintf(`{"id":%d,"jsonrpc":"2.0","error":{"code":-32000,"message":"Session Rejected"}}`, w.requestID))

	select {
	case s := <-done:
		assert.Equal(t, session.Error, s.Status)
		assert.Equal(t, session.ConnectRejected, s.Reason)
		assert.Empty(t, s.Account)
	case <-time.After(waitFor):
		t.Fatal("connect did not return")
	}
	_, err := g.NetworkName(context.Background())
	assert.ErrorIs(t, err, errNoSession)
}

func TestSessionUpdatesAreEmitted(t *testing.T) {
	g, w, _ := paired(t)
	events := make(chan provider.Event, 4)
	g.Subscribe(provider.AccountsChanged, func(ev provider.Event) { events <- ev })
	g.Subscribe(provider.ChainChanged, func(ev provider.Event) { events <- ev })

	w.update(true, 137, addrOne)
	assert.Equal(t, provider.ChainEvent("0x89"), nextEvent(t, events))
	name, err := g.NetworkName(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "matic", name)

	w.update(true, 137, addrTwo)
	assert.Equal(t, provider.AccountsEvent([]string{addrTwo}), nextEvent(t, events))

	w.update(false, 0)
	ev := nextEvent(t, events)
	assert.Equal(t, provider.AccountsChanged, ev.Name)
	assert.Empty(t, ev.Accounts)
	_, err = g.NetworkName(context.Background())
	assert.ErrorIs(t, err, errNoSession)
}

func TestSessionUpdateWithHexChainID(t *testing.T) {
	g, w, _ := paired(t)
	events := make(chan provider.Event, 2)
	g.Subscribe(provider.AccountsChanged, func(ev provider.Event) { events <- ev })
	g.Subscribe(provider.ChainChanged, func(ev provider.Event) { events <- ev })

	w.publish(fmt.Sprintf(`{"id":%d,"jsonrpc":"2.0","method":"wc_sessionUpdate",`+
		`"params":[{"approved":true,"chainId":"0x5"}]}`, payloadID()))
	assert.Equal(t, provider.ChainEvent("0x5"), nextEvent(t, events))
	name, err := g.NetworkName(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "goerli", name)
}

func TestWalletDisconnectDrivesManager(t *testing.T) {
	b := newFakeBridge(t)
	g, uris := newTestGateway(b)
	defer g.Close()
	m := session.NewManager(g)
	defer m.Initialize(context.Background())()

	done := make(chan session.Session, 1)
	go func() { done <- m.Connect(context.Background()) }()
	w := b.accept(t, uris)
	w.approve(5, addrOne)
	select {
	case s := <-done:
		assert.Equal(t, session.Session{Status: session.Connected, Account: addrOne, Network: "goerli"}, s)
	case <-time.After(waitFor):
		t.Fatal("connect did not return")
	}

	w.update(false, 0)
	assert.Eventually(t, func() bool {
		return m.Session().Status == session.Disconnected
	}, waitFor, 5*time.Millisecond)
	assert.Equal(t, session.DisconnectedByProvider, m.Session().Reason)
}

func TestBridgeLossEndsSession(t *testing.T) {
	g, w, _ := paired(t)
	events := make(chan provider.Event, 1)
	g.Subscribe(provider.AccountsChanged, func(ev provider.Event) { events <- ev })

	w.conn.Close()
	ev := nextEvent(t, events)
	assert.Empty(t, ev.Accounts)
}

func TestCloseNotifiesWalletQuietly(t *testing.T) {
	g, w, _ := paired(t)
	events := make(chan provider.Event, 1)
	g.Subscribe(provider.AccountsChanged, func(ev provider.Event) { events <- ev })

	g.Close()
	msg := w.next()
	assert.Equal(t, typePub, msg.Type)
	assert.Equal(t, walletPeer, msg.Topic)
	body := w.open(msg)
	assert.Equal(t, methodSessionUpdate, gjson.Get(body, "method").String())
	assert.False(t, gjson.Get(body, "params.0.approved").Bool())

	assert.Never(t, func() bool { return len(events) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	g.Close()
}

func TestSecondPairingFails(t *testing.T) {
	g := NewGateway(Options{Display: func(string, []byte) error { return nil }})
	g.pairing.Store(true)
	_, err := g.RequestAccounts(context.Background())
	assert.ErrorIs(t, err, errPairingInProgress)
}

func TestPairingCancelled(t *testing.T) {
	b := newFakeBridge(t)
	g, uris := newTestGateway(b)
	ctx, cancel := context.WithCancel(context.Background())

	result := requestAsync(ctx, g)
	b.accept(t, uris)
	cancel()

	r := wait(t, result)
	assert.ErrorIs(t, r.err, context.Canceled)
	assert.False(t, g.pairing.Load())
}

func TestParseSessionAnswer(t *testing.T) {
	_, err := parseSessionAnswer(`{"id":1,"result":{"approved":false}}`)
	assert.Error(t, err)
	_, err = parseSessionAnswer(`{"id":1,"result":{"approved":true,"chainId":1,"accounts":[]}}`)
	assert.Error(t, err)

	wallet, err := parseSessionAnswer(`{"id":1,"result":{"approved":true,"chainId":10,"accounts":["` + addrTwo + `"],"peerId":"p"}}`)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), wallet.ChainID)
	assert.Equal(t, "p", wallet.PeerID)
}
