// Package walletconnect is a wallet provider paired over a WalletConnect v1
// bridge. The user scans the pairing QR code with a mobile wallet; account
// and chain changes then arrive as wc_sessionUpdate messages.
package walletconnect

import (
	"context"
	"encoding/json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"
	"github.com/tidwall/gjson"
	"go.uber.org/atomic"
	"moff.io/moff-login/internal/chains"
	"moff.io/moff-login/internal/provider"
	"moff.io/moff-login/pkg/errors"
	"moff.io/moff-login/pkg/log"
	"moff.io/moff-login/pkg/wcbridge"
	"strings"
	"sync"
	"time"
)

const (
	methodSessionRequest = "wc_sessionRequest"
	methodSessionUpdate  = "wc_sessionUpdate"
)

// link is one websocket connection to the bridge, subscribed on clientID.
type link struct {
	conn     *websocket.Conn
	clientID string
	key      []byte

	writeMu sync.Mutex
	closed  atomic.Bool
}

func (l *link) send(msg *wcMessage) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := l.conn.WriteMessage(websocket.TextMessage, msg.Marshal()); err != nil {
		return errors.Wrap(err, "write wallet connect message to bridge")
	}
	return nil
}

func (l *link) subscribe() error {
	return l.send(&wcMessage{Topic: l.clientID, Type: typeSub, Silent: true})
}

func (l *link) ack() error {
	return l.send(&wcMessage{Topic: l.clientID, Type: typeAck, Silent: true})
}

func (l *link) publish(topic string, req *jsonRpcRequest) error {
	sealed, err := wcbridge.Seal(req.Marshal(), l.key)
	if err != nil {
		return errors.WrapAndReport(err, "encrypt wallet connect request")
	}
	payload, _ := json.Marshal(sealed)
	log.Debugf("walletconnect - publish %v on %v", req.Method, topic)
	return l.send(&wcMessage{
		Topic:   topic,
		Type:    typePub,
		Payload: string(payload),
		Silent:  req.IsSilentPayload(),
	})
}

// read blocks for the next message published to clientID and returns its
// decrypted json-rpc body. Zero timeout waits forever.
func (l *link) read(timeout time.Duration) (string, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := l.conn.SetReadDeadline(deadline); err != nil {
		return "", errors.Wrap(err, "set websocket read timeout")
	}
	for {
		msgType, data, err := l.conn.ReadMessage()
		if err != nil {
			if l.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return "", errSessionClosed
			}
			return "", errors.Wrap(err, "read wallet connect message")
		}
		if msgType != websocket.TextMessage {
			continue
		}
		msg, err := newWCMessageFromBytes(data)
		if err != nil {
			log.Warnf("walletconnect - %v", err)
			continue
		}
		if msg.Type != typePub {
			continue
		}
		if err := l.ack(); err != nil {
			return "", err
		}
		p, err := msg.payload()
		if err != nil {
			log.Warnf("walletconnect - %v", err)
			continue
		}
		body, err := wcbridge.Open(p, l.key)
		if err != nil {
			log.Warnf("walletconnect - drop message on %v: %v", msg.Topic, err)
			continue
		}
		log.Debugf("walletconnect - receive:%v", string(body))
		return string(body), nil
	}
}

func (l *link) close() {
	if l.closed.CAS(false, true) {
		l.conn.Close()
	}
}

// Gateway pairs with one wallet at a time. It is safe for concurrent use.
type Gateway struct {
	*provider.Emitter

	opts    Options
	pairing atomic.Bool

	mu     sync.Mutex
	link   *link
	wallet *Wallet
}

func NewGateway(opts Options) *Gateway {
	return &Gateway{
		Emitter: provider.NewEmitter(),
		opts:    opts,
	}
}

// Present is always true: the bridge is reached on demand.
func (g *Gateway) Present() bool {
	return g != nil
}

// RequestAccounts returns the paired wallet's accounts, pairing first when no
// session is live. Only one pairing may run at a time.
func (g *Gateway) RequestAccounts(ctx context.Context) ([]string, error) {
	g.mu.Lock()
	if g.wallet != nil {
		accounts := g.wallet.copyAccounts()
		g.mu.Unlock()
		return accounts, nil
	}
	g.mu.Unlock()

	if !g.pairing.CAS(false, true) {
		return nil, errPairingInProgress
	}
	defer g.pairing.Store(false)

	l, wallet, err := g.pair(ctx)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.link, g.wallet = l, wallet
	accounts := wallet.copyAccounts()
	g.mu.Unlock()

	log.Infof("walletconnect - paired with %q on chain %v", wallet.Meta.Name, wallet.ChainID)
	go g.readLoop(l)
	return accounts, nil
}

func (g *Gateway) pair(ctx context.Context) (*link, *Wallet, error) {
	if g.opts.Display == nil {
		return nil, nil, errors.NewWithReport("walletconnect display function not set")
	}
	bridgeURL := g.opts.BridgeURL
	if bridgeURL == "" {
		bridgeURL = wcbridge.RandomBridgeURL()
	}
	key, err := wcbridge.GenerateRandomBytes(wcbridge.KeySize)
	if err != nil {
		return nil, nil, errors.WrapAndReport(err, "generate walletconnect key")
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wcbridge.GetWebSocketUrl(bridgeURL, "wc", "1"), nil)
	if err != nil {
		return nil, nil, errors.WrapAndReport(err, "dial to wallet connect bridge url")
	}
	l := &link{conn: conn, clientID: uuid.NewString(), key: key}

	// the request context bounds the whole handshake
	stop, exited := make(chan struct{}), make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			l.close()
		case <-stop:
		}
	}()
	wallet, err := g.handshake(l, bridgeURL)
	close(stop)
	<-exited

	if ctx.Err() != nil && l.closed.Load() {
		return nil, nil, errors.Wrap(ctx.Err(), "walletconnect pairing")
	}
	if err != nil {
		l.close()
		return nil, nil, err
	}
	return l, wallet, nil
}

func (g *Gateway) handshake(l *link, bridgeURL string) (*Wallet, error) {
	if err := l.subscribe(); err != nil {
		return nil, err
	}
	handshakeTopic := uuid.NewString()
	req := newJSONRpcRequest(methodSessionRequest, peer{
		PeerID: l.clientID,
		PeerMeta: clientMeta{
			Name:        g.opts.Name,
			Description: g.opts.Description,
			URL:         g.opts.URL,
			Icons:       []string{},
		},
	})
	if err := l.publish(handshakeTopic, req); err != nil {
		return nil, err
	}

	uri := wcbridge.PairingURI(handshakeTopic, bridgeURL, l.key)
	log.Debugf("walletconnect - generated uri:%v", uri)
	png, err := qrcode.Encode(uri, qrcode.Medium, 256)
	if err != nil {
		return nil, errors.WrapAndReport(err, "encode wallet connect qr code")
	}
	if err := g.opts.Display(uri, png); err != nil {
		return nil, errors.Wrap(err, "display wallet connect qr code")
	}

	answer, err := l.read(g.opts.ReadTimeout)
	if err != nil {
		return nil, err
	}
	return parseSessionAnswer(answer)
}

func parseSessionAnswer(answer string) (*Wallet, error) {
	if e := gjson.Get(answer, "error"); e.Exists() {
		msg := e.Get("message").String()
		if msg == "" {
			msg = e.String()
		}
		return nil, errors.Errorf("wallet rejected session: %s", msg)
	}
	result := gjson.Get(answer, "result")
	if !result.Get("approved").Bool() {
		return nil, errors.New("wallet rejected session")
	}
	var wallet Wallet
	if err := json.Unmarshal([]byte(result.Raw), &wallet); err != nil {
		return nil, errors.WrapAndReport(err, "unmarshal wallet info")
	}
	if len(wallet.Accounts) == 0 {
		return nil, errors.New("no wallet accounts acquired")
	}
	return &wallet, nil
}

func (g *Gateway) readLoop(l *link) {
	for {
		body, err := l.read(0)
		if err != nil {
			g.drop(l, err)
			return
		}
		if ended := g.handleUpdate(l, body); ended {
			g.drop(l, errSessionClosed)
			return
		}
	}
}

// handleUpdate applies a wc_sessionUpdate and reports whether the wallet
// ended the session.
func (g *Gateway) handleUpdate(l *link, body string) (ended bool) {
	if gjson.Get(body, "method").String() != methodSessionUpdate {
		log.Debugf("walletconnect - ignored message:%v", body)
		return false
	}
	params := gjson.Get(body, "params.0")
	if !params.Get("approved").Bool() {
		return true
	}
	var accounts []string
	for _, a := range params.Get("accounts").Array() {
		accounts = append(accounts, a.String())
	}
	var chainID uint64
	if raw := params.Get("chainId"); raw.Exists() {
		id, err := chains.ParseID(raw.String())
		if err != nil {
			log.Warnf("walletconnect - session update: %v", err)
		}
		chainID = id
	}

	g.mu.Lock()
	if g.link != l {
		g.mu.Unlock()
		return false
	}
	accountsChanged := params.Get("accounts").Exists() && !sameAccounts(g.wallet.Accounts, accounts)
	chainChanged := chainID != 0 && chainID != g.wallet.ChainID
	if accountsChanged {
		g.wallet.Accounts = accounts
	}
	if chainChanged {
		g.wallet.ChainID = chainID
	}
	g.mu.Unlock()

	if accountsChanged {
		g.Emit(provider.AccountsEvent(accounts))
	}
	if chainChanged {
		g.Emit(provider.ChainEvent(chains.HexID(chainID)))
	}
	return false
}

// drop forgets the session carried by l and tells subscribers the accounts
// are gone. Links replaced or closed locally end quietly.
func (g *Gateway) drop(l *link, cause error) {
	l.close()
	g.mu.Lock()
	current := g.link == l
	if current {
		g.link, g.wallet = nil, nil
	}
	g.mu.Unlock()
	if !current {
		return
	}
	if errors.Is(cause, errSessionClosed) {
		log.Infof("walletconnect - session ended by wallet")
	} else {
		log.Warnf("walletconnect - session ended: %v", cause)
	}
	g.Emit(provider.AccountsEvent(nil))
}

func sameAccounts(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

// NetworkName names the chain the paired wallet reported.
func (g *Gateway) NetworkName(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.wallet == nil {
		return "", errNoSession
	}
	return chains.Name(g.wallet.ChainID), nil
}

// Close ends the live session, if any, and tells the wallet about it.
func (g *Gateway) Close() {
	g.mu.Lock()
	l, wallet := g.link, g.wallet
	g.link, g.wallet = nil, nil
	g.mu.Unlock()
	if l == nil {
		return
	}
	update := newJSONRpcRequest(methodSessionUpdate, map[string]interface{}{
		"approved":  false,
		"chainId":   nil,
		"networkId": nil,
		"accounts":  nil,
	})
	if err := l.publish(wallet.PeerID, update); err != nil {
		log.Warnf("walletconnect - notify wallet of close: %v", err)
	}
	l.close()
}

func (g *Gateway) Stop() {
	g.Close()
}
