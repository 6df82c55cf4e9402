// Package ethrpc is a wallet provider backed by an Ethereum JSON-RPC
// endpoint: a wallet's RPC bridge or a plain node.
package ethrpc

import (
	"context"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/ratelimit"
	"moff.io/moff-login/internal/chains"
	"moff.io/moff-login/internal/provider"
	"moff.io/moff-login/pkg/errors"
	"moff.io/moff-login/pkg/log"
	"strings"
	"sync"
	"time"
)

const (
	methodRequestAccounts = "eth_requestAccounts"
	methodAccounts        = "eth_accounts"
	methodChainID         = "eth_chainId"

	// JSON-RPC "method not found"
	codeMethodNotFound = -32601

	defaultPollInterval = 2 * time.Second
)

// Gateway speaks EIP-1193 methods over JSON-RPC. Account and chain changes
// are detected by polling, since plain endpoints do not push them.
type Gateway struct {
	*provider.Emitter

	client   *rpc.Client
	limiter  ratelimit.Limiter
	interval time.Duration

	mu       sync.Mutex
	polled   bool
	accounts []string
	chain    uint64

	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Gateway)

// WithPollInterval sets how often accounts and chain id are polled.
func WithPollInterval(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.interval = d
		}
	}
}

// WithRateLimit caps RPC calls per second, unlimited when perSecond <= 0.
func WithRateLimit(perSecond int) Option {
	return func(g *Gateway) {
		if perSecond > 0 {
			g.limiter = ratelimit.New(perSecond)
		} else {
			g.limiter = ratelimit.NewUnlimited()
		}
	}
}

// Dial connects to rawURL (http, ws or ipc).
func Dial(ctx context.Context, rawURL string, opts ...Option) (*Gateway, error) {
	client, err := rpc.DialContext(ctx, rawURL)
	if err != nil {
		return nil, errors.WrapfAndReport(err, "dial wallet rpc %s", rawURL)
	}
	return New(client, opts...), nil
}

// New wraps an existing client.
func New(client *rpc.Client, opts ...Option) *Gateway {
	g := &Gateway{
		Emitter:  provider.NewEmitter(),
		client:   client,
		limiter:  ratelimit.NewUnlimited(),
		interval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) Present() bool {
	return g != nil && g.client != nil
}

func (g *Gateway) call(ctx context.Context, out interface{}, method string, args ...interface{}) error {
	g.limiter.Take()
	return g.client.CallContext(ctx, out, method, args...)
}

// RequestAccounts asks for account access, falling back to eth_accounts on
// endpoints without the wallet method.
func (g *Gateway) RequestAccounts(ctx context.Context) ([]string, error) {
	var accounts []string
	err := g.call(ctx, &accounts, methodRequestAccounts)
	if isMethodNotFound(err) {
		log.Debugf("ethrpc - %v not supported, using %v", methodRequestAccounts, methodAccounts)
		err = g.call(ctx, &accounts, methodAccounts)
	}
	if err != nil {
		return nil, errors.Wrap(err, "request accounts")
	}
	return accounts, nil
}

// NetworkName maps eth_chainId to a chain name.
func (g *Gateway) NetworkName(ctx context.Context) (string, error) {
	id, err := g.chainID(ctx)
	if err != nil {
		return "", err
	}
	return chains.Name(id), nil
}

func (g *Gateway) chainID(ctx context.Context) (uint64, error) {
	var id hexutil.Uint64
	if err := g.call(ctx, &id, methodChainID); err != nil {
		return 0, errors.Wrap(err, "read chain id")
	}
	return uint64(id), nil
}

func isMethodNotFound(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode() == codeMethodNotFound
	}
	return strings.Contains(err.Error(), "does not exist")
}

// Poll reads accounts and chain id once and emits the differences to the
// previous poll. The first poll only records the baseline.
func (g *Gateway) Poll(ctx context.Context) error {
	var accounts []string
	if err := g.call(ctx, &accounts, methodAccounts); err != nil {
		return errors.Wrap(err, "poll accounts")
	}
	id, err := g.chainID(ctx)
	if err != nil {
		return err
	}

	g.mu.Lock()
	first := !g.polled
	accountsChanged := !first && !sameAccounts(g.accounts, accounts)
	chainChanged := !first && g.chain != id
	g.polled, g.accounts, g.chain = true, accounts, id
	g.mu.Unlock()

	if accountsChanged {
		log.Infof("ethrpc - accounts changed: %v", accounts)
		g.Emit(provider.AccountsEvent(accounts))
	}
	if chainChanged {
		log.Infof("ethrpc - chain changed: %v", chains.HexID(id))
		g.Emit(provider.ChainEvent(chains.HexID(id)))
	}
	return nil
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

// Start runs the change watcher until ctx is done or Stop is called.
func (g *Gateway) Start(ctx context.Context) {
	ctx, g.cancel = context.WithCancel(ctx)
	g.done = make(chan struct{})
	go g.watch(ctx)
	log.Infof("ethrpc - watching wallet changes every %v", g.interval)
}

func (g *Gateway) watch(ctx context.Context) {
	defer close(g.done)
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		if err := g.Poll(ctx); err != nil && ctx.Err() == nil {
			log.Errorf("ethrpc - poll: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop ends the watcher and closes the client.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
		<-g.done
	}
	g.client.Close()
}
