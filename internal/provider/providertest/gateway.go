// Package providertest provides a programmable in-memory wallet provider.
package providertest

import (
	"context"
	"moff.io/moff-login/internal/provider"
	"moff.io/moff-login/pkg/errors"
	"sync"
)

// ErrRejected is what a rejecting Gateway returns from RequestAccounts.
var ErrRejected = errors.New("user rejected the request")

// Gateway answers with whatever it was told last. The embedded Emitter
// serves Subscribe; tests push events with Emit.
type Gateway struct {
	*provider.Emitter

	mu          sync.Mutex
	absent      bool
	accounts    []string
	accountsErr error
	network     string
	networkErr  error
	requests    int
	lookups     int

	// RequestAccountsFunc, when set, replaces the scripted answer.
	RequestAccountsFunc func(ctx context.Context) ([]string, error)
	// NetworkNameFunc, when set, replaces the scripted network answer.
	NetworkNameFunc func(ctx context.Context) (string, error)
}

// New returns a present gateway with no accounts.
func New() *Gateway {
	return &Gateway{Emitter: provider.NewEmitter()}
}

// Absent returns a gateway that reports no wallet installed.
func Absent() *Gateway {
	g := New()
	g.absent = true
	return g
}

func (g *Gateway) Present() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.absent
}

// SetAccounts makes RequestAccounts succeed with accounts.
func (g *Gateway) SetAccounts(accounts ...string) *Gateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accounts, g.accountsErr = accounts, nil
	return g
}

// RejectAccounts makes RequestAccounts fail with err, ErrRejected when nil.
func (g *Gateway) RejectAccounts(err error) *Gateway {
	if err == nil {
		err = ErrRejected
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accountsErr = err
	return g
}

// SetNetwork makes NetworkName succeed with name.
func (g *Gateway) SetNetwork(name string) *Gateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.network, g.networkErr = name, nil
	return g
}

// FailNetwork makes NetworkName fail with err.
func (g *Gateway) FailNetwork(err error) *Gateway {
	if err == nil {
		err = errors.New("network lookup failed")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.networkErr = err
	return g
}

func (g *Gateway) RequestAccounts(ctx context.Context) ([]string, error) {
	g.mu.Lock()
	g.requests++
	fn := g.RequestAccountsFunc
	accounts, err := g.accounts, g.accountsErr
	g.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	if err != nil {
		return nil, err
	}
	out := make([]string, len(accounts))
	copy(out, accounts)
	return out, nil
}

func (g *Gateway) NetworkName(ctx context.Context) (string, error) {
	g.mu.Lock()
	g.lookups++
	fn := g.NetworkNameFunc
	network, err := g.network, g.networkErr
	g.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	return network, err
}

// Requests counts RequestAccounts calls.
func (g *Gateway) Requests() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests
}

// Lookups counts NetworkName calls.
func (g *Gateway) Lookups() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lookups
}

// SwitchAccounts emits accountsChanged as a wallet would.
func (g *Gateway) SwitchAccounts(accounts ...string) int {
	return g.Emit(provider.AccountsEvent(accounts))
}

// SwitchChain sets the network name and emits chainChanged.
func (g *Gateway) SwitchChain(chainID, name string) int {
	g.SetNetwork(name)
	return g.Emit(provider.ChainEvent(chainID))
}
