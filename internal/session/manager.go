// Package session implements the wallet login session: connection status,
// account and network derived from an injected wallet provider and kept
// consistent across reconnects, account switches and chain switches.
package session

import (
	"context"
	"github.com/ethereum/go-ethereum/common"
	"moff.io/moff-login/internal/provider"
	"moff.io/moff-login/pkg/errors"
	"moff.io/moff-login/pkg/log"
	"sort"
	"sync"
)

// Gateway is the wallet provider as seen by the Manager.
type Gateway interface {
	// Present reports whether a wallet provider is available at all.
	Present() bool
	// RequestAccounts asks the wallet for account access. It may block until
	// the user answers in the wallet.
	RequestAccounts(ctx context.Context) ([]string, error)
	// NetworkName returns the human readable name of the active chain.
	NetworkName(ctx context.Context) (string, error)
	Subscribe(name provider.EventName, h provider.Handler) provider.Subscription
}

// Observer is called with a copy of the session after every change.
type Observer func(Session)

// Manager owns the Session. All failures end up in the Session, none is
// returned to the caller.
type Manager struct {
	gateway Gateway

	mu      sync.Mutex
	session Session
	// lookupGen counts network lookups; only the latest one may apply.
	lookupGen uint64

	observersMu sync.RWMutex
	observers   map[int]Observer
	nextID      int
}

// NewManager returns a manager in the Disconnected state. A nil gateway means
// no wallet provider is installed.
func NewManager(gateway Gateway) *Manager {
	return &Manager{
		gateway:   gateway,
		session:   Session{Status: Disconnected},
		observers: make(map[int]Observer),
	}
}

func (m *Manager) present() bool {
	return m.gateway != nil && m.gateway.Present()
}

// Session returns a copy of the current session.
func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Watch registers fn for session changes. The returned cancel func removes it.
func (m *Manager) Watch(fn Observer) (cancel func()) {
	m.observersMu.Lock()
	id := m.nextID
	m.nextID++
	m.observers[id] = fn
	m.observersMu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.observersMu.Lock()
			delete(m.observers, id)
			m.observersMu.Unlock()
		})
	}
}

// Initialize subscribes to the gateway's accountsChanged and chainChanged
// events. The returned dispose func removes exactly these two subscriptions;
// calling it again is a no-op. Without a gateway nothing is registered.
func (m *Manager) Initialize(ctx context.Context) (dispose func()) {
	if !m.present() {
		log.Debug("session - no wallet provider, skipping event subscriptions")
		return func() {}
	}
	accountsSub := m.gateway.Subscribe(provider.AccountsChanged, func(ev provider.Event) {
		m.OnAccountsChanged(ctx, ev.Accounts)
	})
	chainSub := m.gateway.Subscribe(provider.ChainChanged, func(ev provider.Event) {
		m.OnChainChanged(ctx, ev.ChainID)
	})
	var once sync.Once
	return func() {
		once.Do(func() {
			accountsSub.Unsubscribe()
			chainSub.Unsubscribe()
		})
	}
}

// Connect requests account access and then the network name.
//
// A failed request leaves an already connected session untouched; only a
// session without an account moves to Error. A failed network lookup keeps
// the session connected with the network unset (or as it was).
func (m *Manager) Connect(ctx context.Context) Session {
	if !m.present() {
		log.Warn("session - connect without wallet provider")
		return m.update(func(s *Session) {
			s.Status = Error
			s.LastError = GatewayMissing.Message()
			s.Reason = GatewayMissing
		})
	}
	m.update(func(s *Session) {
		s.LastError = ""
		if s.Status == Error {
			s.Status = Disconnected
			s.Reason = ""
		}
	})

	accounts, err := m.gateway.RequestAccounts(ctx)
	if err == nil && len(accounts) == 0 {
		err = errors.New("wallet granted no accounts")
	}
	if err != nil {
		log.Warnf("session - request accounts: %v", err)
		return m.update(func(s *Session) {
			if s.Connected() {
				return
			}
			s.Status = Error
			s.LastError = ConnectRejected.Message()
			s.Reason = ConnectRejected
		})
	}
	m.update(func(s *Session) {
		s.Status = Connected
		s.Account = normalizeAddress(accounts[0])
		s.LastError = ""
		s.Reason = ""
	})

	return m.lookupNetwork(ctx, "connect", false)
}

// OnAccountsChanged applies an accountsChanged event. Accounts arriving for
// a session that held no account, or no network, trigger a network lookup.
func (m *Manager) OnAccountsChanged(ctx context.Context, accounts []string) {
	if len(accounts) == 0 {
		log.Warn("session - wallet reported no accounts, disconnected")
		m.update(func(s *Session) {
			s.Status = Disconnected
			s.Account = ""
			s.Network = ""
			s.LastError = ""
			s.Reason = DisconnectedByProvider
		})
		return
	}
	account := normalizeAddress(accounts[0])
	var lookup bool
	m.update(func(s *Session) {
		lookup = s.Account == "" || s.Network == ""
		if s.Account == "" {
			s.LastError = ""
		}
		s.Account = account
		s.Status = Connected
		s.Reason = ""
	})
	if lookup {
		m.lookupNetwork(ctx, "accounts changed", true)
	}
}

// OnChainChanged re-reads the network name for the held account. The old
// name is dropped when the lookup fails, so a stale network is never shown.
func (m *Manager) OnChainChanged(ctx context.Context, chainID string) {
	if !m.Session().Connected() {
		log.Debugf("session - chain changed to %v while disconnected", chainID)
		return
	}
	m.lookupNetwork(ctx, "chain changed to "+chainID, true)
}

// lookupNetwork asks the gateway for the network name and applies the
// answer unless a later lookup started meanwhile or the session lost its
// account. With dropStale a failure also clears the network held so far.
func (m *Manager) lookupNetwork(ctx context.Context, trigger string, dropStale bool) Session {
	m.mu.Lock()
	m.lookupGen++
	gen := m.lookupGen
	m.mu.Unlock()

	name, err := m.gateway.NetworkName(ctx)
	if err != nil {
		log.Warnf("session - network lookup after %s: %v", trigger, err)
	}
	return m.update(func(s *Session) {
		if gen != m.lookupGen {
			log.Debugf("session - dropped network lookup %d after %s, %d is newer", gen, trigger, m.lookupGen)
			return
		}
		if !s.Connected() {
			return
		}
		if err != nil {
			if dropStale {
				s.Network = ""
			}
			s.Reason = NetworkLookupFailed
			return
		}
		s.Network = name
		s.Reason = ""
	})
}

// update applies fn to the session and notifies observers when it changed.
func (m *Manager) update(fn func(*Session)) Session {
	m.mu.Lock()
	before := m.session
	fn(&m.session)
	after := m.session
	m.mu.Unlock()
	if after != before {
		log.Infof("session - %v -> %v", before, after)
		m.notify(after)
	}
	return after
}

func (m *Manager) notify(s Session) {
	m.observersMu.RLock()
	ids := make([]int, 0, len(m.observers))
	for id := range m.observers {
		ids = append(ids, id)
	}
	fns := make([]Observer, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		fns = append(fns, m.observers[id])
	}
	m.observersMu.RUnlock()
	for _, fn := range fns {
		fn(s)
	}
}

// normalizeAddress returns the EIP-55 checksum form of hex addresses and the
// input unchanged otherwise.
func normalizeAddress(addr string) string {
	if common.IsHexAddress(addr) {
		return common.HexToAddress(addr).Hex()
	}
	return addr
}
