// Package provider defines what a wallet provider exposes to the login
// session: the two change events and the listener registry used by every
// gateway implementation.
package provider

// EventName identifies a provider event.
type EventName string

const (
	// AccountsChanged carries the accounts the wallet now exposes, empty when
	// the wallet disconnected.
	AccountsChanged EventName = "accountsChanged"
	// ChainChanged carries the new chain id, 0x-prefixed hex.
	ChainChanged EventName = "chainChanged"
)

// Event is delivered to handlers subscribed to Name.
type Event struct {
	Name     EventName
	Accounts []string
	ChainID  string
}

// Handler receives provider events. It runs on the goroutine that emitted.
type Handler func(Event)

// Subscription removes exactly the handler it was returned for.
type Subscription interface {
	Unsubscribe()
}

// AccountsEvent builds an AccountsChanged event holding a copy of accounts.
func AccountsEvent(accounts []string) Event {
	cp := make([]string, len(accounts))
	copy(cp, accounts)
	return Event{Name: AccountsChanged, Accounts: cp}
}

// ChainEvent builds a ChainChanged event.
func ChainEvent(chainID string) Event {
	return Event{Name: ChainChanged, ChainID: chainID}
}
