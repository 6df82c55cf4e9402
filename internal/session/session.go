package session

import (
	"encoding/json"
	"fmt"
	"moff.io/moff-login/pkg/errors"
)

// Status of the wallet connection.
type Status int

const (
	Disconnected Status = iota
	Connected
	Error
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "disconnected":
		*s = Disconnected
	case "connected":
		*s = Connected
	case "error":
		*s = Error
	default:
		return errors.Errorf("unknown session status %q", string(b))
	}
	return nil
}

// Class classifies why a transition did not end in a plain success.
type Class string

const (
	// GatewayMissing: no wallet provider is available.
	GatewayMissing Class = "gateway_missing"
	// ConnectRejected: the account request failed or was declined.
	ConnectRejected Class = "connect_rejected"
	// NetworkLookupFailed: accounts were granted but the network name could
	// not be read. Tolerated, the session stays connected.
	NetworkLookupFailed Class = "network_lookup_failed"
	// DisconnectedByProvider: the wallet reported zero accounts.
	DisconnectedByProvider Class = "disconnected_by_provider"
)

var messages = map[Class]string{
	GatewayMissing:         "No wallet provider found. Please install a wallet to connect.",
	ConnectRejected:        "Connection to the wallet failed. Please make sure the wallet is unlocked and you approve the connection.",
	NetworkLookupFailed:    "Could not read the wallet network.",
	DisconnectedByProvider: "Disconnected from the wallet.",
}

// Message is the user facing text for c.
func (c Class) Message() string {
	return messages[c]
}

// Session is the page-local view of the wallet connection. Values are
// copies; only the Manager mutates the live one.
type Session struct {
	Status  Status `json:"status"`
	Account string `json:"account,omitempty"`
	Network string `json:"network,omitempty"`
	// LastError is set only in the Error status.
	LastError string `json:"last_error,omitempty"`
	// Reason is the class of the latest transition, empty after a success.
	Reason Class `json:"reason,omitempty"`
}

// Connected reports whether an account is held.
func (s Session) Connected() bool {
	return s.Status == Connected && s.Account != ""
}

// NetworkPending is true between account access and the network lookup result.
func (s Session) NetworkPending() bool {
	return s.Connected() && s.Network == "" && s.Reason != NetworkLookupFailed
}

func (s Session) String() string {
	b, _ := json.Marshal(s)
	return string(b)
}
