// Package view turns a session into what the login page shows. It holds no
// state and makes no wallet calls.
package view

import (
	"moff.io/moff-login/internal/session"
	"strings"
)

const (
	Title          = "Decentralized Login"
	LoginAction    = "Login with wallet"
	LoggedIn       = "You are logged in!"
	Hint           = "Make sure you have a wallet installed and unlocked."
	NetworkLoading = "loading…"
	NetworkUnknown = "unknown"
)

// Page is one of two branches: connected (Account set) or the login action.
type Page struct {
	Title        string `json:"title"`
	Connected    bool   `json:"connected"`
	Account      string `json:"account,omitempty"`
	ShortAccount string `json:"short_account,omitempty"`
	Network      string `json:"network,omitempty"`
	Greeting     string `json:"greeting,omitempty"`
	Action       string `json:"action,omitempty"`
	Notice       string `json:"notice,omitempty"`
	Hint         string `json:"hint,omitempty"`
}

func Build(s session.Session) Page {
	p := Page{Title: Title}
	if s.Connected() {
		p.Connected = true
		p.Account = s.Account
		p.ShortAccount = ShortAddress(s.Account)
		p.Network = networkText(s)
		p.Greeting = LoggedIn
		return p
	}
	p.Action = LoginAction
	p.Notice = s.LastError
	if p.Notice == "" && s.Reason == session.DisconnectedByProvider {
		p.Notice = session.DisconnectedByProvider.Message()
	}
	p.Hint = Hint
	return p
}

func networkText(s session.Session) string {
	switch {
	case s.Network != "":
		return s.Network
	case s.NetworkPending():
		return NetworkLoading
	default:
		return NetworkUnknown
	}
}

// ShortAddress keeps the 0x prefix, the next four and the last four
// characters: 0x1234…abcd.
func ShortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}

// Text renders p for the terminal.
func Text(p Page) string {
	var b strings.Builder
	b.WriteString(p.Title)
	b.WriteString("\n")
	if p.Connected {
		b.WriteString("Connected Wallet: " + p.Account + "\n")
		b.WriteString("Network: " + p.Network + "\n")
		b.WriteString(p.Greeting)
		return b.String()
	}
	b.WriteString("[" + p.Action + "]\n")
	if p.Notice != "" {
		b.WriteString(p.Notice + "\n")
	}
	b.WriteString(p.Hint)
	return b.String()
}
