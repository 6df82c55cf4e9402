package walletconnect

import (
	"moff.io/moff-login/pkg/errors"
	"time"
)

// DisplayQRCodeFn shows the pairing URI to the user. png is the URI encoded
// as a QR code image.
type DisplayQRCodeFn func(uri string, png []byte) error

// Options configures a Gateway.
type Options struct {
	// BridgeURL of the v1 bridge, a random public bridge when empty.
	BridgeURL string
	// ReadTimeout bounds the wait for the wallet's pairing answer, zero
	// waits until the request context ends.
	ReadTimeout time.Duration
	Name        string
	Description string
	URL         string
	// Display is required.
	Display DisplayQRCodeFn
}

var (
	errSessionClosed     = errors.New("walletconnect session closed")
	errPairingInProgress = errors.New("walletconnect pairing already in progress")
	errNoSession         = errors.New("no walletconnect session")
)
