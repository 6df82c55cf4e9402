// Package wcbridge holds the WalletConnect v1 bridge helpers: payload
// encryption and bridge URL handling.
//
// Pairing flow, see https://docs.walletconnect.com/tech-spec#establishing-connection:
//  1. the dApp subscribes on its client id topic
//  2. it publishes an encrypted wc_sessionRequest on the handshake topic and
//     shows the wc: URI (handshake topic, bridge, key) as a QR code
//  3. the wallet answers on the client id topic; later wc_sessionUpdate
//     messages carry account / chain changes or the disconnect
package wcbridge

import (
	"encoding/hex"
	"fmt"
	"moff.io/moff-login/pkg/errors"
	"math/rand"
	"net/url"
	"strings"
	"time"
)

const (
	alphanumerical  = "abcdefghijklmnopqrstuvwxyz0123456789"
	bridgeURLFormat = "https://%v.bridge.walletconnect.org"
)

var rnd = rand.New(rand.NewSource(time.Now().UnixNano()))

// RandomBridgeURL picks one of the public v1 bridges.
func RandomBridgeURL() string {
	c := alphanumerical[rnd.Intn(len(alphanumerical))]
	return fmt.Sprintf(bridgeURLFormat, string(c))
}

// GetWebSocketUrl turns a bridge URL into its websocket endpoint.
func GetWebSocketUrl(bridgeURL, protocol, version string) string {
	switch {
	case strings.HasPrefix(bridgeURL, "https://"):
		bridgeURL = "wss://" + strings.TrimPrefix(bridgeURL, "https://")
	case strings.HasPrefix(bridgeURL, "http://"):
		bridgeURL = "ws://" + strings.TrimPrefix(bridgeURL, "http://")
	}
	q := url.Values{}
	q.Set("protocol", protocol)
	q.Set("version", version)
	q.Set("env", "browser")
	return bridgeURL + "?" + q.Encode()
}

// PairingURI is the wc: URI shown to the wallet as a QR code.
func PairingURI(handshakeTopic, bridgeURL string, key []byte) string {
	return fmt.Sprintf("wc:%s@1?bridge=%s&key=%s",
		handshakeTopic, url.QueryEscape(bridgeURL), hex.EncodeToString(key))
}

// ParsePairingURI is the inverse of PairingURI.
func ParsePairingURI(uri string) (topic, bridgeURL string, key []byte, err error) {
	if !strings.HasPrefix(uri, "wc:") {
		return "", "", nil, errors.Errorf("not a walletconnect uri: %q", uri)
	}
	rest := strings.TrimPrefix(uri, "wc:")
	at := strings.Index(rest, "@")
	q := strings.Index(rest, "?")
	if at < 0 || q < at {
		return "", "", nil, errors.Errorf("malformed walletconnect uri: %q", uri)
	}
	values, err := url.ParseQuery(rest[q+1:])
	if err != nil {
		return "", "", nil, err
	}
	key, err = hex.DecodeString(values.Get("key"))
	if err != nil {
		return "", "", nil, errors.Wrap(err, "decode key")
	}
	return rest[:at], values.Get("bridge"), key, nil
}
