package walletconnect

import (
	"encoding/json"
	"moff.io/moff-login/pkg/errors"
	"moff.io/moff-login/pkg/log"
	"moff.io/moff-login/pkg/wcbridge"
	"strings"
	"time"
)

// Wallet is the session a wallet granted in its wc_sessionRequest answer.
type Wallet struct {
	Meta     clientMeta `json:"peerMeta"`
	ChainID  uint64     `json:"chainId"`
	Accounts []string   `json:"accounts"`
	PeerID   string     `json:"peerId"`
}

func (in *Wallet) copyAccounts() []string {
	out := make([]string, len(in.Accounts))
	copy(out, in.Accounts)
	return out
}

type peer struct {
	PeerID   string      `json:"peerId"`
	PeerMeta clientMeta  `json:"peerMeta"`
	ChainID  interface{} `json:"chainId"`
}

type clientMeta struct {
	Description string   `json:"description"`
	URL         string   `json:"url"`
	Icons       []string `json:"icons"`
	Name        string   `json:"name"`
}

// Bridge message types.
const (
	typePub = "pub"
	typeSub = "sub"
	typeAck = "ack"
)

type wcMessage struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Payload string `json:"payload"`
	Silent  bool   `json:"silent"`
}

func newWCMessageFromBytes(data []byte) (*wcMessage, error) {
	var msg wcMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.Wrap(err, "unmarshal wallet connect message")
	}
	return &msg, nil
}

func (msg *wcMessage) Marshal() []byte {
	bytes, _ := json.Marshal(msg)
	return bytes
}

func (msg *wcMessage) payload() (*wcbridge.Payload, error) {
	var p wcbridge.Payload
	if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
		return nil, errors.Wrap(err, "unmarshal wallet connect message payload")
	}
	return &p, nil
}

type jsonRpcRequest struct {
	Id      int64         `json:"id"`
	JSONRpc string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

func newJSONRpcRequest(method string, params ...interface{}) *jsonRpcRequest {
	r := &jsonRpcRequest{
		Id:      payloadID(),
		JSONRpc: "2.0",
		Method:  method,
		Params:  []interface{}{},
	}
	if len(params) > 0 {
		r.Params = params
	}
	return r
}

func (e *jsonRpcRequest) Marshal() []byte {
	b, err := json.Marshal(e)
	if err != nil {
		log.Errorf("marshal:%v", err)
	}
	return b
}

// IsSilentPayload: wc_ protocol messages must not trigger wallet push
// notifications.
func (e *jsonRpcRequest) IsSilentPayload() bool {
	return strings.HasPrefix(e.Method, "wc_")
}

func payloadID() int64 {
	return time.Now().UnixNano() / 1000
}
