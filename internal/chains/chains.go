package chains

import (
	"fmt"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"moff.io/moff-login/pkg/errors"
	"strings"
)

// Unknown is the network name reported for chain ids missing from the table.
const Unknown = "unknown"

type Blockchain struct {
	ID    uint64
	IDHex string
	Name  string
}

var (
	// names follow the ethers network registry where it has one
	Array = []*Blockchain{
		{ID: 1, Name: "mainnet"},
		{ID: 3, Name: "ropsten"},
		{ID: 4, Name: "rinkeby"},
		{ID: 5, Name: "goerli"},
		{ID: 10, Name: "optimism"},
		{ID: 25, Name: "cronos"},
		{ID: 42, Name: "kovan"},
		{ID: 56, Name: "bnb"},
		{ID: 97, Name: "bnbt"},
		{ID: 100, Name: "xdai"},
		{ID: 137, Name: "matic"},
		{ID: 250, Name: "fantom"},
		{ID: 8453, Name: "base"},
		{ID: 17000, Name: "holesky"},
		{ID: 42161, Name: "arbitrum"},
		{ID: 43113, Name: "avalanche testnet"},
		{ID: 43114, Name: "avalanche"},
		{ID: 80001, Name: "maticmum"},
		{ID: 11155111, Name: "sepolia"},
	}

	Mapping = map[uint64]*Blockchain{}
)

// nolint:gochecknoinits
func init() {
	for _, c := range Array {
		c.IDHex = hexutil.EncodeUint64(c.ID)
		Mapping[c.ID] = c
	}
}

// Lookup returns the table entry for id.
func Lookup(id uint64) (*Blockchain, bool) {
	c, ok := Mapping[id]
	return c, ok
}

// Name returns the human readable name of id, Unknown when not in the table.
func Name(id uint64) string {
	if c, ok := Lookup(id); ok {
		return c.Name
	}
	return Unknown
}

// ParseID decodes a chain id as sent by wallets: 0x-prefixed hex, or a
// decimal string from older providers.
func ParseID(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		id, err := hexutil.DecodeUint64(strings.ToLower(raw))
		if err != nil {
			return 0, errors.Wrapf(err, "decode chain id %q", raw)
		}
		return id, nil
	}
	var id uint64
	if _, err := fmt.Sscan(raw, &id); err != nil {
		return 0, errors.Wrapf(err, "decode chain id %q", raw)
	}
	return id, nil
}

// HexID formats id the way chainChanged events carry it.
func HexID(id uint64) string {
	return hexutil.EncodeUint64(id)
}
