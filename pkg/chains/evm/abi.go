package evm

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// BridgeABI is the subset of the bridge contract interface the relayer talks to.
const BridgeABI = `[
  {"type":"event","name":"Lock","anonymous":false,"inputs":[
    {"name":"sender","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"orderId","type":"bytes32","indexed":true},
    {"name":"nonce","type":"uint64","indexed":false}]},
  {"type":"event","name":"Burn","anonymous":false,"inputs":[
    {"name":"sender","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"orderId","type":"bytes32","indexed":true},
    {"name":"destRecipient","type":"bytes32","indexed":false},
    {"name":"nonce","type":"uint64","indexed":false}]},
  {"type":"function","name":"executeUnlock","stateMutability":"nonpayable","outputs":[],"inputs":[
    {"name":"sourceChainId","type":"uint64"},
    {"name":"orderId","type":"bytes32"},
    {"name":"recipient","type":"address"},
    {"name":"amount","type":"uint256"},
    {"name":"nonce","type":"uint64"},
    {"name":"timestamp","type":"uint64"},
    {"name":"signatures","type":"bytes[]"}]},
  {"type":"function","name":"executeMint","stateMutability":"nonpayable","outputs":[],"inputs":[
    {"name":"sourceChainId","type":"uint64"},
    {"name":"orderId","type":"bytes32"},
    {"name":"recipient","type":"address"},
    {"name":"amount","type":"uint256"},
    {"name":"nonce","type":"uint64"},
    {"name":"timestamp","type":"uint64"},
    {"name":"signatures","type":"bytes[]"}]},
  {"type":"function","name":"executed","stateMutability":"view","inputs":[
    {"name":"orderId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]}
]`

var bridgeABI = mustParseABI(BridgeABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// eventLog receives both Lock and Burn logs from bind.BoundContract.UnpackLog. DestRecipient stays zero for locks.
type eventLog struct {
	Sender        common.Address
	Amount        *big.Int
	OrderId       [32]byte
	DestRecipient [32]byte
	Nonce         uint64
}
