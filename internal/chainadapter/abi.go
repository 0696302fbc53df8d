package chainadapter

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// factoryABIJSON and poolABIJSON are the minimal ABI fragments covering
// exactly the calls and events this facade uses. Only two contract
// shapes exist, so these are written by hand rather than generated with
// abigen, mirroring how the bind package's BoundContract is used
// directly for small one-off bindings.
const factoryABIJSON = `[
	{"type":"function","name":"getAllPools","stateMutability":"view","inputs":[],"outputs":[{"type":"address[]"}]},
	{"type":"function","name":"createPool","stateMutability":"payable","inputs":[{"name":"hash","type":"bytes32"},{"name":"value","type":"uint256"}],"outputs":[]},
	{"type":"event","name":"PoolCreated","inputs":[{"name":"poolAddress","type":"address","indexed":true},{"name":"hash","type":"bytes32","indexed":false},{"name":"balance","type":"uint256","indexed":false}],"anonymous":false}
]`

const poolABIJSON = `[
	{"type":"function","name":"getHash","stateMutability":"view","inputs":[],"outputs":[{"type":"bytes32"}]},
	{"type":"function","name":"getPeers","stateMutability":"view","inputs":[],"outputs":[{"type":"string[]"}]},
	{"type":"function","name":"getBalance","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"deposit","stateMutability":"payable","inputs":[],"outputs":[]},
	{"type":"function","name":"enterPool","stateMutability":"nonpayable","inputs":[{"name":"nodeId","type":"string"},{"name":"k","type":"bytes32"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"},{"name":"m","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"claimRewards","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"event","name":"PeerAdded","inputs":[{"name":"nodeId","type":"string","indexed":false}],"anonymous":false},
	{"type":"event","name":"Deposit","inputs":[{"name":"amount","type":"uint256","indexed":false},{"name":"hash","type":"bytes32","indexed":false}],"anonymous":false}
]`

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("chainadapter: invalid embedded ABI: " + err.Error())
	}
	return parsed
}

var (
	factoryABI = mustParseABI(factoryABIJSON)
	poolABI    = mustParseABI(poolABIJSON)
)
