package chainadapter

import (
	"github.com/arkhive/poolkeeper/internal/ids"
)

// EnterPoolArgs is the ABI-shaped argument tuple for the Pool contract's
// enter_pool(nodeId: string, signature) call: the textual node id and
// the (k, r, s, m) quadruple, unpacked from an ids.EnterPoolSignature.
type EnterPoolArgs struct {
	NodeId string
	K      [32]byte
	R      [32]byte
	S      [32]byte
	M      []byte
}

// BuildEnterPoolArgs packs a freshly produced signature into the shape
// the Pool contract's enter_pool call expects. The node id is rendered
// as lowercase hex, matching the textual convention get_peers returns.
func BuildEnterPoolArgs(sig ids.EnterPoolSignature) EnterPoolArgs {
	return EnterPoolArgs{
		NodeId: sig.K.String(),
		K:      [32]byte(sig.K),
		R:      sig.R,
		S:      sig.S,
		M:      append([]byte(nil), sig.M[:]...),
	}
}
