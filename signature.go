package txcart

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signature derives a stable identity for a raw transaction from its destination
// and call data. The value is not part of the identity, so two calls that only
// differ in value share a signature.
func Signature(tx RawTx) string {
	return hexutil.Encode(crypto.Keccak256(tx.To.Bytes(), tx.Data))
}
