package nonce

import "fmt"

var (
	// ErrAbnormalNonceState is returned when the node reports a mined nonce above its pending nonce
	ErrAbnormalNonceState = fmt.Errorf("mined nonce is higher than pending nonce, retry later")
	ErrNotReserved        = fmt.Errorf("nonce is not the last reserved one")
)
