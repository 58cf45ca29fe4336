package testutil

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ============================================================
// Call Data Builders
// ============================================================

const stakingABIJSON = `[
	{"type":"function","name":"approve","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"setOperator","inputs":[{"name":"operator","type":"address"}],"outputs":[]},
	{"type":"function","name":"stake","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"delegate","inputs":[{"name":"operator","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]}
]`

// StakingABI holds the token and staking calls used by test flows
var StakingABI = mustABI(stakingABIJSON)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("testutil: bad abi: %s", err))
	}
	return parsed
}

func mustPack(method string, args ...interface{}) []byte {
	data, err := StakingABI.Pack(method, args...)
	if err != nil {
		panic(fmt.Sprintf("testutil: couldn't pack %s: %s", method, err))
	}
	return data
}

// ApproveData encodes an ERC20 approve(spender, amount) call
func ApproveData(spender common.Address, amount *big.Int) []byte {
	return mustPack("approve", spender, amount)
}

// SetOperatorData encodes setOperator(operator)
func SetOperatorData(operator common.Address) []byte {
	return mustPack("setOperator", operator)
}

// StakeData encodes stake(amount)
func StakeData(amount *big.Int) []byte {
	return mustPack("stake", amount)
}

// DelegateData encodes delegate(operator, amount)
func DelegateData(operator common.Address, amount *big.Int) []byte {
	return mustPack("delegate", operator, amount)
}

// ============================================================
// Transaction Builders
// ============================================================

// NewDynamicTx creates a new EIP-1559 dynamic fee transaction for testing
func NewDynamicTx(nonce uint64, to common.Address, value *big.Int, gasLimit uint64, gasTipCap, gasFeeCap *big.Int, chainID *big.Int) *types.Transaction {
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     value,
	})
}

// ============================================================
// Receipt Builders
// ============================================================

// NewReceipt creates a receipt for a transaction hash with a specific status
func NewReceipt(hash common.Hash, status uint64) *types.Receipt {
	return &types.Receipt{
		Status:            status,
		TxHash:            hash,
		BlockNumber:       big.NewInt(12345678),
		BlockHash:         common.HexToHash("0xabcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890"),
		GasUsed:           21000,
		CumulativeGasUsed: 21000,
	}
}

// NewSuccessReceipt creates a successful receipt
func NewSuccessReceipt(hash common.Hash) *types.Receipt {
	return NewReceipt(hash, types.ReceiptStatusSuccessful)
}

// NewFailedReceipt creates a reverted receipt
func NewFailedReceipt(hash common.Hash) *types.Receipt {
	return NewReceipt(hash, types.ReceiptStatusFailed)
}

// HashN returns a deterministic transaction hash for test number n
func HashN(n int) common.Hash {
	return common.BigToHash(big.NewInt(int64(0xbeef0000 + n)))
}
