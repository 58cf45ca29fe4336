package testutil

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ============================================================
// Test Addresses
// ============================================================

var (
	// TestAddr1 is the connected account in most tests
	TestAddr1 = common.HexToAddress("0x1111111111111111111111111111111111111111")
	// TestAddr2 is a generic destination
	TestAddr2 = common.HexToAddress("0x2222222222222222222222222222222222222222")
	// TestAddr3 is an additional test address
	TestAddr3 = common.HexToAddress("0x3333333333333333333333333333333333333333")

	// TokenAddr is the staked ERC20 token
	TokenAddr = common.HexToAddress("0x7070707070707070707070707070707070707070")
	// StakingAddr is the staking contract
	StakingAddr = common.HexToAddress("0x5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a5a")
	// StakerAddr is a staker contract deployed for a vesting position
	StakerAddr = common.HexToAddress("0x5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e5e")
	// OperatorAddr is the operator stake is delegated to
	OperatorAddr = common.HexToAddress("0x0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b")
	// MultiSendAddr is the MultiSend contract used by multisig batches
	MultiSendAddr = common.HexToAddress("0x40A2aCCbd92BCA938b02010E17A5b8929b49130D")
)

// ============================================================
// Test Private Keys
// ============================================================

var (
	// TestPrivateKeyHex is a test private key in hex format
	TestPrivateKeyHex = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	// TestPrivateKey1 is a parsed ECDSA private key for testing
	TestPrivateKey1, _ = crypto.HexToECDSA(TestPrivateKeyHex)
	// TestPrivateKey1Address is the address derived from TestPrivateKey1
	TestPrivateKey1Address = crypto.PubkeyToAddress(TestPrivateKey1.PublicKey)
)

// ============================================================
// Common Values
// ============================================================

var (
	// OneEth represents 1 token with 18 decimals
	OneEth = big.NewInt(1000000000000000000)
	// TwentyGwei represents 20 gwei
	TwentyGwei = big.NewInt(20000000000)
	// TwoGwei represents 2 gwei
	TwoGwei = big.NewInt(2000000000)
)

// ============================================================
// Chain IDs
// ============================================================

var (
	// ChainIDMainnet is the chain ID for Ethereum mainnet
	ChainIDMainnet = big.NewInt(1)
	// ChainIDSepolia is the chain ID for the Sepolia testnet
	ChainIDSepolia = big.NewInt(11155111)
)
