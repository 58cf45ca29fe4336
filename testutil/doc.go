// Package testutil provides fixtures shared by the txcart tests.
//
// It only depends on go-ethereum types so that any package, including txcart
// itself, can import it from tests. Fakes of the txcart ports (signer, waiter,
// coordinator) live in the txcart test files.
//
// # Test Fixtures
//
//   - TestAddr1, TestAddr2, TestAddr3: generic addresses
//   - TokenAddr, StakingAddr, StakerAddr, OperatorAddr, MultiSendAddr: staking flow contracts
//   - TestPrivateKey1, TestPrivateKeyHex, TestPrivateKey1Address: a test key
//   - OneEth, TwentyGwei, TwoGwei, ChainIDMainnet, ChainIDSepolia
//
// # Builders
//
//   - ApproveData, SetOperatorData, StakeData, DelegateData: encoded staking calls
//   - NewDynamicTx: an EIP-1559 transaction
//   - NewSuccessReceipt, NewFailedReceipt, HashN: receipts and hashes
package testutil
