package txcart

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const multiSendABIJSON = `[{"inputs":[{"internalType":"bytes","name":"transactions","type":"bytes"}],"name":"multiSend","outputs":[],"stateMutability":"payable","type":"function"}]`

var multiSendABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(multiSendABIJSON))
	if err != nil {
		panic(fmt.Sprintf("invalid multiSend abi: %s", err))
	}
	multiSendABI = parsed
}

// operation byte of a MultiSend entry, only plain calls are batched
const multiSendOpCall byte = 0

// EncodeMultiSend aggregates txs into one call to the MultiSend contract at
// multiSend. Each entry is packed as operation(1) | to(20) | value(32) |
// data length(32) | data and the concatenation is passed to multiSend(bytes).
func EncodeMultiSend(multiSend common.Address, txs []RawTx) (RawTx, error) {
	if multiSend == (common.Address{}) {
		return RawTx{}, ErrNoMultiSendAddress
	}

	var packed []byte
	for i, tx := range txs {
		value := tx.Value
		if value == nil {
			value = new(big.Int)
		}
		if value.Sign() < 0 || value.BitLen() > 256 {
			return RawTx{}, fmt.Errorf("multisend entry %d: value %s out of uint256 range", i, value)
		}
		packed = append(packed, multiSendOpCall)
		packed = append(packed, tx.To.Bytes()...)
		packed = append(packed, common.LeftPadBytes(value.Bytes(), 32)...)
		packed = append(packed, common.LeftPadBytes(new(big.Int).SetInt64(int64(len(tx.Data))).Bytes(), 32)...)
		packed = append(packed, tx.Data...)
	}

	data, err := multiSendABI.Pack("multiSend", packed)
	if err != nil {
		return RawTx{}, fmt.Errorf("couldn't pack multiSend call: %w", err)
	}
	return RawTx{To: multiSend, Data: data, Value: new(big.Int)}, nil
}

// DecodeMultiSend reverses EncodeMultiSend, given the call data of a multiSend call
func DecodeMultiSend(data []byte) ([]RawTx, error) {
	method, err := multiSendABI.MethodById(data)
	if err != nil {
		return nil, fmt.Errorf("not a multiSend call: %w", err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("couldn't unpack multiSend call: %w", err)
	}
	packed, ok := args[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected multiSend argument %T", args[0])
	}

	const header = 1 + common.AddressLength + 32 + 32
	var txs []RawTx
	for offset := 0; offset < len(packed); {
		if len(packed)-offset < header {
			return nil, fmt.Errorf("truncated multisend entry at byte %d", offset)
		}
		entry := packed[offset:]
		if entry[0] != multiSendOpCall {
			return nil, fmt.Errorf("unsupported multisend operation %d at byte %d", entry[0], offset)
		}
		to := common.BytesToAddress(entry[1 : 1+common.AddressLength])
		value := new(big.Int).SetBytes(entry[1+common.AddressLength : 1+common.AddressLength+32])
		lenWord := entry[1+common.AddressLength+32 : header]
		if new(big.Int).SetBytes(lenWord[:24]).Sign() != 0 {
			return nil, fmt.Errorf("multisend entry at byte %d has oversized data", offset)
		}
		size := binary.BigEndian.Uint64(lenWord[24:])
		if uint64(len(entry)-header) < size {
			return nil, fmt.Errorf("truncated multisend data at byte %d", offset)
		}
		txs = append(txs, RawTx{
			To:    to,
			Value: value,
			Data:  common.CopyBytes(entry[header : header+int(size)]),
		})
		offset += header + int(size)
	}
	return txs, nil
}
