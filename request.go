package txcart

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// TxRequest builds a cart transaction step by step (similar to go-resty's R() method)
type TxRequest struct {
	cart *Cart

	txType      TxType
	label       string
	description string
	to          common.Address
	value       *big.Int
	data        []byte
	metadata    Metadata
	opts        AddOptions

	err error
}

// R creates a new transaction request for the cart
func (c *Cart) R() *TxRequest {
	return &TxRequest{
		cart:  c,
		value: big.NewInt(0),
	}
}

// SetType sets the transaction type
func (r *TxRequest) SetType(txType TxType) *TxRequest {
	r.txType = txType
	return r
}

// SetLabel sets the human facing summary
func (r *TxRequest) SetLabel(label string) *TxRequest {
	r.label = label
	return r
}

// SetDescription sets the human facing description
func (r *TxRequest) SetDescription(description string) *TxRequest {
	r.description = description
	return r
}

// SetTo sets the destination address
func (r *TxRequest) SetTo(to common.Address) *TxRequest {
	r.to = to
	return r
}

// SetValue sets the value in wei
func (r *TxRequest) SetValue(value *big.Int) *TxRequest {
	if value != nil {
		r.value = value
	}
	return r
}

// SetData sets the encoded call data
func (r *TxRequest) SetData(data []byte) *TxRequest {
	r.data = data
	return r
}

// SetCall packs method with args using the contract abi and uses it as call data.
// A packing error is returned by Add.
func (r *TxRequest) SetCall(contract abi.ABI, method string, args ...interface{}) *TxRequest {
	data, err := contract.Pack(method, args...)
	if err != nil {
		r.err = fmt.Errorf("couldn't pack %s: %w", method, err)
		return r
	}
	r.data = data
	return r
}

// SetStep sets the step this transaction provides
func (r *TxRequest) SetStep(step StepType, group string) *TxRequest {
	r.metadata.StepType = step
	r.metadata.StepGroupIdentifier = group
	return r
}

// DependsOn declares a step that must be queued, and run, before this transaction
func (r *TxRequest) DependsOn(step StepType, group string) *TxRequest {
	r.metadata.DependsOn = append(r.metadata.DependsOn, DependencyKey{StepType: step, StepGroupIdentifier: group})
	return r
}

// SetAmount sets the staked or delegated token amount
func (r *TxRequest) SetAmount(amount *big.Int) *TxRequest {
	r.metadata.Amount = amount
	return r
}

// SetOperator sets the operator address
func (r *TxRequest) SetOperator(operator common.Address) *TxRequest {
	r.metadata.Operator = operator
	return r
}

// SetStaker sets the staker contract address
func (r *TxRequest) SetStaker(staker common.Address) *TxRequest {
	r.metadata.Staker = staker
	return r
}

// SetVestingID sets the vesting position identifier
func (r *TxRequest) SetVestingID(id string) *TxRequest {
	r.metadata.VestingID = id
	return r
}

// SetExtra stores an application specific value
func (r *TxRequest) SetExtra(key, value string) *TxRequest {
	if r.metadata.Extra == nil {
		r.metadata.Extra = make(map[string]string)
	}
	r.metadata.Extra[key] = value
	return r
}

// PreventDuplicate rejects the request when a transaction with the same call is already queued
func (r *TxRequest) PreventDuplicate() *TxRequest {
	r.opts.PreventDuplicate = true
	return r
}

// Build returns the request as a NewTransaction
func (r *TxRequest) Build() (NewTransaction, error) {
	if r.err != nil {
		return NewTransaction{}, r.err
	}
	return NewTransaction{
		Type:        r.txType,
		Label:       r.label,
		Description: r.description,
		Transaction: RawTx{To: r.to, Data: r.data, Value: r.value},
		Metadata:    r.metadata,
	}, nil
}

// Add admits the request into the cart
func (r *TxRequest) Add(ctx context.Context) (*CartTransaction, error) {
	nt, err := r.Build()
	if err != nil {
		return nil, err
	}
	return r.cart.Add(ctx, nt, r.opts)
}
