package txcart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queued(id string, step StepType, group string, deps ...DependencyKey) *CartTransaction {
	return &CartTransaction{
		ID:       id,
		Label:    id,
		Status:   StatusPending,
		Metadata: Metadata{StepType: step, StepGroupIdentifier: group, DependsOn: deps},
	}
}

func TestResolve(t *testing.T) {
	approve := queued("approve", StepApprove, "v1")
	operator := queued("operator", StepSetOperator, "v1")
	queue := []*CartTransaction{operator, approve}

	t.Run("keeps declared order", func(t *testing.T) {
		stake := queued("stake", StepStake, "v1",
			DependencyKey{StepType: StepApprove, StepGroupIdentifier: "v1"},
			DependencyKey{StepType: StepSetOperator, StepGroupIdentifier: "v1"},
		)
		deps, missing := Resolve(stake, queue)
		assert.Empty(t, missing)
		require.Len(t, deps, 2)
		assert.Equal(t, "approve", deps[0].ID)
		assert.Equal(t, "operator", deps[1].ID)
	})

	t.Run("group must match", func(t *testing.T) {
		stake := queued("stake", StepStake, "v2", DependencyKey{StepType: StepApprove, StepGroupIdentifier: "v2"})
		_, err := ResolveStrict(stake, queue)
		var missing *MissingDependencyError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, []DependencyKey{{StepType: StepApprove, StepGroupIdentifier: "v2"}}, missing.Missing)
	})

	t.Run("never resolves to itself", func(t *testing.T) {
		self := queued("self", StepApprove, "v1", DependencyKey{StepType: StepApprove, StepGroupIdentifier: "v1"})
		_, missing := Resolve(self, []*CartTransaction{self})
		assert.Len(t, missing, 1)
	})

	t.Run("unknown step names render raw", func(t *testing.T) {
		err := &MissingDependencyError{Missing: []DependencyKey{{StepType: "custom"}, {StepType: StepStake}}}
		assert.Equal(t, "missing dependency: custom, Stake", err.Error())
	})
}

func TestHasDependents(t *testing.T) {
	approve := queued("approve", StepApprove, "v1")
	stake := queued("stake", StepStake, "v1", DependencyKey{StepType: StepApprove, StepGroupIdentifier: "v1"})
	queue := []*CartTransaction{approve, stake}

	assert.True(t, HasDependents("approve", queue))
	assert.False(t, HasDependents("stake", queue))
	assert.False(t, HasDependents("approve", []*CartTransaction{approve}))
}

func TestValidateOrder(t *testing.T) {
	approve := queued("approve", StepApprove, "v1")
	stake := queued("stake", StepStake, "v1", DependencyKey{StepType: StepApprove, StepGroupIdentifier: "v1"})
	delegate := queued("delegate", StepDelegate, "v1", DependencyKey{StepType: StepStake, StepGroupIdentifier: "v1"})

	tests := []struct {
		name       string
		queue      []*CartTransaction
		dependent  string
		dependency string
	}{
		{name: "valid", queue: []*CartTransaction{approve, stake, delegate}},
		{name: "swapped pair", queue: []*CartTransaction{stake, approve, delegate}, dependent: "stake", dependency: "approve"},
		{name: "last before middle", queue: []*CartTransaction{approve, delegate, stake}, dependent: "delegate", dependency: "stake"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOrder(tt.queue)
			if tt.dependent == "" {
				assert.NoError(t, err)
				return
			}
			var orderErr *OrderingError
			require.ErrorAs(t, err, &orderErr)
			assert.ErrorIs(t, err, ErrDependencyOrder)
			assert.Equal(t, tt.dependent, orderErr.Dependent.ID)
			assert.Equal(t, tt.dependency, orderErr.Dependency.ID)
		})
	}

	t.Run("missing provider is not an ordering error", func(t *testing.T) {
		assert.NoError(t, ValidateOrder([]*CartTransaction{stake}))
		assert.NoError(t, ValidateOrder([]*CartTransaction{stake, delegate}))
	})

	t.Run("resolved dependency still checked next to a missing one", func(t *testing.T) {
		err := ValidateOrder([]*CartTransaction{delegate, stake})
		var orderErr *OrderingError
		require.ErrorAs(t, err, &orderErr)
		assert.Equal(t, "delegate", orderErr.Dependent.ID)
	})
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusExecuting, true},
		{"", StatusExecuting, true},
		{StatusPending, StatusCompleted, false},
		{StatusExecuting, StatusCompleted, true},
		{StatusExecuting, StatusFailed, true},
		{StatusExecuting, StatusPending, true},
		{StatusCompleted, StatusPending, false},
		{StatusFailed, StatusExecuting, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to), "%q -> %q", tt.from, tt.to)
	}
}

func TestIsUserRejection(t *testing.T) {
	assert.True(t, IsUserRejection(ErrUserRejected))
	assert.True(t, IsUserRejection(userRejectedErr{}))
	assert.False(t, IsUserRejection(assert.AnError))
	for _, msg := range []string{
		"MetaMask Tx Signature: User denied transaction signature.",
		"ACTION_REJECTED",
		"user rejected the request",
	} {
		assert.True(t, IsUserRejection(errorString(msg)), msg)
	}
	assert.False(t, IsUserRejection(nil))
	assert.False(t, IsUserRejection(errorString("insufficient funds for gas")))
}

type errorString string

func (e errorString) Error() string { return string(e) }
