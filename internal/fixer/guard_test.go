// internal/fixer/guard_test.go
package fixer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckBranchAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		current   string
		protected string
		wantErr   bool
	}{
		{name: "fix branch is allowed", current: "fix/custodian-abc123", protected: "main", wantErr: false},
		{name: "protected branch is refused", current: "main", protected: "main", wantErr: true},
		{name: "other long-lived branch is allowed", current: "develop", protected: "main", wantErr: false},
		{name: "protected master", current: "master", protected: "master", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := CheckBranchAllowed(tt.current, tt.protected)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrProtectedBranch)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBranchNameDeterministic(t *testing.T) {
	t.Parallel()

	a := BranchName("0b5e3c1a-9f42-4c1d-8a77-2f9f34b1c001")
	b := BranchName("0b5e3c1a-9f42-4c1d-8a77-2f9f34b1c001")
	assert.Equal(t, a, b, "the same item always maps to the same branch")
	assert.Contains(t, a, "fix/custodian-")

	other := BranchName("ffffffff-0000-1111-2222-333333333333")
	assert.NotEqual(t, a, other)
}
