// internal/version/token_test.go

package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueUniqueOpaqueTokens(t *testing.T) {
	seen := make(map[string]struct{}, 64)
	for i := 0; i < 64; i++ {
		tok := Issue()
		require.Len(t, tok, 36, "UUID text form")
		_, dup := seen[tok]
		require.False(t, dup, "token %q issued twice", tok)
		seen[tok] = struct{}{}
	}
}

func TestCheckExactMatch(t *testing.T) {
	tok := Issue()
	assert.NoError(t, Check(tok, tok))
}

func TestCheckMismatch(t *testing.T) {
	assert.ErrorIs(t, Check(Issue(), Issue()), ErrMismatch)
}

func TestCheckMissingSuppliedToken(t *testing.T) {
	// The precondition is mandatory; omitting the token is a conflict, not
	// a bypass.
	assert.ErrorIs(t, Check(Issue(), ""), ErrMismatch)
}

func TestCheckNoPartialMatching(t *testing.T) {
	tok := Issue()
	assert.ErrorIs(t, Check(tok, tok[:8]), ErrMismatch)
}
