package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashKey(t *testing.T) {
	a := HashKey([]byte("pepper"), "sk_live_1")
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashKey([]byte("pepper"), "sk_live_1"))
	assert.NotEqual(t, a, HashKey([]byte("other"), "sk_live_1"))
	assert.NotEqual(t, a, HashKey([]byte("pepper"), "sk_live_2"))
}

func TestAPIKeyInfo_HasScope(t *testing.T) {
	k := &APIKeyInfo{Scopes: []string{"orders:read", ScopeOrdersAdmin}}
	assert.True(t, k.HasScope(ScopeOrdersAdmin))
	assert.False(t, k.HasScope("catalog:write"))
}
