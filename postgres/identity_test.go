package postgresfixture

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_NewIdentity_NoDuplicates(t *testing.T) {
	t.Parallel()

	const count = 1000

	seen := make(map[string]struct{}, count)

	for i := 0; i < count; i++ {
		identity, err := NewIdentity()
		require.NoError(t, err)

		_, duplicate := seen[identity.Database]
		require.False(t, duplicate, "duplicate database name %s", identity.Database)

		seen[identity.Database] = struct{}{}

		assertIdentityShape(t, identity)
	}
}

func assertIdentityShape(t *testing.T, identity Identity) {
	t.Helper()

	require.Equal(t, identity.Database, identity.Role)
	require.True(t, strings.HasPrefix(identity.Database, identityPrefix))

	name := strings.TrimPrefix(identity.Database, identityPrefix)
	require.Len(t, name, identityNameLength)
	require.Len(t, identity.Password, identityPasswordLength)

	for _, r := range name + identity.Password {
		require.Contains(t, identityAlphabet, string(r))
	}
}

func Test_newIdentity_Deterministic(t *testing.T) {
	t.Parallel()

	seed := bytes.Repeat([]byte{0, 1, 2, 3, 4, 5, 6, 7}, 32)

	first, err := newIdentity(bytes.NewReader(seed))
	require.NoError(t, err)

	second, err := newIdentity(bytes.NewReader(seed))
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func Test_randomString_RejectsBiasedBytes(t *testing.T) {
	t.Parallel()

	// Bytes at or above the rejection limit are skipped, the rest map onto
	// the alphabet by modulo.
	input := []byte{255, 254, 253, 252, 0, 1, 35, 36}

	out, err := randomString(bytes.NewReader(input), 4)
	require.NoError(t, err)

	require.Equal(t, "ab9a", out)
}

func Test_randomString_ShortReader(t *testing.T) {
	t.Parallel()

	_, err := randomString(bytes.NewReader([]byte{1, 2}), 8)
	require.Error(t, err)
}
