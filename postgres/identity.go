package postgresfixture

import (
	"crypto/rand"
	"fmt"
	"io"
)

const (
	identityPrefix = "kpg_fixture_"

	identityNameLength     = 20
	identityPasswordLength = 32

	// Lowercase only: postgres case-folds unquoted identifiers, so a name
	// without uppercase stays valid even where quoting is forgotten. The
	// alphanumeric alphabet also makes every generated value safe to
	// interpolate into DDL.
	identityAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// Identity names one sandbox: a database, an owning login role with the same
// name, and the role's password. Both names carry enough entropy that
// concurrent provisionings against one server do not collide.
type Identity struct {
	Database string
	Role     string
	Password string
}

// NewIdentity generates a fresh Identity from crypto/rand.
func NewIdentity() (Identity, error) {
	return newIdentity(rand.Reader)
}

func newIdentity(random io.Reader) (Identity, error) {
	name, err := randomString(random, identityNameLength)
	if err != nil {
		return Identity{}, fmt.Errorf("generate sandbox name, %w", err)
	}

	password, err := randomString(random, identityPasswordLength)
	if err != nil {
		return Identity{}, fmt.Errorf("generate sandbox password, %w", err)
	}

	database := identityPrefix + name

	return Identity{
		Database: database,
		Role:     database,
		Password: password,
	}, nil
}

// randomString samples length characters uniformly from identityAlphabet.
// Bytes at or above the highest multiple of the alphabet size are rejected,
// otherwise the modulo would skew the distribution.
func randomString(random io.Reader, length int) (string, error) {
	const limit = byte(len(identityAlphabet) * (256 / len(identityAlphabet)))

	out := make([]byte, 0, length)
	buf := make([]byte, length)

	for len(out) < length {
		_, err := io.ReadFull(random, buf)
		if err != nil {
			return "", fmt.Errorf("read random bytes, %w", err)
		}

		for _, b := range buf {
			if b >= limit {
				continue
			}

			out = append(out, identityAlphabet[int(b)%len(identityAlphabet)])

			if len(out) == length {
				break
			}
		}
	}

	return string(out), nil
}
