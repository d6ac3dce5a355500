package credential

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// KeyGenerator produces access keys and passwords.
type KeyGenerator interface {
	AccessKey() (string, error)
	Password() (string, error)
}

// RandomKeys draws from crypto/rand.
type RandomKeys struct{}

func (RandomKeys) AccessKey() (string, error) {
	return randomString(accessKeyAlphabet, AccessKeyLength)
}

func (RandomKeys) Password() (string, error) {
	return randomString(passwordAlphabet, PasswordLength)
}

func randomString(alphabet string, n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}

// ValidAccessKey reports whether s has the shape of an issued access key.
func ValidAccessKey(s string) bool {
	if len(s) != AccessKeyLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
