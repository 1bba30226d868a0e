package config

import "golang.org/x/crypto/bcrypt"

// HashDigestCredential bcrypt-hashes a ZK digest-scheme credential
// ("user:pass") and returns the hash; it does not store it anywhere. The
// coordination service itself still receives the plaintext credential at
// connect time.
func HashDigestCredential(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// VerifyDigestCredential reports whether plain matches a hash produced by
// HashDigestCredential.
func VerifyDigestCredential(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
