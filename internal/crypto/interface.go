package crypto

// Provider seals and opens payloads under a password bound to a profile.
type Provider interface {
	// Seal encrypts plaintext and returns a printable token.
	Seal(profileID, password string, plaintext []byte) (string, error)

	// Open reverses Seal. A wrong password or another profile's token
	// yields ErrDecryptionFailed.
	Open(profileID, password, token string) ([]byte, error)

	// Verifier derives a value that identifies password for profileID
	// without revealing it.
	Verifier(profileID, password string, salt []byte) ([]byte, error)
}
