package main

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"

	"github.com/pkg/errors"
)

// credentialTable maps canonical nicknames to SHA-512 password hashes. The
// same table backs nickname reservation checks and NickServ identification.
type credentialTable map[string][sha512.Size]byte

// isReserved reports whether a nickname requires identification.
func (t credentialTable) isReserved(nickLower string) bool {
	_, ok := t[nickLower]
	return ok
}

// verify checks a cleartext password against the stored hash in constant
// time. Unknown nicknames always fail.
func (t credentialTable) verify(nickLower, password string) bool {
	stored, ok := t[nickLower]
	if !ok {
		return false
	}

	sum := sha512.Sum512([]byte(password))
	return subtle.ConstantTimeCompare(stored[:], sum[:]) == 1
}

// parsePasswordHash decodes a hex encoded SHA-512 digest.
func parsePasswordHash(s string) ([sha512.Size]byte, error) {
	var hash [sha512.Size]byte

	raw, err := hex.DecodeString(s)
	if err != nil {
		return hash, errors.Wrap(err, "password hash is not valid hex")
	}

	if len(raw) != sha512.Size {
		return hash, errors.Errorf(
			"password hash must be %d hex characters, got %d",
			sha512.Size*2, len(s))
	}

	copy(hash[:], raw)
	return hash, nil
}
