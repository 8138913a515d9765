package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
)

// Digits 0/1 and letters I/O are left out so codes survive being read
// aloud or copied by hand.
const (
	referenceAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	referencePrefix   = "FX-"
	referenceLength   = 6
)

var referencePattern = regexp.MustCompile(`^FX-[ABCDEFGHJKLMNPQRSTUVWXYZ23456789]{6}$`)

// ValidReference reports whether s has the reference code format.
func ValidReference(s string) bool {
	return referencePattern.MatchString(s)
}

func newReference() (string, error) {
	buf := make([]byte, referenceLength)
	max := big.NewInt(int64(len(referenceAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate reference: %w", err)
		}
		buf[i] = referenceAlphabet[n.Int64()]
	}
	return referencePrefix + string(buf), nil
}
