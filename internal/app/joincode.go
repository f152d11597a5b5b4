package app

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// joinCodeAlphabet omits 0, 1, I and O, which are easy to misread.
const joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const joinCodeLength = 6

// NewJoinCode returns a random short code for human entry.
func NewJoinCode() string {
	var b strings.Builder
	max := big.NewInt(int64(len(joinCodeAlphabet)))
	for i := 0; i < joinCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b.WriteByte(joinCodeAlphabet[n.Int64()])
	}
	return b.String()
}

// NormalizeJoinCode trims and upper-cases user input.
func NormalizeJoinCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
