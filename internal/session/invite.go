// internal/session/invite.go
package session

import (
	"crypto/rand"
)

// inviteAlphabet avoids ambiguous characters (0/O, 1/I) so codes survive
// being read aloud.
const inviteAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const inviteCodeLen = 8

// GenerateInviteCode returns a short random share code.
func GenerateInviteCode() (string, error) {
	buf := make([]byte, inviteCodeLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = inviteAlphabet[int(b)%len(inviteAlphabet)]
	}
	return string(buf), nil
}
