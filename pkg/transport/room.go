package transport

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"
)

// DeriveRoomID maps a document id and an optional shared secret onto a
// rendezvous room. The secret is folded in through PBKDF2 so holders of a
// mismatched secret land in a different room instead of erroring.
func DeriveRoomID(documentID, password string) string {
	sum := sha256.Sum256([]byte("collab:" + documentID))
	room := "collab-" + hex.EncodeToString(sum[:8])
	if password == "" {
		return room
	}
	key := pbkdf2.Key([]byte(password), sum[:], 4096, 8, sha256.New)
	return room + "-" + hex.EncodeToString(key)
}
