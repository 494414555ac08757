// Package rootid generates the opaque per-workflow identifiers that scope
// spawn-limit accounting and propagate through every queue message body
// for a workflow's lifetime.
package rootid

import (
	"encoding/base64"

	"github.com/google/uuid"
)

// New returns a fresh 128-bit identifier rendered as unpadded base64url,
// guaranteed never to contain "/" so it can be safely concatenated with a
// memo key as "rootId/memoKey".
func New() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	b := id[:]
	return base64.RawURLEncoding.EncodeToString(b), nil
}
