// Package util holds small helpers shared across packages.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier tagged with its entity kind, e.g.
// "prp_<hex>" for proposals, "ev_<hex>" for evaluations or "spc_<hex>"
// for spaces. An empty prefix yields bare hex.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
