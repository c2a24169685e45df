// Package e2ee implements a passthrough end-to-end encryption plugin:
// it never has key material, only recognizes and preserves the
// ciphertext sentinel so the server and any AfterPull plugin running
// after it never mistake encrypted payloads for plaintext JSON.
package e2ee

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-mizu/dgsync/internal/syncengine"
)

// Sentinel prefixes every ciphertext payload this plugin recognizes.
// Version 1: the remainder of the string is base64-encoded ciphertext
// produced and later decrypted entirely client-side.
const Sentinel = "dgsync:e2ee:1:"

// Plugin enforces that every mutation payload it sees is either
// sentinel-prefixed ciphertext or, when Require is true, rejects
// plaintext outright.
type Plugin struct {
	// Require, when true, makes BeforePush reject any mutation whose
	// Data does not carry the ciphertext sentinel.
	Require bool
}

// New constructs a Plugin.
func New(require bool) *Plugin {
	return &Plugin{Require: require}
}

// IsCiphertext reports whether data is a sentinel-prefixed payload.
func IsCiphertext(data json.RawMessage) bool {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return false
	}
	return strings.HasPrefix(s, Sentinel)
}

// BeforePush implements plugin.BeforePush. It does not decrypt
// anything; it only validates that encrypted scopes actually carry
// sentinel-prefixed payloads, so the commit log never silently stores
// plaintext for a scope that expects ciphertext.
func (p *Plugin) BeforePush(_ context.Context, _ string, muts []syncengine.Mutation) ([]syncengine.Mutation, error) {
	if !p.Require {
		return muts, nil
	}
	for _, m := range muts {
		if !IsCiphertext(m.Data) {
			return nil, fmt.Errorf("e2ee: mutation %s is not sentinel-prefixed ciphertext", m.ClientCommitID)
		}
	}
	return muts, nil
}

// AfterPull implements plugin.AfterPull as a no-op: ciphertext travels
// back to clients unchanged, decrypted only on-device.
func (p *Plugin) AfterPull(_ context.Context, _ string, changes []syncengine.Change) ([]syncengine.Change, error) {
	return changes, nil
}
