// Package bridge implements the single-operator chat-front-end variant:
// a password gate, a pending-work FIFO, and a slash-command surface over
// the session multiplexer. The chat transport itself is pluggable.
package bridge

import (
	"sync"

	"github.com/pairlink/pairlink/internal/util"
)

// PasswordPrompt is emitted to any operator the gate does not know yet.
const PasswordPrompt = "🔐 please enter password"

// AuthRequired is emitted when an unauthenticated operator tries a command.
const AuthRequired = "please authenticate first"

// Gate admits operator identities against a shared secret. The secret
// may be a bcrypt hash or plaintext; plaintext is compared in constant
// time. Admission is in-memory only and does not survive a restart.
type Gate struct {
	secret string

	mu     sync.Mutex
	authed map[string]bool
}

func NewGate(secret string) *Gate {
	return &Gate{
		secret: secret,
		authed: make(map[string]bool),
	}
}

// Authed reports whether an operator has been admitted.
func (g *Gate) Authed(operatorID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.authed[operatorID]
}

// TryPassword checks a candidate and admits the operator on match.
func (g *Gate) TryPassword(operatorID, candidate string) bool {
	if !matchSecret(g.secret, candidate) {
		return false
	}
	g.mu.Lock()
	g.authed[operatorID] = true
	g.mu.Unlock()
	return true
}

func matchSecret(secret, candidate string) bool {
	if util.IsBcryptHash(secret) {
		return util.CheckPasswordHash(candidate, secret)
	}
	return util.ConstantTimeEqual(secret, candidate)
}
