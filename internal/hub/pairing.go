package hub

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/pairlink/pairlink/internal/errors"
	"github.com/pairlink/pairlink/internal/protocol"
	"github.com/pairlink/pairlink/internal/util"
)

// Alphabet excludes visually ambiguous characters (0, O, 1, I).
const pairCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const maxCodeAttempts = 10

// PendingPair is an unconfirmed pairing request.
type PendingPair struct {
	Code      string
	Initiator protocol.Device
	ExpiresAt time.Time
}

// PairingStore issues and times out pairing codes. A device has at most
// one pending code; a new request replaces the prior one.
type PairingStore struct {
	mu       sync.Mutex
	byCode   map[string]*PendingPair
	byDevice map[string]string
	ttl      time.Duration
	now      func() time.Time
}

func NewPairingStore(ttl time.Duration) *PairingStore {
	return &PairingStore{
		byCode:   make(map[string]*PendingPair),
		byDevice: make(map[string]string),
		ttl:      ttl,
		now:      time.Now,
	}
}

// NormalizeCode strips separators and uppercases, so "abcd-efgh",
// "ABCDEFGH" and "abcdefgh" all resolve to the same pending pair.
func NormalizeCode(code string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(code)) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Request invalidates any prior pending code for the initiator and
// issues a fresh one.
func (s *PairingStore) Request(initiator protocol.Device) (*PendingPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prevCode, ok := s.byDevice[initiator.ID]; ok {
		delete(s.byCode, prevCode)
		delete(s.byDevice, initiator.ID)
	}

	var code string
	for attempt := 0; ; attempt++ {
		if attempt == maxCodeAttempts {
			return nil, fmt.Errorf("could not generate a unique pair code after %d attempts", maxCodeAttempts)
		}
		code = generatePairCode()
		if _, taken := s.byCode[NormalizeCode(code)]; !taken {
			break
		}
	}

	pending := &PendingPair{
		Code:      code,
		Initiator: initiator,
		ExpiresAt: s.now().Add(s.ttl),
	}
	s.byCode[NormalizeCode(code)] = pending
	s.byDevice[initiator.ID] = NormalizeCode(code)

	log.Info().
		Str("deviceId", initiator.ID).
		Str("role", string(initiator.Role)).
		Str("code", util.MaskCode(pending.Code)).
		Time("expiresAt", pending.ExpiresAt).
		Msg("pair code issued")

	return pending, nil
}

// Confirm resolves a code for the confirming device and, on success,
// consumes it and returns the initiator. A role conflict leaves the
// code valid so the user may retry from the correct side.
func (s *PairingStore) Confirm(code string, confirmer protocol.Device) (protocol.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := NormalizeCode(code)
	pending, ok := s.byCode[key]
	if !ok {
		return protocol.Device{}, apperrors.InvalidPairCode()
	}

	if s.now().After(pending.ExpiresAt) {
		s.deleteLocked(pending)
		return protocol.Device{}, apperrors.PairCodeExpired()
	}

	if pending.Initiator.Role == confirmer.Role {
		return protocol.Device{}, apperrors.RoleConflict()
	}

	s.deleteLocked(pending)

	log.Info().
		Str("initiator", pending.Initiator.ID).
		Str("confirmer", confirmer.ID).
		Msg("pair code confirmed")

	return pending.Initiator, nil
}

// Lookup returns the pending pair for a code without consuming it.
func (s *PairingStore) Lookup(code string) *PendingPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byCode[NormalizeCode(code)]
}

// PendingFor returns the pending pair issued to a device, if any.
func (s *PairingStore) PendingFor(deviceID string) *PendingPair {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code, ok := s.byDevice[deviceID]; ok {
		return s.byCode[code]
	}
	return nil
}

// DeleteExpired removes all pendings past their expiry and returns the count.
func (s *PairingStore) DeleteExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for _, pending := range s.byCode {
		if now.After(pending.ExpiresAt) {
			s.deleteLocked(pending)
			removed++
		}
	}
	return removed
}

func (s *PairingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byCode)
}

func (s *PairingStore) deleteLocked(pending *PendingPair) {
	delete(s.byCode, NormalizeCode(pending.Code))
	if s.byDevice[pending.Initiator.ID] == NormalizeCode(pending.Code) {
		delete(s.byDevice, pending.Initiator.ID)
	}
}

func generatePairCode() string {
	chars := make([]byte, 8)
	for i := range chars {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(pairCodeChars))))
		chars[i] = pairCodeChars[n.Int64()]
	}
	// Canonical form: dash after the 4th character, for human reading only.
	return fmt.Sprintf("%s-%s", chars[:4], chars[4:])
}
