package relayer

import (
	"context"
	"crypto/sha256"
	"sync"

	"github.com/mr-tron/base58"

	"github.com/degenlabs/degen-exchange/internal/domain"
)

// Simulator is the in-process settlement backend for simulation mode. Every
// call succeeds with a deterministic pseudo-signature derived from its
// inputs, so replays of the same fill produce the same signature.
type Simulator struct {
	mu       sync.Mutex
	settled  map[string]bool // position settles seen, keyed market/user
	balances map[string]int64
}

// NewSimulator creates a Simulator with unlimited default allowances.
func NewSimulator() *Simulator {
	return &Simulator{
		settled:  make(map[string]bool),
		balances: make(map[string]int64),
	}
}

// SetBalance caps a user's simulated allowance; unset users are unlimited.
func (s *Simulator) SetBalance(userID string, micro int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = micro
}

func pseudoSignature(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	// 64 bytes to mirror a real transaction signature.
	return base58.Encode(append(sum, sum...))
}

// ExecuteMatch simulates a match transaction.
func (s *Simulator) ExecuteMatch(_ context.Context, f domain.Fill) (string, error) {
	return pseudoSignature("match", f.ID), nil
}

// ExecuteClose simulates closing a market.
func (s *Simulator) ExecuteClose(_ context.Context, marketAddress string) (string, error) {
	return pseudoSignature("close", marketAddress), nil
}

// SettlePosition simulates a payout, enforcing the one-settle-per-position
// rule the on-chain program has.
func (s *Simulator) SettlePosition(_ context.Context, marketAddress, userID string, winner domain.MarketOutcome) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := marketAddress + "/" + userID
	if s.settled[key] {
		return "", errAlreadySettled
	}
	s.settled[key] = true
	return pseudoSignature("settle", marketAddress, userID, string(winner)), nil
}

// Ready always reports true.
func (s *Simulator) Ready(context.Context) bool { return true }

// CheckAllowance approves unless a balance cap was set below the requirement.
func (s *Simulator) CheckAllowance(_ context.Context, userID string, requiredMicro int64) (domain.AllowanceResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cap, ok := s.balances[userID]; ok && cap < requiredMicro {
		return domain.AllowanceResult{Approved: false, Reason: "insufficient balance"}, nil
	}
	return domain.AllowanceResult{Approved: true}, nil
}

type simError string

func (e simError) Error() string { return string(e) }

const errAlreadySettled = simError("position already settled")
