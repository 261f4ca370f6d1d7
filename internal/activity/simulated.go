package activity

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/josh-kwaku/ledger-saga/internal/domain"
	"github.com/josh-kwaku/ledger-saga/internal/logging"
)

const effectIDDigits = 10

type SimulatedConfig struct {
	// Withdrawals above the ceiling fail with insufficient funds.
	WithdrawCeiling int64
	// Deposits to these accounts fail as invalid.
	InvalidAccounts []string
}

// Simulated is a stand-in bank: deterministic failure rules, random effect
// ids, and one effect per reference id and activity.
type Simulated struct {
	cfg     SimulatedConfig
	effects EffectStore
	invalid map[string]struct{}
	newID   func(prefix string) string
}

func NewSimulated(cfg SimulatedConfig, effects EffectStore) *Simulated {
	invalid := make(map[string]struct{}, len(cfg.InvalidAccounts))
	for _, a := range cfg.InvalidAccounts {
		if a = strings.TrimSpace(a); a != "" {
			invalid[a] = struct{}{}
		}
	}
	return &Simulated{cfg: cfg, effects: effects, invalid: invalid, newID: randomEffectID}
}

func (s *Simulated) Withdraw(ctx context.Context, p domain.PaymentDetails) (string, error) {
	logging.FromContext(ctx).Info("withdrawing",
		"account", p.SourceAccount, "amount", domain.FormatAmount(p.Amount), "reference_id", p.ReferenceID)
	if p.Amount > s.cfg.WithdrawCeiling {
		return "", fmt.Errorf("Withdraw: %s from %s: %w", domain.FormatAmount(p.Amount), p.SourceAccount, domain.ErrInsufficientFunds)
	}
	return s.claim(ctx, domain.ActivityWithdraw, "w", p)
}

func (s *Simulated) Deposit(ctx context.Context, p domain.PaymentDetails) (string, error) {
	logging.FromContext(ctx).Info("depositing",
		"account", p.TargetAccount, "amount", domain.FormatAmount(p.Amount), "reference_id", p.ReferenceID)
	if _, bad := s.invalid[p.TargetAccount]; bad {
		return "", fmt.Errorf("Deposit: account %s: %w", p.TargetAccount, domain.ErrInvalidAccount)
	}
	return s.claim(ctx, domain.ActivityDeposit, "d", p)
}

func (s *Simulated) Refund(ctx context.Context, p domain.PaymentDetails) (string, error) {
	logging.FromContext(ctx).Info("refunding",
		"account", p.SourceAccount, "amount", domain.FormatAmount(p.Amount), "reference_id", p.ReferenceID)
	return s.claim(ctx, domain.ActivityRefund, "r", p)
}

func (s *Simulated) claim(ctx context.Context, kind domain.ActivityName, prefix string, p domain.PaymentDetails) (string, error) {
	id, err := s.effects.Claim(ctx, effectKey(kind, p.ReferenceID), s.newID(prefix))
	if err != nil {
		return "", fmt.Errorf("%s: %w", kind, err)
	}
	return id, nil
}

func effectKey(kind domain.ActivityName, referenceID string) string {
	return "effect:" + string(kind) + ":" + referenceID
}

func randomEffectID(prefix string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for range effectIDDigits {
		b.WriteByte(byte('0' + rand.IntN(10)))
	}
	return b.String()
}
