package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/aasharing/internal/chain"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

func newTestVerifier(t *testing.T, clock func() time.Time) *WalletVerifier {
	t.Helper()
	verifier, err := NewWalletVerifier(WalletVerifierConfig{
		ChainID:      31337,
		ChallengeTTL: time.Minute,
		NonceSource:  func() (string, error) { return "fixed-nonce", nil },
		Clock:        clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return verifier
}

func TestWalletVerifierAcceptsSignedChallenge(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	verifier := newTestVerifier(t, func() time.Time { return now })

	challenge, err := verifier.IssueChallenge(context.Background(), address)
	if err != nil {
		t.Fatalf("issue challenge: %v", err)
	}
	if !strings.Contains(challenge.Message, address.Hex()) || !strings.Contains(challenge.Message, "Nonce: fixed-nonce") {
		t.Fatalf("unexpected challenge message %q", challenge.Message)
	}
	if !challenge.ExpiresAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("unexpected expiry %s", challenge.ExpiresAt)
	}

	signature, err := chain.SignPersonalMessage(key, []byte(challenge.Message))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := verifier.Verify(context.Background(), address, hexutil.Encode(signature))
	if err != nil {
		t.Fatalf("expected verification to succeed: %v", err)
	}
	if claims.Address != address || claims.Nonce != "fixed-nonce" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, err := verifier.Verify(context.Background(), address, hexutil.Encode(signature)); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected challenge to be single use, got %v", err)
	}
}

func TestWalletVerifierRejectsOtherSigners(t *testing.T) {
	owner, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	intruder, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	address := crypto.PubkeyToAddress(owner.PublicKey)
	verifier := newTestVerifier(t, nil)

	challenge, err := verifier.IssueChallenge(context.Background(), address)
	if err != nil {
		t.Fatalf("issue challenge: %v", err)
	}
	signature, err := chain.SignPersonalMessage(intruder, []byte(challenge.Message))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verifier.Verify(context.Background(), address, hexutil.Encode(signature)); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected signature mismatch, got %v", err)
	}
}

func TestWalletVerifierRejectsExpiredAndMalformed(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	address := crypto.PubkeyToAddress(key.PublicKey)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	verifier := newTestVerifier(t, func() time.Time { return now })

	challenge, err := verifier.IssueChallenge(context.Background(), address)
	if err != nil {
		t.Fatalf("issue challenge: %v", err)
	}
	signature, err := chain.SignPersonalMessage(key, []byte(challenge.Message))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := verifier.Verify(context.Background(), address, hexutil.Encode(signature)); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected expired challenge, got %v", err)
	}

	if _, err := verifier.IssueChallenge(context.Background(), address); err != nil {
		t.Fatalf("issue challenge: %v", err)
	}
	if _, err := verifier.Verify(context.Background(), address, "0xzz"); !errors.Is(err, chain.ErrMalformedSignature) {
		t.Fatalf("expected malformed signature, got %v", err)
	}
	if _, err := verifier.IssueChallenge(context.Background(), chain.ZeroAddress); err == nil {
		t.Fatalf("expected zero address rejection")
	}
}

func TestNewWalletVerifierRequiresChainID(t *testing.T) {
	if _, err := NewWalletVerifier(WalletVerifierConfig{}); !errors.Is(err, ErrInvalidVerifierConfig) {
		t.Fatalf("expected invalid config error, got %v", err)
	}
}
