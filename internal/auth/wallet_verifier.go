package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/aasharing/internal/chain"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultChallengeTTL    = 5 * time.Minute
	defaultChallengeDomain = "aasharing"
)

var (
	errMissingAddress        = errors.New("wallet address must not be empty")
	errMissingSignature      = errors.New("signature must not be empty")
	errMissingChainID        = errors.New("chain id configuration required")
	ErrInvalidVerifierConfig = errors.New("auth: invalid wallet verifier config")
	ErrChallengeNotFound     = errors.New("auth: no pending challenge for address")
	ErrChallengeExpired      = errors.New("auth: challenge expired")
	ErrSignatureMismatch     = errors.New("auth: signature does not match address")
)

// WalletVerifierConfig bundles configuration required to instantiate a WalletVerifier.
type WalletVerifierConfig struct {
	Domain       string
	ChainID      uint64
	ChallengeTTL time.Duration
	NonceSource  func() (string, error)
	Logger       *zap.Logger
	Clock        func() time.Time
}

// Challenge is the message a wallet must personal_sign to log in.
type Challenge struct {
	Address   chain.Address
	Nonce     string
	Message   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// WalletClaims exposes the verified wallet identity.
type WalletClaims struct {
	Address  chain.Address
	Nonce    string
	IssuedAt time.Time
}

// WalletVerifier issues single-use login challenges and verifies their signatures.
type WalletVerifier struct {
	domain  string
	chainID uint64
	ttl     time.Duration
	nonces  func() (string, error)
	logger  *zap.Logger
	clock   func() time.Time
	cache   *challengeCache
}

// NewWalletVerifier constructs a verifier with validated configuration.
func NewWalletVerifier(cfg WalletVerifierConfig) (*WalletVerifier, error) {
	if cfg.ChainID == 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingChainID)
	}
	domain := strings.TrimSpace(cfg.Domain)
	if domain == "" {
		domain = defaultChallengeDomain
	}
	ttl := cfg.ChallengeTTL
	if ttl <= 0 {
		ttl = defaultChallengeTTL
	}
	nonces := cfg.NonceSource
	if nonces == nil {
		nonces = randomNonce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &WalletVerifier{
		domain:  domain,
		chainID: cfg.ChainID,
		ttl:     ttl,
		nonces:  nonces,
		logger:  logger,
		clock:   clock,
		cache:   &challengeCache{entries: make(map[chain.Address]Challenge)},
	}, nil
}

// IssueChallenge creates a fresh challenge for address, replacing any pending one.
func (v *WalletVerifier) IssueChallenge(_ context.Context, address chain.Address) (Challenge, error) {
	if address == chain.ZeroAddress {
		return Challenge{}, errMissingAddress
	}
	nonce, err := v.nonces()
	if err != nil {
		return Challenge{}, err
	}
	issuedAt := v.clock().UTC()
	challenge := Challenge{
		Address:   address,
		Nonce:     nonce,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(v.ttl),
	}
	challenge.Message = v.message(challenge)
	v.cache.store(challenge, issuedAt)
	return challenge, nil
}

// Verify checks that signatureHex is address's personal_sign over its pending challenge.
// A challenge is consumed by the first verification attempt, successful or not.
func (v *WalletVerifier) Verify(_ context.Context, address chain.Address, signatureHex string) (WalletClaims, error) {
	if address == chain.ZeroAddress {
		return WalletClaims{}, errMissingAddress
	}
	if strings.TrimSpace(signatureHex) == "" {
		return WalletClaims{}, errMissingSignature
	}
	challenge, ok := v.cache.take(address)
	if !ok {
		return WalletClaims{}, ErrChallengeNotFound
	}
	if v.clock().After(challenge.ExpiresAt) {
		return WalletClaims{}, ErrChallengeExpired
	}
	signature, err := hexutil.Decode(strings.TrimSpace(signatureHex))
	if err != nil {
		return WalletClaims{}, fmt.Errorf("%w: %v", chain.ErrMalformedSignature, err)
	}
	signer, err := chain.RecoverPersonalSigner([]byte(challenge.Message), signature)
	if err != nil {
		return WalletClaims{}, err
	}
	if signer != address {
		v.logger.Debug("wallet signature mismatch",
			zap.String("address", address.Hex()),
			zap.String("recovered", signer.Hex()))
		return WalletClaims{}, ErrSignatureMismatch
	}
	return WalletClaims{Address: address, Nonce: challenge.Nonce, IssuedAt: challenge.IssuedAt}, nil
}

func (v *WalletVerifier) message(challenge Challenge) string {
	return fmt.Sprintf(
		"%s wants you to sign in with your Ethereum account:\n%s\n\nNonce: %s\nChain ID: %d\nIssued At: %s\nExpiration Time: %s",
		v.domain,
		challenge.Address.Hex(),
		challenge.Nonce,
		v.chainID,
		challenge.IssuedAt.Format(time.RFC3339),
		challenge.ExpiresAt.Format(time.RFC3339),
	)
}

func randomNonce() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(value.String(), "-", ""), nil
}

type challengeCache struct {
	mu      sync.Mutex
	entries map[chain.Address]Challenge
}

func (c *challengeCache) store(challenge Challenge, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for address, pending := range c.entries {
		if now.After(pending.ExpiresAt) {
			delete(c.entries, address)
		}
	}
	c.entries[challenge.Address] = challenge
}

func (c *challengeCache) take(address chain.Address) (Challenge, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	challenge, ok := c.entries[address]
	if ok {
		delete(c.entries, address)
	}
	return challenge, ok
}
