package bridge

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/MarcoPoloResearchLab/aasharing/internal/chain"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidSignature = errors.New("bridge: invalid signature")

	errMissingSigningKey = errors.New("validator signing key is required")
)

// Attestation is the payload a validator signs to authorize crediting a cross-chain deposit.
type Attestation struct {
	User               chain.Address
	PartnershipID      uint64
	Amount             uint64
	SourceChainID      uint64
	DestinationChainID uint64
	MessageID          common.Hash
	Nonce              uint64
}

var attestationArguments = mustArguments("address", "uint256", "uint256", "uint256", "uint256", "bytes32", "uint256")

// Encode returns abi.encode(user, partnershipId, amount, sourceChain, destinationChain, messageId, nonce).
func (a Attestation) Encode() ([]byte, error) {
	return attestationArguments.Pack(
		a.User,
		new(big.Int).SetUint64(a.PartnershipID),
		new(big.Int).SetUint64(a.Amount),
		new(big.Int).SetUint64(a.SourceChainID),
		new(big.Int).SetUint64(a.DestinationChainID),
		[32]byte(a.MessageID),
		new(big.Int).SetUint64(a.Nonce),
	)
}

// Digest is keccak256 of the encoded payload. Validators sign it as a personal message.
func (a Attestation) Digest() (common.Hash, error) {
	encoded, err := a.Encode()
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

// Attestor decides whether signature authorizes attestation on behalf of validator.
type Attestor interface {
	Verify(validator chain.Address, attestation Attestation, signature []byte) error
}

// ECDSAAttestor accepts signatures recovering to the single configured validator address.
type ECDSAAttestor struct{}

func (ECDSAAttestor) Verify(validator chain.Address, attestation Attestation, signature []byte) error {
	digest, err := attestation.Digest()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	signer, err := chain.RecoverPersonalSigner(digest.Bytes(), signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if signer != validator {
		return fmt.Errorf("%w: recovered %s", ErrInvalidSignature, signer.Hex())
	}
	return nil
}

// Signer produces validator signatures for relayers and tooling.
type Signer struct {
	key     *ecdsa.PrivateKey
	address chain.Address
}

// NewSigner wraps a secp256k1 private key.
func NewSigner(key *ecdsa.PrivateKey) (*Signer, error) {
	if key == nil {
		return nil, errMissingSigningKey
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// NewSignerFromHex parses a hex private key, with or without 0x prefix.
func NewSignerFromHex(hexKey string) (*Signer, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if trimmed == "" {
		return nil, errMissingSigningKey
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, err
	}
	return NewSigner(key)
}

func (s *Signer) Address() chain.Address {
	return s.address
}

// Sign returns the 65-byte personal_sign signature over the attestation digest.
func (s *Signer) Sign(attestation Attestation) ([]byte, error) {
	digest, err := attestation.Digest()
	if err != nil {
		return nil, err
	}
	return chain.SignPersonalMessage(s.key, digest.Bytes())
}

// DepositMessageID derives the content-addressed id of an outbound deposit.
func DepositMessageID(sourceChainID, depositID uint64, user chain.Address) common.Hash {
	encoded, err := messageIDArguments.Pack(
		new(big.Int).SetUint64(sourceChainID),
		new(big.Int).SetUint64(depositID),
		user,
	)
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256Hash(encoded)
}

var messageIDArguments = mustArguments("uint256", "uint256", "address")

func mustArguments(types ...string) abi.Arguments {
	arguments := make(abi.Arguments, 0, len(types))
	for _, name := range types {
		argumentType, err := abi.NewType(name, "", nil)
		if err != nil {
			panic(err)
		}
		arguments = append(arguments, abi.Argument{Type: argumentType})
	}
	return arguments
}
