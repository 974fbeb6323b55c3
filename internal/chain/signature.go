package chain

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

const recoveryIDOffset = 27

var ErrMalformedSignature = errors.New("chain: malformed signature")

// PersonalMessageHash is the EIP-191 hash wallets sign for personal_sign.
func PersonalMessageHash(message []byte) []byte {
	return accounts.TextHash(message)
}

// SignPersonalMessage signs message the way personal_sign does; V is 27 or 28.
func SignPersonalMessage(key *ecdsa.PrivateKey, message []byte) ([]byte, error) {
	signature, err := crypto.Sign(PersonalMessageHash(message), key)
	if err != nil {
		return nil, err
	}
	signature[crypto.RecoveryIDOffset] += recoveryIDOffset
	return signature, nil
}

// RecoverPersonalSigner returns the address whose key produced signature over message.
// Both 0/1 and 27/28 recovery ids are accepted; high-s signatures are rejected.
func RecoverPersonalSigner(message, signature []byte) (Address, error) {
	if len(signature) != crypto.SignatureLength {
		return Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedSignature, crypto.SignatureLength, len(signature))
	}
	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, signature)
	if normalized[crypto.RecoveryIDOffset] >= recoveryIDOffset {
		normalized[crypto.RecoveryIDOffset] -= recoveryIDOffset
	}
	r := new(big.Int).SetBytes(normalized[:32])
	s := new(big.Int).SetBytes(normalized[32:64])
	if !crypto.ValidateSignatureValues(normalized[crypto.RecoveryIDOffset], r, s, true) {
		return Address{}, fmt.Errorf("%w: invalid signature values", ErrMalformedSignature)
	}
	publicKey, err := crypto.SigToPub(PersonalMessageHash(message), normalized)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return crypto.PubkeyToAddress(*publicKey), nil
}
