package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const contractAddressDomain = "aasharing/contract/"

// Address identifies an account or contract. Stored as its checksummed hex form.
type Address = common.Address

// ZeroAddress is the unset address; it never owns funds.
var ZeroAddress Address

// ErrInvalidAddress indicates a malformed hex address.
var ErrInvalidAddress = errors.New("chain: invalid address")

// ParseAddress validates a 0x-prefixed (or bare) hex address.
func ParseAddress(value string) (Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, value)
	}
	return common.HexToAddress(trimmed), nil
}

// ParseParticipant is ParseAddress that also rejects the zero address.
func ParseParticipant(value string) (Address, error) {
	address, err := ParseAddress(value)
	if err != nil {
		return Address{}, err
	}
	if address == ZeroAddress {
		return Address{}, fmt.Errorf("%w: zero address", ErrInvalidAddress)
	}
	return address, nil
}

// ContractAddress derives the custody address of a named contract.
func ContractAddress(name string) Address {
	hash := crypto.Keccak256([]byte(contractAddressDomain + name))
	return common.BytesToAddress(hash[12:])
}
