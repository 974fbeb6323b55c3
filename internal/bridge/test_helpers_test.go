package bridge

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/aasharing/internal/chain"
	"github.com/MarcoPoloResearchLab/aasharing/internal/ledger"
	"github.com/MarcoPoloResearchLab/aasharing/internal/token"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	usdc            = uint64(1_000000)
	localChainID    = uint64(31337)
	remoteChainID   = uint64(137)
	bridgeLiquidity = 10_000 * usdc
)

var (
	ownerAddress   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	aliceAddress   = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bobAddress     = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	relayerAddress = common.HexToAddress("0x000000000000000000000000000000000000e1a7")
)

type bridgeFixture struct {
	runtime   *chain.Runtime
	tokens    *token.Service
	ledger    *ledger.Service
	bridge    *Service
	validator *Signer
}

func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(
		&chain.Event{},
		&token.Balance{}, &token.Allowance{}, &token.Supply{},
		&ledger.Partnership{}, &ledger.GratitudeEntry{}, &ledger.Goal{}, &ledger.State{},
		&State{}, &Deposit{}, &Message{},
	))

	runtime, err := chain.NewRuntime(chain.RuntimeConfig{
		Database:   db,
		ChainID:    localChainID,
		Clock:      func() time.Time { return time.Unix(1_700_000_000, 0) },
		IDProvider: chain.NewUUIDProvider(),
	})
	require.NoError(t, err)

	tokenContract, err := token.NewContract(token.ContractConfig{Name: "Mock USDC", Symbol: "USDC", Decimals: 6, Minter: ownerAddress})
	require.NoError(t, err)
	tokens, err := token.NewService(token.ServiceConfig{Runtime: runtime, Contract: tokenContract})
	require.NoError(t, err)

	ledgerContract, err := ledger.NewContract(ledger.ContractConfig{
		Token:  tokenContract,
		Owner:  ownerAddress,
		Bridge: chain.ContractAddress(ContractName),
	})
	require.NoError(t, err)
	ledgerService, err := ledger.NewService(ledger.ServiceConfig{Runtime: runtime, Contract: ledgerContract})
	require.NoError(t, err)

	validator := newTestSigner(t)
	bridgeContract, err := NewContract(ContractConfig{
		Token:          tokenContract,
		Ledger:         ledgerContract,
		Owner:          ownerAddress,
		Validator:      validator.Address(),
		FeeBasisPoints: 50,
		MinDeposit:     1 * usdc,
		MaxDeposit:     100_000 * usdc,
	})
	require.NoError(t, err)
	bridgeService, err := NewService(ServiceConfig{Runtime: runtime, Contract: bridgeContract})
	require.NoError(t, err)

	for _, account := range []chain.Address{aliceAddress, bobAddress} {
		_, err := tokens.Mint(t.Context(), ownerAddress, account, 1_000_000*usdc)
		require.NoError(t, err)
	}
	_, err = tokens.Mint(t.Context(), ownerAddress, bridgeContract.Address(), bridgeLiquidity)
	require.NoError(t, err)

	return &bridgeFixture{
		runtime:   runtime,
		tokens:    tokens,
		ledger:    ledgerService,
		bridge:    bridgeService,
		validator: validator,
	}
}

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := NewSigner(key)
	require.NoError(t, err)
	return signer
}

func (f *bridgeFixture) balance(t *testing.T, holder chain.Address) uint64 {
	t.Helper()
	amount, err := f.tokens.BalanceOf(t.Context(), holder)
	require.NoError(t, err)
	return amount
}

func (f *bridgeFixture) createPartnership(t *testing.T) ledger.Partnership {
	t.Helper()
	partnership, _, err := f.ledger.CreatePartnership(t.Context(), aliceAddress, bobAddress, "Alice", "Bob")
	require.NoError(t, err)
	return partnership
}

func (f *bridgeFixture) attestation(partnershipID, amount, nonce uint64, seed string) Attestation {
	return Attestation{
		User:               aliceAddress,
		PartnershipID:      partnershipID,
		Amount:             amount,
		SourceChainID:      remoteChainID,
		DestinationChainID: localChainID,
		MessageID:          crypto.Keccak256Hash([]byte(seed)),
		Nonce:              nonce,
	}
}

func (f *bridgeFixture) sign(t *testing.T, signer *Signer, attestation Attestation) []byte {
	t.Helper()
	signature, err := signer.Sign(attestation)
	require.NoError(t, err)
	return signature
}

func eventNames(events []chain.Event) []string {
	names := make([]string, 0, len(events))
	for _, event := range events {
		names = append(names, event.Name)
	}
	return names
}

func findEvent(t *testing.T, events []chain.Event, name string, target any) {
	t.Helper()
	for _, event := range events {
		if event.Name == name {
			require.NoError(t, event.Decode(target))
			return
		}
	}
	t.Fatalf("event %s not found in %v", name, eventNames(events))
}
