package token

import (
	"errors"
	"testing"

	"github.com/MarcoPoloResearchLab/aasharing/internal/chain"
)

func TestMintCreditsHolderAndSupply(t *testing.T) {
	service := newTestService(t)
	ctx := t.Context()

	receipt, err := service.Mint(ctx, testMinter, testAlice, 1_000_000000)
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if got := mustBalance(t, service, testAlice); got != 1_000_000000 {
		t.Fatalf("unexpected balance %d", got)
	}
	supply, err := service.TotalSupply(ctx)
	if err != nil {
		t.Fatalf("supply query failed: %v", err)
	}
	if supply != 1_000_000000 {
		t.Fatalf("unexpected supply %d", supply)
	}
	if len(receipt.Events) != 1 || receipt.Events[0].Name != EventTransfer {
		t.Fatalf("expected a single transfer event, got %+v", receipt.Events)
	}
	var payload TransferEvent
	if err := receipt.Events[0].Decode(&payload); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if payload.From != chain.ZeroAddress.Hex() || payload.To != testAlice.Hex() || payload.Value != 1_000_000000 {
		t.Fatalf("unexpected mint payload %+v", payload)
	}
}

func TestMintRejectsNonMinter(t *testing.T) {
	service := newTestService(t)

	_, err := service.Mint(t.Context(), testAlice, testAlice, 1)
	if !errors.Is(err, ErrNotMinter) {
		t.Fatalf("expected ErrNotMinter, got %v", err)
	}
	if code := chain.ErrorCode(err); code != "token.mint.not_minter" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestTransferMovesBalance(t *testing.T) {
	service := newTestService(t)
	ctx := t.Context()
	if _, err := service.Mint(ctx, testMinter, testAlice, 100); err != nil {
		t.Fatalf("mint failed: %v", err)
	}

	if _, err := service.Transfer(ctx, testAlice, testBob, 40); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if got := mustBalance(t, service, testAlice); got != 60 {
		t.Fatalf("unexpected sender balance %d", got)
	}
	if got := mustBalance(t, service, testBob); got != 40 {
		t.Fatalf("unexpected recipient balance %d", got)
	}
}

func TestTransferFailures(t *testing.T) {
	testCases := []struct {
		name    string
		to      chain.Address
		amount  uint64
		wantErr error
	}{
		{name: "exceeds balance", to: testBob, amount: 101, wantErr: ErrInsufficientBalance},
		{name: "zero recipient", to: chain.ZeroAddress, amount: 1, wantErr: ErrInvalidRecipient},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			service := newTestService(t)
			ctx := t.Context()
			if _, err := service.Mint(ctx, testMinter, testAlice, 100); err != nil {
				t.Fatalf("mint failed: %v", err)
			}
			_, err := service.Transfer(ctx, testAlice, testCase.to, testCase.amount)
			if !errors.Is(err, testCase.wantErr) {
				t.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
			if got := mustBalance(t, service, testAlice); got != 100 {
				t.Fatalf("failed transfer changed sender balance to %d", got)
			}
		})
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	service := newTestService(t)
	ctx := t.Context()
	if _, err := service.Mint(ctx, testMinter, testAlice, 100); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if _, err := service.Approve(ctx, testAlice, testCarol, 70); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	if _, err := service.TransferFrom(ctx, testCarol, testAlice, testBob, 50); err != nil {
		t.Fatalf("transferFrom failed: %v", err)
	}
	remaining, err := service.Allowance(ctx, testAlice, testCarol)
	if err != nil {
		t.Fatalf("allowance query failed: %v", err)
	}
	if remaining != 20 {
		t.Fatalf("expected remaining allowance 20, got %d", remaining)
	}

	_, err = service.TransferFrom(ctx, testCarol, testAlice, testBob, 21)
	if !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if got := mustBalance(t, service, testBob); got != 50 {
		t.Fatalf("unexpected recipient balance %d", got)
	}
}

func TestFailedTransactionEmitsNoEvents(t *testing.T) {
	service := newTestService(t)
	ctx := t.Context()

	if _, err := service.Transfer(ctx, testAlice, testBob, 1); err == nil {
		t.Fatalf("expected transfer from empty balance to fail")
	}
	var count int64
	if err := service.runtime.View(ctx).Model(&chain.Event{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no persisted events, got %d", count)
	}
}
