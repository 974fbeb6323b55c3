package chain

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

var (
	testCaller = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	errBoom    = errors.New("boom")
)

type counterRow struct {
	Name  string `gorm:"primaryKey"`
	Value int64
}

type recordingPublisher struct {
	mu      sync.Mutex
	batches [][]Event
}

func (p *recordingPublisher) Publish(events []Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, events)
}

func newTestRuntime(t *testing.T, publisher Publisher, logger *zap.Logger) (*Runtime, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&Event{}, &counterRow{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	runtime, err := NewRuntime(RuntimeConfig{
		Database:   db,
		ChainID:    31337,
		Clock:      func() time.Time { return time.Unix(1_700_000_000, 0) },
		IDProvider: NewUUIDProvider(),
		Publisher:  publisher,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	return runtime, db
}

func TestNewRuntimeValidatesConfig(t *testing.T) {
	testCases := []struct {
		name     string
		config   RuntimeConfig
		wantCode string
	}{
		{name: "missing database", config: RuntimeConfig{ChainID: 1, IDProvider: NewUUIDProvider()}, wantCode: "chain.runtime.new.missing_database"},
		{name: "missing ids", config: RuntimeConfig{Database: &gorm.DB{}, ChainID: 1}, wantCode: "chain.runtime.new.missing_id_provider"},
		{name: "zero chain", config: RuntimeConfig{Database: &gorm.DB{}, IDProvider: NewUUIDProvider()}, wantCode: "chain.runtime.new.invalid_chain_id"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := NewRuntime(testCase.config)
			if ErrorCode(err) != testCase.wantCode {
				t.Fatalf("expected %s, got %v", testCase.wantCode, err)
			}
		})
	}
}

func TestExecuteCommitsWritesAndEvents(t *testing.T) {
	publisher := &recordingPublisher{}
	runtime, db := newTestRuntime(t, publisher, nil)

	receipt, err := runtime.Execute(t.Context(), "test.commit", testCaller, func(tx *Tx) error {
		if tx.Caller() != testCaller {
			t.Fatalf("unexpected caller %s", tx.Caller().Hex())
		}
		if tx.ChainID() != 31337 {
			t.Fatalf("unexpected chain id %d", tx.ChainID())
		}
		if err := tx.DB().Create(&counterRow{Name: "a", Value: 1}).Error; err != nil {
			return err
		}
		if err := tx.Emit(Event{Contract: "Test", Name: "First", PartnershipID: 4}, map[string]int{"value": 1}); err != nil {
			return err
		}
		return tx.Emit(Event{Contract: "Test", Name: "Second", Actor: "0xother"}, map[string]int{"value": 2})
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if receipt.TxID == "" || len(receipt.Events) != 2 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	first := receipt.Events[0]
	if first.Sequence == 0 || first.TxID != receipt.TxID || first.Actor != testCaller.Hex() {
		t.Fatalf("unexpected first event %+v", first)
	}
	if !first.EmittedAt().Equal(time.Unix(1_700_000_000, 0)) {
		t.Fatalf("unexpected emission time %s", first.EmittedAt())
	}
	if receipt.Events[1].Actor != "0xother" {
		t.Fatalf("explicit actor overwritten: %s", receipt.Events[1].Actor)
	}
	var payload map[string]int
	if err := first.Decode(&payload); err != nil || payload["value"] != 1 {
		t.Fatalf("unexpected payload %v (%v)", payload, err)
	}

	var count int64
	if err := db.Model(&counterRow{}).Count(&count).Error; err != nil || count != 1 {
		t.Fatalf("expected committed row, got %d (%v)", count, err)
	}
	if len(publisher.batches) != 1 || len(publisher.batches[0]) != 2 {
		t.Fatalf("expected one published batch of two events, got %+v", publisher.batches)
	}
}

func TestExecuteRevertsEverythingOnError(t *testing.T) {
	publisher := &recordingPublisher{}
	core, logs := observer.New(zapcore.InfoLevel)
	runtime, db := newTestRuntime(t, publisher, zap.New(core))

	_, err := runtime.Execute(t.Context(), "test.revert", testCaller, func(tx *Tx) error {
		if err := tx.DB().Create(&counterRow{Name: "a", Value: 1}).Error; err != nil {
			return err
		}
		if err := tx.Emit(Event{Contract: "Test", Name: "Lost"}, struct{}{}); err != nil {
			return err
		}
		return NewServiceError("test.revert", "boom", errBoom)
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var count int64
	if err := db.Model(&counterRow{}).Count(&count).Error; err != nil || count != 0 {
		t.Fatalf("expected rollback, got %d rows (%v)", count, err)
	}
	events, err := runtime.Events(t.Context(), EventFilter{})
	if err != nil || len(events) != 0 {
		t.Fatalf("expected no events, got %d (%v)", len(events), err)
	}
	if len(publisher.batches) != 0 {
		t.Fatalf("reverted events were published")
	}

	entries := logs.FilterMessage("transaction reverted").All()
	if len(entries) != 1 {
		t.Fatalf("expected one revert log, got %d", len(entries))
	}
	if code := entries[0].ContextMap()["code"]; code != "test.revert.boom" {
		t.Fatalf("unexpected logged code %v", code)
	}
}

func TestExecuteSerializesConcurrentCalls(t *testing.T) {
	runtime, db := newTestRuntime(t, nil, nil)
	if err := db.Create(&counterRow{Name: "counter"}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := runtime.Execute(t.Context(), "test.increment", testCaller, func(tx *Tx) error {
				var row counterRow
				if err := tx.DB().Take(&row, "name = ?", "counter").Error; err != nil {
					return err
				}
				row.Value++
				return tx.DB().Save(&row).Error
			})
			if err != nil {
				t.Errorf("increment: %v", err)
			}
		}()
	}
	wg.Wait()

	var row counterRow
	if err := db.Take(&row, "name = ?", "counter").Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if row.Value != workers {
		t.Fatalf("expected %d increments, got %d", workers, row.Value)
	}
}

func TestEventsFilters(t *testing.T) {
	runtime, _ := newTestRuntime(t, nil, nil)
	for index := range 5 {
		_, err := runtime.Execute(t.Context(), "test.emit", testCaller, func(tx *Tx) error {
			return tx.Emit(Event{
				Contract:      "Test",
				Name:          fmt.Sprintf("E%d", index%2),
				PartnershipID: uint64(index%2 + 1),
			}, struct{}{})
		})
		if err != nil {
			t.Fatalf("emit: %v", err)
		}
	}

	all, err := runtime.Events(t.Context(), EventFilter{})
	if err != nil || len(all) != 5 {
		t.Fatalf("expected five events, got %d (%v)", len(all), err)
	}
	for index := 1; index < len(all); index++ {
		if all[index].Sequence <= all[index-1].Sequence {
			t.Fatalf("events out of order: %d then %d", all[index-1].Sequence, all[index].Sequence)
		}
	}

	second, err := runtime.Events(t.Context(), EventFilter{PartnershipID: 2})
	if err != nil || len(second) != 2 {
		t.Fatalf("expected two events for partnership 2, got %d (%v)", len(second), err)
	}
	page, err := runtime.Events(t.Context(), EventFilter{AfterSequence: all[1].Sequence, Limit: 2})
	if err != nil || len(page) != 2 || page[0].Sequence != all[2].Sequence {
		t.Fatalf("unexpected page %+v (%v)", page, err)
	}
	named, err := runtime.Events(t.Context(), EventFilter{Contract: "Test", Name: "E0", Actor: testCaller})
	if err != nil || len(named) != 3 {
		t.Fatalf("expected three E0 events, got %d (%v)", len(named), err)
	}
}
