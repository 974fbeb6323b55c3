package server

import (
	"encoding/json"

	"github.com/MarcoPoloResearchLab/aasharing/internal/chain"
)

type eventPayload struct {
	Sequence         int64           `json:"sequence"`
	TxID             string          `json:"tx_id"`
	Contract         string          `json:"contract"`
	Name             string          `json:"name"`
	PartnershipID    uint64          `json:"partnership_id,omitempty"`
	GoalID           *uint64         `json:"goal_id,omitempty"`
	MessageID        string          `json:"message_id,omitempty"`
	Actor            string          `json:"actor,omitempty"`
	EmittedAtSeconds int64           `json:"emitted_at_s"`
	Payload          json.RawMessage `json:"payload"`
}

type receiptPayload struct {
	TxID   string         `json:"tx_id"`
	Events []eventPayload `json:"events"`
}

func newEventPayload(event chain.Event) eventPayload {
	payload := json.RawMessage(nil)
	if event.PayloadJSON != "" {
		payload = json.RawMessage(event.PayloadJSON)
	}
	return eventPayload{
		Sequence:         event.Sequence,
		TxID:             event.TxID,
		Contract:         event.Contract,
		Name:             event.Name,
		PartnershipID:    event.PartnershipID,
		GoalID:           event.GoalID,
		MessageID:        event.MessageID,
		Actor:            event.Actor,
		EmittedAtSeconds: event.EmittedAtSeconds,
		Payload:          payload,
	}
}

func newEventPayloads(events []chain.Event) []eventPayload {
	payloads := make([]eventPayload, 0, len(events))
	for _, event := range events {
		payloads = append(payloads, newEventPayload(event))
	}
	return payloads
}

func newReceiptPayload(receipt chain.Receipt) receiptPayload {
	return receiptPayload{TxID: receipt.TxID, Events: newEventPayloads(receipt.Events)}
}
