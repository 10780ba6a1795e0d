package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestUnmarshalEvent(t *testing.T) {
	t.Run("restores a credited event with its amount and source", func(t *testing.T) {
		original := AccountCredited{
			BaseEvent:     BaseEvent{ID: fixedID, Account: uuid.New(), On: testTime},
			Amount:        decimal.RequireFromString("42.50"),
			TransactionID: fixedID,
			Source:        SourceCryptoTx,
		}
		payload, err := json.Marshal(original)
		if err != nil {
			t.Fatal(err)
		}

		event, err := UnmarshalEvent("AccountCredited", payload)
		if err != nil {
			t.Fatal(err)
		}
		credited, ok := event.(AccountCredited)
		if !ok {
			t.Fatalf("expected AccountCredited, got %T", event)
		}
		if !credited.Amount.Equal(original.Amount) || credited.Source != SourceCryptoTx {
			t.Errorf("lost fields on decode: %+v", credited)
		}
	})

	t.Run("restores an error event with its reason", func(t *testing.T) {
		payload := []byte(`{"eventId":"` + fixedID.String() + `","accountId":"` + fixedID.String() + `","reason":"INSUFFICIENT_FUNDS"}`)
		event, err := UnmarshalEvent("AccountDebitFailed", payload)
		if err != nil {
			t.Fatal(err)
		}
		failed, ok := event.(ErrorEvent)
		if !ok || failed.Reason() != ReasonInsufficientFunds {
			t.Errorf("expected INSUFFICIENT_FUNDS error event, got %#v", event)
		}
	})

	t.Run("fails on an unknown event type", func(t *testing.T) {
		if _, err := UnmarshalEvent("AccountRenamed", []byte(`{}`)); err == nil {
			t.Fatal("expected an error for an unknown event type")
		}
	})
}
