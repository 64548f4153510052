package wire

import (
	"encoding/json"
	"testing"
)

func TestClassify_DecodesMatchingType(t *testing.T) {
	body, _ := json.Marshal(EnergyOfferMsg{RoundId: 7, OfferKWh: 2.0, Price: 0.2})
	env := Envelope{Type: TypeEnergyOffer, Body: body}

	var msg EnergyOfferMsg
	if err := Classify(env, &msg); err != nil {
		t.Fatalf("Classify() error: %v", err)
	}
	if msg.RoundId != 7 || msg.OfferKWh != 2.0 || msg.Price != 0.2 {
		t.Errorf("Classify() decoded %+v unexpectedly", msg)
	}
}

func TestClassify_RejectsEmptyBody(t *testing.T) {
	env := Envelope{Type: TypeEnergyOffer}
	var msg EnergyOfferMsg
	if err := Classify(env, &msg); err == nil {
		t.Error("expected error for empty body")
	}
}

func TestClassify_RejectsMalformedJSON(t *testing.T) {
	env := Envelope{Type: TypeEnergyOffer, Body: []byte("{not json")}
	var msg EnergyOfferMsg
	if err := Classify(env, &msg); err == nil {
		t.Error("expected error for malformed JSON")
	}
}
