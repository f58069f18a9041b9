package models

import (
	"encoding/json"
	"testing"
)

func TestIsValidConfidence(t *testing.T) {
	for _, c := range []Confidence{ConfidenceHigh, ConfidenceMedium, ConfidenceLow} {
		if !IsValidConfidence(c) {
			t.Errorf("confidence %q should be valid", c)
		}
	}
	for _, c := range []Confidence{"", "certain", "HIGH"} {
		if IsValidConfidence(c) {
			t.Errorf("confidence %q should be invalid", c)
		}
	}
}

func TestAPIResponseEnvelope(t *testing.T) {
	ok := Success(map[string]string{"id": "c1"})
	if ok.Status != string(APIStatusOK) || ok.Result == nil {
		t.Errorf("unexpected success envelope: %+v", ok)
	}

	errResp := Error("boom")
	if errResp.Status != string(APIStatusError) || errResp.Message != "boom" {
		t.Errorf("unexpected error envelope: %+v", errResp)
	}

	detailed := ErrorWithDetails("boom", "try again")
	raw, err := json.Marshal(detailed)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	result, ok2 := decoded["result"].(map[string]any)
	if !ok2 || result["details"] != "try again" {
		t.Errorf("details not carried in envelope: %v", decoded)
	}

	// Empty details collapse to a plain error.
	if ErrorWithDetails("boom", "").Result != nil {
		t.Error("empty details should produce no result payload")
	}
}
