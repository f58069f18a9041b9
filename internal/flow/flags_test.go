package flow

import (
	"testing"

	"github.com/northledger/taxchat/internal/models"
)

func TestInferFlagsStickyWithoutKeywords(t *testing.T) {
	prior := models.Flags{models.FlagHasRRSP: true, models.FlagHasInvestments: false}
	got := InferFlags(prior, models.ExtractedData{}, "My name is John Smith")

	if !got.True(models.FlagHasRRSP) {
		t.Error("RRSP flag should survive an unrelated message")
	}
	if v, ok := got[models.FlagHasInvestments]; !ok || v {
		t.Error("negative investments flag should survive an unrelated message")
	}
	if got.Known(models.FlagHasDonations) {
		t.Error("donations flag should stay unknown")
	}
}

func TestInferFlagsAffirmation(t *testing.T) {
	got := InferFlags(models.Flags{}, models.ExtractedData{}, "Yes, I contributed to my RRSP this year")
	if !got.True(models.FlagHasRRSP) {
		t.Error("expected RRSP flag set by affirmation")
	}
}

func TestInferFlagsNegation(t *testing.T) {
	got := InferFlags(models.Flags{}, models.ExtractedData{}, "No, I had no investment income at all")
	v, ok := got[models.FlagHasInvestments]
	if !ok {
		t.Fatal("expected investments flag decided")
	}
	if v {
		t.Error("expected investments flag false after negation")
	}
}

// A message carrying both an affirmation and a negation is ambiguous; the
// text path must not guess which cue belongs to which topic.
func TestInferFlagsMixedCuesLeaveFlagsUnchanged(t *testing.T) {
	got := InferFlags(models.Flags{}, models.ExtractedData{},
		"No investments this year, but yes I put money in my RRSP")

	if got.Known(models.FlagHasInvestments) {
		t.Error("investments flag should stay unknown on mixed cues")
	}
	if got.Known(models.FlagHasRRSP) {
		t.Error("RRSP flag should stay unknown on mixed cues")
	}
}

func TestInferFlagsValueFieldImpliesTrue(t *testing.T) {
	extracted := models.ExtractedData{models.FieldRRSPContribution: 5000.0}
	got := InferFlags(models.Flags{}, extracted, "around five thousand")
	if !got.True(models.FlagHasRRSP) {
		t.Error("extracting a contribution amount should imply the RRSP flag")
	}
}

func TestInferFlagsGateFieldCarriesFalse(t *testing.T) {
	extracted := models.ExtractedData{models.FieldHasInvestments: false}
	got := InferFlags(models.Flags{}, extracted, "nope")
	v, ok := got[models.FlagHasInvestments]
	if !ok || v {
		t.Errorf("gate field false should decide the flag false, got known=%v value=%v", ok, v)
	}
}

func TestInferFlagsGateFieldOverridesText(t *testing.T) {
	// Extraction beats the keyword path when the service decided the gate.
	extracted := models.ExtractedData{models.FieldHasEmployment: true}
	got := InferFlags(models.Flags{}, extracted, "no regular job, just my T4 from the winter contract")
	if !got.True(models.FlagHasEmployment) {
		t.Error("gate field true should override a negated keyword match")
	}
}

func TestInferFlagsMaritalStatus(t *testing.T) {
	cases := []struct {
		status string
		want   bool
	}{
		{"married", true},
		{"common-law", true},
		{"Married", true},
		{"single", false},
		{"divorced", false},
		{"widowed", false},
	}
	for _, tc := range cases {
		extracted := models.ExtractedData{models.FieldMaritalStatus: tc.status}
		got := InferFlags(models.Flags{}, extracted, tc.status)
		v, ok := got[models.FlagHasSpouse]
		if !ok {
			t.Errorf("status %q: expected spouse flag decided", tc.status)
			continue
		}
		if v != tc.want {
			t.Errorf("status %q: expected spouse flag %v, got %v", tc.status, tc.want, v)
		}
	}
}

func TestInferFlagsDoesNotMutateInput(t *testing.T) {
	prior := models.Flags{models.FlagHasRRSP: false}
	_ = InferFlags(prior, models.ExtractedData{models.FieldRRSPContribution: 100.0}, "yes rrsp")
	if prior[models.FlagHasRRSP] {
		t.Error("input flag set must not be mutated")
	}
}
