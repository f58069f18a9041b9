// Package flow provides situational flag inference for the tax interview.
package flow

import (
	"regexp"
	"strings"

	"github.com/northledger/taxchat/internal/models"
)

// topicKeywords lists the trigger keywords per situational topic. A flag is
// only ever touched by the text path when one of its keywords appears in the
// current turn's message; absent keywords leave the flag as-is (sticky).
var topicKeywords = map[models.Flag][]string{
	models.FlagHasSpouse:          {"spouse", "married", "common-law", "common law", "wife", "husband", "partner"},
	models.FlagHasEmployment:      {"employ", "job", "t4", "salary", "wage"},
	models.FlagHasSelfEmployment:  {"self-employ", "self employ", "business", "freelance", "contract", "gig"},
	models.FlagHasInvestments:     {"invest", "stock", "dividend", "capital gain", "interest income"},
	models.FlagHasRRSP:            {"rrsp", "retirement savings"},
	models.FlagHasMedicalExpenses: {"medical", "dental", "prescription"},
	models.FlagHasDonations:       {"donat", "charit"},
}

// topicValueFields maps each flag to the value fields whose extraction
// implies the situation applies.
var topicValueFields = map[models.Flag][]models.Field{
	models.FlagHasSpouse:          {models.FieldSpouseFirstName, models.FieldSpouseIncome},
	models.FlagHasEmployment:      {models.FieldEmploymentIncome, models.FieldTaxDeducted},
	models.FlagHasSelfEmployment:  {models.FieldBusinessIncome, models.FieldBusinessExpenses},
	models.FlagHasInvestments:     {models.FieldInvestmentIncome},
	models.FlagHasRRSP:            {models.FieldRRSPContribution},
	models.FlagHasMedicalExpenses: {models.FieldMedicalExpenses},
	models.FlagHasDonations:       {models.FieldDonations},
}

// topicGateFields maps each flag to its explicit boolean gate field. Unlike
// value fields, a gate field carries the flag's value directly, including
// explicit false.
var topicGateFields = map[models.Flag]models.Field{
	models.FlagHasEmployment:      models.FieldHasEmployment,
	models.FlagHasSelfEmployment:  models.FieldHasSelfEmployment,
	models.FlagHasInvestments:     models.FieldHasInvestments,
	models.FlagHasRRSP:            models.FieldHasRRSP,
	models.FlagHasMedicalExpenses: models.FieldHasMedicalExpenses,
	models.FlagHasDonations:       models.FieldHasDonations,
}

var (
	affirmationRe = regexp.MustCompile(`(?i)\b(yes|yeah|yep|yup|sure|correct|absolutely|i do|i did|i have|i am)\b`)
	negationRe    = regexp.MustCompile(`(?i)\b(no|nope|nah|none|never|nothing|i don't|i didn't|i do not|did not|don't have|not really)\b`)
)

// spouseStatuses are the marital statuses that force HasSpouse true.
var spouseStatuses = map[string]bool{
	"married":    true,
	"common-law": true,
	"common law": true,
}

// soloStatuses are the marital statuses that imply no spouse on record.
var soloStatuses = map[string]bool{
	"single":    true,
	"divorced":  true,
	"separated": true,
	"widowed":   true,
}

// InferFlags recomputes the flag set from this turn's raw message text and
// extraction result. The input sets are not mutated.
//
// The affirmation/negation classification is computed once for the whole
// message and applied uniformly to every topic whose keyword matched. When a
// message contains both cues ("no investments, but yes rrsp") the text path
// leaves every matched flag unchanged rather than guessing which cue belongs
// to which topic; the extraction path below can still decide.
func InferFlags(flags models.Flags, extracted models.ExtractedData, message string) models.Flags {
	out := flags.Clone()
	if out == nil {
		out = models.Flags{}
	}

	lower := strings.ToLower(message)
	affirmed := affirmationRe.MatchString(message)
	negated := negationRe.MatchString(message)

	for flag, keywords := range topicKeywords {
		if !containsAny(lower, keywords) {
			continue
		}
		switch {
		case affirmed && !negated:
			out[flag] = true
		case negated && !affirmed:
			out[flag] = false
		}
	}

	// Extraction of a topic's value field implies the situation applies,
	// overriding whatever the text path concluded.
	for flag, fields := range topicValueFields {
		for _, f := range fields {
			if extracted.Has(f) {
				out[flag] = true
			}
		}
	}

	// Gate fields carry the answer directly.
	for flag, field := range topicGateFields {
		if v, ok := extracted.Bool(field); ok {
			out[flag] = v
		}
	}

	// Marital status is a direct derivation bypassing the keyword path.
	if status := strings.ToLower(strings.TrimSpace(extracted.String(models.FieldMaritalStatus))); status != "" {
		if spouseStatuses[status] {
			out[models.FlagHasSpouse] = true
		} else if soloStatuses[status] {
			out[models.FlagHasSpouse] = false
		}
	}

	return out
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
