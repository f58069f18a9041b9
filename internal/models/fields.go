// Package models defines the interview field schema for taxchat.
package models

import "encoding/json"

// Field names a single extractable value in the tax interview. The set below
// is the union of everything any question node can collect; any subset of it
// may be populated at a given point in a conversation.
type Field string

const (
	FieldFirstName     Field = "firstName"
	FieldLastName      Field = "lastName"
	FieldDateOfBirth   Field = "dateOfBirth"
	FieldSIN           Field = "sin"
	FieldMaritalStatus Field = "maritalStatus"
	FieldProvince      Field = "province"

	FieldSpouseFirstName Field = "spouseFirstName"
	FieldSpouseIncome    Field = "spouseIncome"

	// Gate fields are booleans answered at branch questions. They double as
	// direct inputs to flag inference.
	FieldHasEmployment      Field = "hasEmployment"
	FieldHasSelfEmployment  Field = "hasSelfEmployment"
	FieldHasInvestments     Field = "hasInvestments"
	FieldHasRRSP            Field = "hasRRSP"
	FieldHasMedicalExpenses Field = "hasMedicalExpenses"
	FieldHasDonations       Field = "hasDonations"

	FieldEmploymentIncome Field = "employmentIncome"
	FieldTaxDeducted      Field = "taxDeducted"
	FieldBusinessIncome   Field = "businessIncome"
	FieldBusinessExpenses Field = "businessExpenses"
	FieldInvestmentIncome Field = "investmentIncome"
	FieldRRSPContribution Field = "rrspContribution"
	FieldMedicalExpenses  Field = "medicalExpenses"
	FieldDonations        Field = "donations"
)

// AllFields lists every known field. Extraction results referencing names
// outside this set are discarded at the parse boundary.
var AllFields = []Field{
	FieldFirstName, FieldLastName, FieldDateOfBirth, FieldSIN,
	FieldMaritalStatus, FieldProvince,
	FieldSpouseFirstName, FieldSpouseIncome,
	FieldHasEmployment, FieldHasSelfEmployment, FieldHasInvestments,
	FieldHasRRSP, FieldHasMedicalExpenses, FieldHasDonations,
	FieldEmploymentIncome, FieldTaxDeducted, FieldBusinessIncome,
	FieldBusinessExpenses, FieldInvestmentIncome, FieldRRSPContribution,
	FieldMedicalExpenses, FieldDonations,
}

// IsKnownField checks whether f names a field in the interview schema.
func IsKnownField(f Field) bool {
	for _, known := range AllFields {
		if f == known {
			return true
		}
	}
	return false
}

// ProvinceCodes enumerates the thirteen Canadian provinces and territories.
// Province answers are canonicalized to these two-letter codes.
var ProvinceCodes = []string{
	"AB", "BC", "MB", "NB", "NL", "NS", "NT", "NU", "ON", "PE", "QC", "SK", "YT",
}

// IsValidProvince checks if code is one of the thirteen province/territory codes.
func IsValidProvince(code string) bool {
	for _, p := range ProvinceCodes {
		if code == p {
			return true
		}
	}
	return false
}

// ExtractedData is the accumulating record of all fields collected so far.
// Merge semantics are append-only: new extraction overlays old, last write
// wins per field, nothing is deleted mid-conversation.
type ExtractedData map[Field]any

// Clone returns a shallow copy of the data.
func (d ExtractedData) Clone() ExtractedData {
	out := make(ExtractedData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Merge overlays updates onto a copy of d and returns the merged record plus
// the list of fields that were written, in schema order.
func (d ExtractedData) Merge(updates ExtractedData) (ExtractedData, []Field) {
	merged := d.Clone()
	if merged == nil {
		merged = make(ExtractedData)
	}
	for k, v := range updates {
		merged[k] = v
	}
	var written []Field
	for _, f := range AllFields {
		if _, ok := updates[f]; ok {
			written = append(written, f)
		}
	}
	return merged, written
}

// Has reports whether the field has been collected.
func (d ExtractedData) Has(f Field) bool {
	_, ok := d[f]
	return ok
}

// String returns the field as a string, or "" if absent or not a string.
func (d ExtractedData) String(f Field) string {
	if v, ok := d[f].(string); ok {
		return v
	}
	return ""
}

// Number returns the field as a float64. JSON decoding yields float64 for
// numbers, but values merged in code may be ints or json.Number.
func (d ExtractedData) Number(f Field) (float64, bool) {
	switch v := d[f].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		n, err := v.Float64()
		return n, err == nil
	default:
		return 0, false
	}
}

// Bool returns the field as a bool, with ok=false when absent or non-boolean.
func (d ExtractedData) Bool(f Field) (bool, bool) {
	v, ok := d[f].(bool)
	return v, ok
}
