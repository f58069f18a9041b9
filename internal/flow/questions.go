// Package flow implements the guided tax interview: the hand-authored
// question graph, situational flag inference, and per-turn orchestration
// against the completion service.
package flow

import (
	"fmt"
	"regexp"

	"github.com/northledger/taxchat/internal/models"
)

// Phase identifiers for the question graph.
const (
	PhaseIdentity       = "identity"
	PhaseSpouse         = "spouse"
	PhaseIncome         = "income"
	PhaseSelfEmployment = "self_employment"
	PhaseInvestments    = "investments"
	PhaseDeductions     = "deductions"
	// PhaseComplete is the terminal position; no node is defined for it.
	PhaseComplete = "complete"
)

// Pointer identifies one position in the question graph.
type Pointer struct {
	Phase   string `json:"phase"`
	SubStep int    `json:"subStep"`
}

// QuestionNode is one step of the interview. WaitingFor is the single field
// the node expects to extract; Next computes the following position from the
// accumulated data and flags and is the only branching logic in the system.
type QuestionNode struct {
	Phase           string
	SubStep         int
	WaitingFor      models.Field
	ExtractionHints string
	Question        string
	Next            func(data models.ExtractedData, flags models.Flags) Pointer
}

// to builds a Next function that always moves to a fixed position.
func to(phase string, subStep int) func(models.ExtractedData, models.Flags) Pointer {
	return func(models.ExtractedData, models.Flags) Pointer {
		return Pointer{Phase: phase, SubStep: subStep}
	}
}

// gate builds a Next function that enters a branch when the flag is known
// true and skips it otherwise. An unset flag skips: gate questions exist
// precisely to force an explicit answer, and the node does not advance until
// the gate field has been extracted.
func gate(flag models.Flag, yes, no Pointer) func(models.ExtractedData, models.Flags) Pointer {
	return func(_ models.ExtractedData, flags models.Flags) Pointer {
		if flags.True(flag) {
			return yes
		}
		return no
	}
}

// questionGraph is the complete interview. It is intentionally small and
// hand-authored; every reachable {phase, subStep} pair has exactly one node
// and every flag-gated branch defines both successors.
var questionGraph = []QuestionNode{
	{
		Phase: PhaseIdentity, SubStep: 0,
		WaitingFor:      models.FieldFirstName,
		ExtractionHints: "A single given name, letters only.",
		Question:        "Welcome! Let's get your 2024 return started. What's your first name?",
		Next:            to(PhaseIdentity, 1),
	},
	{
		Phase: PhaseIdentity, SubStep: 1,
		WaitingFor:      models.FieldLastName,
		ExtractionHints: "A family name, letters only.",
		Question:        "Thanks, {firstName}! And your last name?",
		Next:            to(PhaseIdentity, 2),
	},
	{
		Phase: PhaseIdentity, SubStep: 2,
		WaitingFor:      models.FieldDateOfBirth,
		ExtractionHints: "A date in YYYY-MM-DD format.",
		Question:        "What's your date of birth?",
		Next:            to(PhaseIdentity, 3),
	},
	{
		Phase: PhaseIdentity, SubStep: 3,
		WaitingFor:      models.FieldSIN,
		ExtractionHints: "Nine digits formatted as three groups of three separated by hyphens, e.g. 123-456-789.",
		Question:        "What's your Social Insurance Number?",
		Next:            to(PhaseIdentity, 4),
	},
	{
		Phase: PhaseIdentity, SubStep: 4,
		WaitingFor:      models.FieldMaritalStatus,
		ExtractionHints: "One of: single, married, common-law, divorced, separated, widowed.",
		Question:        "What was your marital status on December 31, 2024?",
		Next:            to(PhaseIdentity, 5),
	},
	{
		Phase: PhaseIdentity, SubStep: 5,
		WaitingFor:      models.FieldProvince,
		ExtractionHints: "A two-letter province or territory code: AB, BC, MB, NB, NL, NS, NT, NU, ON, PE, QC, SK or YT.",
		Question:        "Which province or territory did you live in on December 31, 2024?",
		Next: gate(models.FlagHasSpouse,
			Pointer{Phase: PhaseSpouse, SubStep: 0},
			Pointer{Phase: PhaseIncome, SubStep: 0}),
	},

	{
		Phase: PhaseSpouse, SubStep: 0,
		WaitingFor:      models.FieldSpouseFirstName,
		ExtractionHints: "A single given name, letters only.",
		Question:        "What's your spouse or partner's first name?",
		Next:            to(PhaseSpouse, 1),
	},
	{
		Phase: PhaseSpouse, SubStep: 1,
		WaitingFor:      models.FieldSpouseIncome,
		ExtractionHints: "Net income in dollars as a bare number, no symbols or thousands separators.",
		Question:        "Roughly what was {spouseFirstName}'s net income for 2024?",
		Next:            to(PhaseIncome, 0),
	},

	{
		Phase: PhaseIncome, SubStep: 0,
		WaitingFor:      models.FieldHasEmployment,
		ExtractionHints: "Boolean: true if the user had employment income (a T4 slip) in 2024, false otherwise.",
		Question:        "Did you have employment income in 2024, like a T4 from an employer?",
		Next: gate(models.FlagHasEmployment,
			Pointer{Phase: PhaseIncome, SubStep: 1},
			Pointer{Phase: PhaseIncome, SubStep: 3}),
	},
	{
		Phase: PhaseIncome, SubStep: 1,
		WaitingFor:      models.FieldEmploymentIncome,
		ExtractionHints: "Total employment income (T4 box 14) in dollars as a bare number.",
		Question:        "What was your total employment income for 2024?",
		Next:            to(PhaseIncome, 2),
	},
	{
		Phase: PhaseIncome, SubStep: 2,
		WaitingFor:      models.FieldTaxDeducted,
		ExtractionHints: "Income tax deducted at source (T4 box 22) in dollars as a bare number.",
		Question:        "How much income tax was deducted at source on that income?",
		Next:            to(PhaseIncome, 3),
	},
	{
		Phase: PhaseIncome, SubStep: 3,
		WaitingFor:      models.FieldHasSelfEmployment,
		ExtractionHints: "Boolean: true if the user had self-employment, freelance or business income in 2024.",
		Question:        "Did you earn any self-employment or business income in 2024?",
		Next: gate(models.FlagHasSelfEmployment,
			Pointer{Phase: PhaseSelfEmployment, SubStep: 0},
			Pointer{Phase: PhaseInvestments, SubStep: 0}),
	},

	{
		Phase: PhaseSelfEmployment, SubStep: 0,
		WaitingFor:      models.FieldBusinessIncome,
		ExtractionHints: "Gross self-employment or business income in dollars as a bare number.",
		Question:        "What was your gross self-employment income for 2024?",
		Next:            to(PhaseSelfEmployment, 1),
	},
	{
		Phase: PhaseSelfEmployment, SubStep: 1,
		WaitingFor:      models.FieldBusinessExpenses,
		ExtractionHints: "Total business expenses in dollars as a bare number.",
		Question:        "Roughly how much were your business expenses?",
		Next:            to(PhaseInvestments, 0),
	},

	{
		Phase: PhaseInvestments, SubStep: 0,
		WaitingFor:      models.FieldHasInvestments,
		ExtractionHints: "Boolean: true if the user earned investment income (interest, dividends, capital gains) in 2024.",
		Question:        "Did you have any investment income in 2024, such as interest, dividends or capital gains?",
		Next: gate(models.FlagHasInvestments,
			Pointer{Phase: PhaseInvestments, SubStep: 1},
			Pointer{Phase: PhaseDeductions, SubStep: 0}),
	},
	{
		Phase: PhaseInvestments, SubStep: 1,
		WaitingFor:      models.FieldInvestmentIncome,
		ExtractionHints: "Total investment income in dollars as a bare number.",
		Question:        "What was your total investment income for 2024?",
		Next:            to(PhaseDeductions, 0),
	},

	{
		Phase: PhaseDeductions, SubStep: 0,
		WaitingFor:      models.FieldHasRRSP,
		ExtractionHints: "Boolean: true if the user contributed to an RRSP for the 2024 tax year.",
		Question:        "Did you contribute to an RRSP for the 2024 tax year?",
		Next: gate(models.FlagHasRRSP,
			Pointer{Phase: PhaseDeductions, SubStep: 1},
			Pointer{Phase: PhaseDeductions, SubStep: 2}),
	},
	{
		Phase: PhaseDeductions, SubStep: 1,
		WaitingFor:      models.FieldRRSPContribution,
		ExtractionHints: "RRSP contribution amount in dollars as a bare number.",
		Question:        "How much did you contribute to your RRSP?",
		Next:            to(PhaseDeductions, 2),
	},
	{
		Phase: PhaseDeductions, SubStep: 2,
		WaitingFor:      models.FieldHasMedicalExpenses,
		ExtractionHints: "Boolean: true if the user paid significant out-of-pocket medical or dental expenses in 2024.",
		Question:        "Did you have significant out-of-pocket medical or dental expenses in 2024?",
		Next: gate(models.FlagHasMedicalExpenses,
			Pointer{Phase: PhaseDeductions, SubStep: 3},
			Pointer{Phase: PhaseDeductions, SubStep: 4}),
	},
	{
		Phase: PhaseDeductions, SubStep: 3,
		WaitingFor:      models.FieldMedicalExpenses,
		ExtractionHints: "Total medical expenses in dollars as a bare number.",
		Question:        "About how much did those medical expenses add up to?",
		Next:            to(PhaseDeductions, 4),
	},
	{
		Phase: PhaseDeductions, SubStep: 4,
		WaitingFor:      models.FieldHasDonations,
		ExtractionHints: "Boolean: true if the user made charitable donations in 2024.",
		Question:        "Did you make any charitable donations in 2024?",
		Next: gate(models.FlagHasDonations,
			Pointer{Phase: PhaseDeductions, SubStep: 5},
			Pointer{Phase: PhaseComplete, SubStep: 0}),
	},
	{
		Phase: PhaseDeductions, SubStep: 5,
		WaitingFor:      models.FieldDonations,
		ExtractionHints: "Total charitable donations in dollars as a bare number.",
		Question:        "What was the total of your charitable donations?",
		Next:            to(PhaseComplete, 0),
	},
}

// InitialState returns the wizard cursor for a brand-new interview.
func InitialState() models.ConversationState {
	return models.ConversationState{
		Phase:      PhaseIdentity,
		SubStep:    0,
		WaitingFor: models.FieldFirstName,
		Flags:      models.Flags{},
		Turn:       0,
	}
}

// NodeAt looks up the node defined at p, or nil when none exists (the
// terminal condition).
func NodeAt(p Pointer) *QuestionNode {
	for i := range questionGraph {
		if questionGraph[i].Phase == p.Phase && questionGraph[i].SubStep == p.SubStep {
			return &questionGraph[i]
		}
	}
	return nil
}

// GetCurrentQuestion resolves the node matching the state's position.
// Returns nil when the state no longer references a defined node.
func GetCurrentQuestion(state models.ConversationState) *QuestionNode {
	return NodeAt(Pointer{Phase: state.Phase, SubStep: state.SubStep})
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z]+)\}`)

// FormatQuestion resolves {field} placeholders in a question template using
// already-collected data. Placeholders referencing absent fields are left
// verbatim.
func FormatQuestion(template string, data models.ExtractedData) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		field := models.Field(match[1 : len(match)-1])
		if !data.Has(field) {
			return match
		}
		if s := data.String(field); s != "" {
			return s
		}
		if n, ok := data.Number(field); ok {
			return fmt.Sprintf("%g", n)
		}
		return match
	})
}
