// Package models defines state structures for the taxchat interview flow.
package models

// Flag names a situational boolean that steers branch selection in the
// question graph.
type Flag string

const (
	FlagHasSpouse          Flag = "hasSpouse"
	FlagHasEmployment      Flag = "hasEmployment"
	FlagHasSelfEmployment  Flag = "hasSelfEmployment"
	FlagHasInvestments     Flag = "hasInvestments"
	FlagHasRRSP            Flag = "hasRRSP"
	FlagHasMedicalExpenses Flag = "hasMedicalExpenses"
	FlagHasDonations       Flag = "hasDonations"
)

// Flags maps situational flags to their inferred values. Absence of a key
// means the situation is still unknown; a flag is only ever written when its
// topic appears in a turn (sticky semantics).
type Flags map[Flag]bool

// Clone returns a copy of the flag set.
func (f Flags) Clone() Flags {
	out := make(Flags, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// True reports whether the flag is known and set.
func (f Flags) True(flag Flag) bool {
	v, ok := f[flag]
	return ok && v
}

// Known reports whether the flag has been decided either way.
func (f Flags) Known(flag Flag) bool {
	_, ok := f[flag]
	return ok
}

// ConversationState is the wizard's cursor. The server holds no session
// between turns; the caller resends the state exactly as last returned.
//
// Turn is an optimistic-concurrency token: it increments on every processed
// turn and the store refuses a state save whose expected turn does not match
// the persisted row.
type ConversationState struct {
	Phase      string `json:"phase"`
	SubStep    int    `json:"subStep"`
	WaitingFor Field  `json:"waitingFor,omitempty"`
	Flags      Flags  `json:"flags,omitempty"`
	Turn       int    `json:"turn"`
}
