// Package signal implements C3, the signal compositor: it fuses the C1
// indicator bundle and C2 market-context fragments into a scored
// BUY/SELL/HOLD action with a structured, replayable reason trace.
package signal

import (
	"sort"
	"strings"
)

// ReasonFlag is one bit of the structured reason bitset spec.md §9's
// Design Notes mandate in place of the source's string-parsed reasons.
type ReasonFlag uint16

const (
	ReasonRSI ReasonFlag = 1 << iota
	ReasonBB
	ReasonVOL
	ReasonMACD
	ReasonMTF
	ReasonSENT
	ReasonPAT
	ReasonCHART
)

var reasonNames = []struct {
	flag ReasonFlag
	name string
}{
	{ReasonRSI, "RSI"},
	{ReasonBB, "BB"},
	{ReasonVOL, "VOL"},
	{ReasonMACD, "MACD"},
	{ReasonMTF, "MTF"},
	{ReasonSENT, "SENT"},
	{ReasonPAT, "PAT"},
	{ReasonCHART, "CHART"},
}

// ReasonSet is the sorted subset of indicator families that contributed to
// a signal; it is the unit the combo tracker keys on.
type ReasonSet uint16

// Has reports whether f is set.
func (rs ReasonSet) Has(f ReasonFlag) bool { return rs&ReasonSet(f) != 0 }

// With returns rs with f set.
func (rs ReasonSet) With(f ReasonFlag) ReasonSet { return rs | ReasonSet(f) }

// Names returns the sorted family names present in rs, e.g. ["BB","MACD","RSI"].
func (rs ReasonSet) Names() []string {
	var names []string
	for _, rn := range reasonNames {
		if rs.Has(rn.flag) {
			names = append(names, rn.name)
		}
	}
	sort.Strings(names)
	return names
}

// ComboKey derives the normalized combo-tracker key, a "+"-joined sorted
// subset, e.g. "BB+MACD+RSI".
func (rs ReasonSet) ComboKey() string {
	return strings.Join(rs.Names(), "+")
}

// String renders a human-readable reason string, derived from the bitset
// rather than parsed back into one.
func (rs ReasonSet) String() string {
	if rs == 0 {
		return "none"
	}
	return strings.Join(rs.Names(), ", ")
}
