// Package grading decides whether a player's answer matches the reference.
// Multiple-choice answers compare letters; free-text answers go through a
// named Strategy.
package grading

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

type Strategy interface {
	Name() string
	Equivalent(answer, reference string) bool
}

const (
	NameExact        = "exact"
	NameSubstring    = "substring"
	NameEditDistance = "edit-distance"
)

// ByName returns the strategy registered under name. An empty name gives
// the substring strategy.
func ByName(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameExact:
		return Exact{}, nil
	case NameSubstring, "":
		return Substring{}, nil
	case NameEditDistance:
		return EditDistance{}, nil
	}
	return nil, fmt.Errorf("unknown grading strategy %q", name)
}

// ChoiceCorrect compares option letters, ignoring case and padding.
func ChoiceCorrect(selected, correct string) bool {
	s := strings.ToUpper(strings.TrimSpace(selected))
	return s != "" && s == strings.ToUpper(strings.TrimSpace(correct))
}

// Exact matches after normalisation only.
type Exact struct{}

func (Exact) Name() string { return NameExact }

func (Exact) Equivalent(answer, reference string) bool {
	a, r := Normalize(answer), Normalize(reference)
	return a != "" && a == r
}

// Substring accepts either side containing the other, on the normalised
// text and on the token-sorted text, so word order does not matter.
type Substring struct{}

func (Substring) Name() string { return NameSubstring }

func (Substring) Equivalent(answer, reference string) bool {
	a, r := Normalize(answer), Normalize(reference)
	if a == "" || r == "" {
		return false
	}
	if strings.Contains(a, r) || strings.Contains(r, a) {
		return true
	}
	sa, sr := sortTokens(a), sortTokens(r)
	return strings.Contains(sa, sr) || strings.Contains(sr, sa)
}

// EditDistance accepts answers within MaxRatio edits per reference
// character, at least one edit. A zero MaxRatio means 0.2.
type EditDistance struct {
	MaxRatio float64
}

func (EditDistance) Name() string { return NameEditDistance }

func (e EditDistance) Equivalent(answer, reference string) bool {
	a, r := Normalize(answer), Normalize(reference)
	if a == "" || r == "" {
		return false
	}
	ratio := e.MaxRatio
	if ratio <= 0 {
		ratio = 0.2
	}
	budget := int(float64(len([]rune(r))) * ratio)
	if budget < 1 {
		budget = 1
	}
	if levenshtein.ComputeDistance(a, r) <= budget {
		return true
	}
	return levenshtein.ComputeDistance(sortTokens(a), sortTokens(r)) <= budget
}

// Normalize lower-cases s, turns punctuation into spaces and collapses runs
// of whitespace.
func Normalize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

func sortTokens(s string) string {
	fields := strings.Fields(s)
	sort.Strings(fields)
	return strings.Join(fields, " ")
}
