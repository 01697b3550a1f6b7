package tournament

import "strings"

// NormalizeAddress trims and lower-cases a wallet address. The backend keys
// participants by the lower-case form.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

var subjects = []string{
	"mathematics",
	"physics",
	"chemistry",
	"biology",
	"history",
	"geography",
	"literature",
	"computer-science",
	"psychology",
	"economics",
	"astronomy",
	"art-history",
	"philosophy",
	"environmental-science",
	"anatomy",
	"genetics",
	"world-languages",
	"music-theory",
	"engineering",
	"archaeology",
	"neuroscience",
	"statistics",
	"geology",
	"political-science",
	"sociology",
}

// Subjects lists the subject categories the tournament backend knows about.
func Subjects() []string {
	out := make([]string, len(subjects))
	copy(out, subjects)
	return out
}

func IsKnownSubject(s string) bool {
	for _, sub := range subjects {
		if sub == s {
			return true
		}
	}
	return false
}
