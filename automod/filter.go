package automod

import (
	"fmt"

	"github.com/onnwee/request-tender/levelapi"
)

// RatedMode is the tri-state rated filter.
type RatedMode string

const (
	RatedAny    RatedMode = "any"
	RatedOnly   RatedMode = "rated_only"
	UnratedOnly RatedMode = "unrated_only"
)

// ParseRatedMode validates a mode string; empty means RatedAny.
func ParseRatedMode(s string) (RatedMode, error) {
	switch RatedMode(s) {
	case RatedAny, RatedOnly, UnratedOnly:
		return RatedMode(s), nil
	case "":
		return RatedAny, nil
	}
	return "", fmt.Errorf("unknown rated filter mode %q", s)
}

// FilterPolicy is a pure conjunction of configured criteria over resolved
// metadata. An empty allow-set means "no restriction", not "nothing passes".
type FilterPolicy struct {
	Lengths        map[levelapi.Length]struct{}
	Difficulties   map[levelapi.Difficulty]struct{}
	RejectDisliked bool
	Rated          RatedMode
	RejectLarge    bool
}

// NewFilterPolicy builds a policy from raw allow-set slices as they appear in
// configuration. Unknown tier names are rejected so typos cannot silently
// widen or narrow a filter.
func NewFilterPolicy(lengths, difficulties []string, rejectDisliked bool, rated RatedMode, rejectLarge bool) (FilterPolicy, error) {
	p := FilterPolicy{
		RejectDisliked: rejectDisliked,
		Rated:          rated,
		RejectLarge:    rejectLarge,
	}
	if len(lengths) > 0 {
		p.Lengths = make(map[levelapi.Length]struct{}, len(lengths))
		for _, s := range lengths {
			known := false
			for _, l := range levelapi.Lengths() {
				if levelapi.Length(s) == l {
					known = true
					break
				}
			}
			if !known {
				return FilterPolicy{}, fmt.Errorf("unknown length tier %q", s)
			}
			p.Lengths[levelapi.Length(s)] = struct{}{}
		}
	}
	if len(difficulties) > 0 {
		p.Difficulties = make(map[levelapi.Difficulty]struct{}, len(difficulties))
		for _, s := range difficulties {
			known := false
			for _, d := range levelapi.Difficulties() {
				if levelapi.Difficulty(s) == d {
					known = true
					break
				}
			}
			if !known {
				return FilterPolicy{}, fmt.Errorf("unknown difficulty tier %q", s)
			}
			p.Difficulties[levelapi.Difficulty(s)] = struct{}{}
		}
	}
	if p.Rated == "" {
		p.Rated = RatedAny
	}
	return p, nil
}

// LengthNames returns the allow-set as strings in tier order; empty means
// no restriction.
func (p FilterPolicy) LengthNames() []string {
	if len(p.Lengths) == 0 {
		return nil
	}
	out := make([]string, 0, len(p.Lengths))
	for _, l := range levelapi.Lengths() {
		if _, ok := p.Lengths[l]; ok {
			out = append(out, string(l))
		}
	}
	return out
}

// DifficultyNames returns the allow-set as strings in tier order; empty means
// no restriction.
func (p FilterPolicy) DifficultyNames() []string {
	if len(p.Difficulties) == 0 {
		return nil
	}
	out := make([]string, 0, len(p.Difficulties))
	for _, d := range levelapi.Difficulties() {
		if _, ok := p.Difficulties[d]; ok {
			out = append(out, string(d))
		}
	}
	return out
}

// Evaluate runs every enabled criterion and returns the first failing
// criterion as the reason. It has no side effects.
func (p FilterPolicy) Evaluate(m *levelapi.Metadata) (bool, string) {
	if len(p.Lengths) > 0 {
		if _, ok := p.Lengths[m.Length]; !ok {
			return false, fmt.Sprintf("length %s not allowed", m.Length)
		}
	}
	if len(p.Difficulties) > 0 {
		if _, ok := p.Difficulties[m.Difficulty]; !ok {
			return false, fmt.Sprintf("difficulty %s not allowed", m.Difficulty)
		}
	}
	if p.RejectDisliked && m.Disliked {
		return false, "level is disliked"
	}
	switch p.Rated {
	case RatedOnly:
		if !m.Rated {
			return false, "level is unrated"
		}
	case UnratedOnly:
		if m.Rated {
			return false, "level is rated"
		}
	}
	if p.RejectLarge && m.Large {
		return false, "level is too large (40k+ objects)"
	}
	return true, ""
}
