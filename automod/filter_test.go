package automod

import (
	"testing"

	"github.com/onnwee/request-tender/levelapi"
)

func meta(mut func(*levelapi.Metadata)) *levelapi.Metadata {
	m := &levelapi.Metadata{
		ID:         "123",
		Name:       "Test Level",
		Author:     "creator",
		Difficulty: levelapi.DifficultyHarder,
		Length:     levelapi.LengthMedium,
		Rated:      true,
	}
	if mut != nil {
		mut(m)
	}
	return m
}

func TestParseRatedMode(t *testing.T) {
	cases := []struct {
		in      string
		want    RatedMode
		wantErr bool
	}{
		{"any", RatedAny, false},
		{"rated_only", RatedOnly, false},
		{"unrated_only", UnratedOnly, false},
		{"", RatedAny, false},
		{"rated", "", true},
		{"RATED_ONLY", "", true},
	}
	for _, tc := range cases {
		got, err := ParseRatedMode(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseRatedMode(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseRatedMode(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNewFilterPolicyRejectsUnknownTiers(t *testing.T) {
	if _, err := NewFilterPolicy([]string{"gigantic"}, nil, false, RatedAny, false); err == nil {
		t.Error("unknown length tier should be rejected")
	}
	if _, err := NewFilterPolicy(nil, []string{"impossible"}, false, RatedAny, false); err == nil {
		t.Error("unknown difficulty tier should be rejected")
	}
	if _, err := NewFilterPolicy([]string{"tiny", "xl"}, []string{"demon-hard"}, false, RatedAny, false); err != nil {
		t.Errorf("valid tiers rejected: %v", err)
	}
}

func TestEvaluateEmptyPolicyAllowsEverything(t *testing.T) {
	p, err := NewFilterPolicy(nil, nil, false, RatedAny, false)
	if err != nil {
		t.Fatal(err)
	}
	ok, reason := p.Evaluate(meta(func(m *levelapi.Metadata) {
		m.Disliked = true
		m.Large = true
		m.Rated = false
	}))
	if !ok {
		t.Errorf("empty policy rejected level: %s", reason)
	}
}

func TestEvaluateAllowSets(t *testing.T) {
	p, err := NewFilterPolicy([]string{"medium", "long"}, []string{"harder", "insane"}, false, RatedAny, false)
	if err != nil {
		t.Fatal(err)
	}

	if ok, _ := p.Evaluate(meta(nil)); !ok {
		t.Error("medium/harder level should pass")
	}
	if ok, reason := p.Evaluate(meta(func(m *levelapi.Metadata) { m.Length = levelapi.LengthTiny })); ok || reason == "" {
		t.Errorf("tiny level should fail with a reason, got ok=%v reason=%q", ok, reason)
	}
	if ok, _ := p.Evaluate(meta(func(m *levelapi.Metadata) { m.Difficulty = levelapi.DifficultyEasy })); ok {
		t.Error("easy level should fail the difficulty allow-set")
	}
}

func TestEvaluateCriteria(t *testing.T) {
	cases := []struct {
		name   string
		policy FilterPolicy
		mut    func(*levelapi.Metadata)
		wantOK bool
	}{
		{"disliked rejected", FilterPolicy{RejectDisliked: true, Rated: RatedAny}, func(m *levelapi.Metadata) { m.Disliked = true }, false},
		{"disliked allowed when off", FilterPolicy{Rated: RatedAny}, func(m *levelapi.Metadata) { m.Disliked = true }, true},
		{"rated_only rejects unrated", FilterPolicy{Rated: RatedOnly}, func(m *levelapi.Metadata) { m.Rated = false }, false},
		{"rated_only passes rated", FilterPolicy{Rated: RatedOnly}, nil, true},
		{"unrated_only rejects rated", FilterPolicy{Rated: UnratedOnly}, nil, false},
		{"unrated_only passes unrated", FilterPolicy{Rated: UnratedOnly}, func(m *levelapi.Metadata) { m.Rated = false }, true},
		{"large rejected", FilterPolicy{Rated: RatedAny, RejectLarge: true}, func(m *levelapi.Metadata) { m.Large = true }, false},
		{"large allowed when off", FilterPolicy{Rated: RatedAny}, func(m *levelapi.Metadata) { m.Large = true }, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, reason := tc.policy.Evaluate(meta(tc.mut))
			if ok != tc.wantOK {
				t.Errorf("ok = %v (reason %q), want %v", ok, reason, tc.wantOK)
			}
			if !ok && reason == "" {
				t.Error("rejection must carry a reason")
			}
		})
	}
}

func TestTierNamesStableOrder(t *testing.T) {
	p, err := NewFilterPolicy([]string{"xl", "tiny"}, []string{"insane", "easy"}, false, RatedAny, false)
	if err != nil {
		t.Fatal(err)
	}
	lengths := p.LengthNames()
	if len(lengths) != 2 || lengths[0] != "tiny" || lengths[1] != "xl" {
		t.Errorf("LengthNames = %v, want tier order [tiny xl]", lengths)
	}
	diffs := p.DifficultyNames()
	if len(diffs) != 2 || diffs[0] != "easy" || diffs[1] != "insane" {
		t.Errorf("DifficultyNames = %v, want tier order [easy insane]", diffs)
	}

	var empty FilterPolicy
	if empty.LengthNames() != nil || empty.DifficultyNames() != nil {
		t.Error("empty allow-sets should report nil")
	}
}
