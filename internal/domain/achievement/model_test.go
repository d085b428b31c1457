package achievement

import "testing"

func TestParseType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{"Competitions", TypeCompetitions, false},
		{"competitions", TypeCompetitions, false},
		{" competition ", TypeCompetitions, false},
		{"Datasets", TypeDatasets, false},
		{"dataset", TypeDatasets, false},
		{"Scripts", TypeScripts, false},
		{"notebooks", TypeScripts, false},
		{"Discussion", TypeDiscussion, false},
		{"discussions", TypeDiscussion, false},
		{"", "", true},
		{"medals", "", true},
	}

	for _, tc := range cases {
		got, err := ParseType(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseType(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseType(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseType(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTierName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		tier Tier
		want string
	}{
		{TierNovice, "Novice"},
		{TierContributor, "Contributor"},
		{TierExpert, "Expert"},
		{TierMaster, "Master"},
		{TierGrandmaster, "Grandmaster"},
		{Tier(42), "Tier(42)"},
	}
	for _, tc := range cases {
		if got := tc.tier.Name(); got != tc.want {
			t.Fatalf("Tier(%d).Name() = %q, want %q", tc.tier, got, tc.want)
		}
	}
}

func TestKnownTypesOrder(t *testing.T) {
	t.Parallel()

	types := KnownTypes()
	want := []Type{TypeCompetitions, TypeDatasets, TypeDiscussion, TypeScripts}
	if len(types) != len(want) {
		t.Fatalf("unexpected type count: %d", len(types))
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("position %d: got %q, want %q", i, types[i], want[i])
		}
	}
}
