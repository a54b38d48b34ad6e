package search

import (
	"reflect"
	"testing"
)

func TestCleanName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Father Gascoigne[1]", "Father Gascoigne"},
		{"  Vicar Amelia (optional) ", "Vicar Amelia"},
		{`"Micolash, Host of the Nightmare".`, "Micolash, Host of the Nightmare"},
		{"Cleric Beast\nDefeated in Central Yharnam", "Cleric Beast"},
		{"X", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := CleanName(tc.in); got != tc.want {
			t.Errorf("CleanName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDedupeNames(t *testing.T) {
	in := []string{"Rom, the Vacuous Spider", "rom, the vacuous spider[3]", "", "The One Reborn"}
	want := []string{"Rom, the Vacuous Spider", "The One Reborn"}
	if got := DedupeNames(in); !reflect.DeepEqual(got, want) {
		t.Fatalf("DedupeNames = %v, want %v", got, want)
	}
}
