package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/tbourn/boss-title-updater/internal/identify"
	"github.com/tbourn/boss-title-updater/internal/retry"
)

func TestTitleParser_Default(t *testing.T) {
	p, err := NewTitleParser("")
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		title, game string
		ok          bool
	}{
		{"Bloodborne_20250321184741", "Bloodborne", true},
		{"  ELDEN RING_20240101120000 ", "ELDEN RING", true},
		{"Sekiro: Shadows Die Twice_20230505050505", "Sekiro: Shadows Die Twice", true},
		{"Bloodborne_2025032118474", "", false},
		{"Bloodborne: Father Gascoigne Melee PS5", "", false},
		{"_20250321184741", "", false},
	}
	for _, c := range cases {
		game, err := p.GameName(c.title)
		if c.ok != (err == nil) || game != c.game {
			t.Errorf("GameName(%q) = %q, %v", c.title, game, err)
		}
		if p.Matches(c.title) != c.ok {
			t.Errorf("Matches(%q) disagrees with GameName", c.title)
		}
	}
	if _, err := p.GameName("nope"); !errors.Is(err, ErrNotDefaultTitle) {
		t.Fatalf("expected ErrNotDefaultTitle, got %v", err)
	}
}

func TestTitleParser_BadPattern(t *testing.T) {
	if _, err := NewTitleParser("(["); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestFormatTitle(t *testing.T) {
	if got := FormatTitle("Bloodborne", "Father Gascoigne", true); got != "Bloodborne: Father Gascoigne Melee PS5" {
		t.Fatalf("melee: %q", got)
	}
	if got := FormatTitle(" Astro Bot ", " Bowser ", false); got != "Astro Bot: Bowser PS5" {
		t.Fatalf("plain: %q", got)
	}
}

func TestEstimateCost(t *testing.T) {
	e := EstimateCost(100)
	if math.Abs(e.Thumbnail-0.2) > 1e-9 || math.Abs(e.Frames-0.5) > 1e-9 || math.Abs(e.Total-0.7) > 1e-9 {
		t.Fatalf("unexpected estimate: %+v", e)
	}
	if EstimateCost(0) != (CostEstimate{}) {
		t.Fatal("zero videos should cost nothing")
	}
}

func TestCategory(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("wrap: %w", ErrUnidentified), CategoryUnidentified},
		{identify.ErrUnknown, CategoryUnidentified},
		{ErrNotFound, CategoryNotFound},
		{ErrAlreadyInFlight, CategoryAlreadyInFlight},
		{context.Canceled, CategoryCancelled},
		{retry.Permanent(errors.New("403")), CategoryPermanentExternal},
		{&retry.ExhaustedError{Attempts: 3, Err: errors.New("503")}, CategoryTransientExternal},
		{errors.New("boom"), CategoryInternal},
	}
	for _, c := range cases {
		if got := Category(c.err); got != c.want {
			t.Errorf("Category(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}
