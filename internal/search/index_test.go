package search

import "testing"

func TestOptionsAndDefaults(t *testing.T) {
	def := defaultConfig()
	if def.threshold != DefaultThreshold {
		t.Fatalf("default threshold = %v", def.threshold)
	}
	if _, ok := def.stopwords["the"]; !ok {
		t.Fatalf("default stopwords missing 'the'")
	}

	cfg := def
	WithThreshold(0.8)(&cfg)
	if cfg.threshold != 0.8 {
		t.Fatalf("WithThreshold failed: %v", cfg.threshold)
	}
	WithThreshold(0)(&cfg)
	WithThreshold(1.5)(&cfg)
	if cfg.threshold != 0.8 {
		t.Fatalf("out-of-range thresholds should be ignored, got %v", cfg.threshold)
	}

	WithStopwords([]string{"  Lord ", ""})(&cfg)
	if _, ok := cfg.stopwords["lord"]; !ok || len(cfg.stopwords) != 1 {
		t.Fatalf("WithStopwords failed: %#v", cfg.stopwords)
	}
}

func TestNewIndex_DropsBlankAndDuplicates(t *testing.T) {
	idx := NewIndex([]string{"Father Gascoigne", "  ", "father gascoigne", "Vicar  Amelia"}).(*index)
	if len(idx.entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(idx.entries))
	}
	if idx.entries[0].name != "Father Gascoigne" || idx.entries[1].name != "Vicar Amelia" {
		t.Fatalf("unexpected entries: %+v", idx.entries)
	}
}

func TestTopK_OrderingAndExactMatch(t *testing.T) {
	idx := NewIndex([]string{
		"Father Gascoigne",
		"Cleric Beast",
		"Vicar Amelia",
		"Gascoigne's Daughter",
	})

	res := idx.TopK("father gascoigne", 3)
	if len(res) == 0 || res[0].Name != "Father Gascoigne" || res[0].Score != 1 {
		t.Fatalf("expected exact match first, got %+v", res)
	}

	res = idx.TopK("The Cleric Beast boss", 2)
	if len(res) != 1 || res[0].Name != "Cleric Beast" {
		t.Fatalf("stop words should not dilute the score: %+v", res)
	}

	if got := idx.TopK("", 3); got != nil {
		t.Fatalf("blank query should return nil, got %+v", got)
	}
	if got := idx.TopK("Ludwig", 3); got != nil {
		t.Fatalf("no overlap should return nil, got %+v", got)
	}
}

func TestBest_Threshold(t *testing.T) {
	idx := NewIndex([]string{"Ludwig, the Holy Blade", "Ludwig the Accursed", "Orphan of Kos"})

	if got, ok := idx.Best("Orphan of Kos"); !ok || got != "Orphan of Kos" {
		t.Fatalf("Best exact = %q %v", got, ok)
	}
	if got, ok := idx.Best("Ludwig Holy Blade"); !ok || got != "Ludwig, the Holy Blade" {
		t.Fatalf("Best fuzzy = %q %v", got, ok)
	}
	if _, ok := idx.Best("Lady Maria of the Astral Clocktower"); ok {
		t.Fatalf("unrelated answer should not be snapped")
	}

	strict := NewIndex([]string{"Ludwig the Accursed"}, WithThreshold(1))
	if _, ok := strict.Best("Ludwig"); ok {
		t.Fatalf("partial match must fail a threshold of 1")
	}
}

func TestBest_EmptyIndex(t *testing.T) {
	if _, ok := NewIndex(nil).Best("anything"); ok {
		t.Fatalf("empty index must never match")
	}
}
