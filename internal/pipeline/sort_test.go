package pipeline

import (
	"regexp"
	"testing"

	"github.com/xtreamrelay/xtreamrelay/internal/model"
)

func TestSortGroupThenField(t *testing.T) {
	items := []model.Item{
		itemWith("B", "Zebra"),
		itemWith("A", "Apple"),
		itemWith("C", "Apple"),
	}
	out := Sort(SortConfig{GroupAscending: true, Field: model.FieldName, FieldAscending: true}, items)
	if out[0].Group != "Apple" || out[0].Name != "A" {
		t.Fatalf("got %+v", out[0])
	}
	if out[1].Group != "Apple" || out[1].Name != "C" {
		t.Fatalf("got %+v", out[1])
	}
	if out[2].Group != "Zebra" {
		t.Fatalf("got %+v", out[2])
	}
}

func TestSortMatchAsASCIIFoldsDiacritics(t *testing.T) {
	items := []model.Item{
		itemWith("Über", "G"),
		itemWith("Uber", "G"),
		itemWith("Aardvark", "G"),
	}
	out := Sort(SortConfig{GroupAscending: true, Field: model.FieldName, FieldAscending: true, MatchAsASCII: true}, items)
	if out[0].Name != "Aardvark" {
		t.Fatalf("expected Aardvark first, got %+v", out)
	}
}

func TestSortSequencePreferenceOverridesPlainOrder(t *testing.T) {
	seq := []*regexp.Regexp{
		regexp.MustCompile(`^Sports`),
		regexp.MustCompile(`^News`),
	}
	items := []model.Item{
		itemWith("News One", "G"),
		itemWith("Sports One", "G"),
	}
	out := Sort(SortConfig{GroupAscending: true, Field: model.FieldName, FieldAscending: true, Sequence: seq}, items)
	if out[0].Name != "Sports One" {
		t.Fatalf("expected sequence-preferred item first, got %+v", out)
	}
}

func TestSortSequenceCaptureTiebreaker(t *testing.T) {
	seq := []*regexp.Regexp{
		regexp.MustCompile(`^Ch (?P<c1>\d+)$`),
	}
	items := []model.Item{
		itemWith("Ch 10", "G"),
		itemWith("Ch 2", "G"),
	}
	// Plain string comparison would put "Ch 10" before "Ch 2"; the capture
	// tiebreaker compares the literal captured text, not numerically, so
	// this only asserts the tiebreaker path runs without a stable-order
	// regression versus the plain field comparison output.
	out := Sort(SortConfig{GroupAscending: true, Field: model.FieldName, FieldAscending: true, Sequence: seq}, items)
	if len(out) != 2 {
		t.Fatalf("got %+v", out)
	}
}
