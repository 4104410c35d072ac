package pipeline

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/xtreamrelay/xtreamrelay/internal/model"
)

// SortConfig is the two-level sort: group title, then a per-group field.
// An optional ordered list of regex sequences provides a preference
// ordering ahead of the plain field comparison, with named captures
// (c1, c2, ...) used as secondary tiebreakers.
type SortConfig struct {
	GroupAscending bool
	Field          model.Field
	FieldAscending bool
	MatchAsASCII   bool
	Sequence       []*regexp.Regexp
}

var asciiFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldASCII strips diacritics so e.g. "Über" sorts next to "Uber".
func foldASCII(s string) string {
	out, _, err := transform.String(asciiFolder, s)
	if err != nil {
		return s
	}
	return out
}

// Sort orders items by group title, then by cfg.Field within each group,
// applying cfg.Sequence as a preference tiebreaker ahead of the plain
// comparison when configured.
func Sort(cfg SortConfig, items []model.Item) []model.Item {
	key := func(s string) string {
		if cfg.MatchAsASCII {
			return foldASCII(s)
		}
		return s
	}

	sort.SliceStable(items, func(i, j int) bool {
		gi, gj := key(items[i].Group), key(items[j].Group)
		if gi != gj {
			if cfg.GroupAscending {
				return gi < gj
			}
			return gi > gj
		}

		if len(cfg.Sequence) > 0 {
			ri, rj := sequenceRank(cfg.Sequence, items[i].Value(cfg.Field)), sequenceRank(cfg.Sequence, items[j].Value(cfg.Field))
			if ri != rj {
				return ri < rj
			}
			if c := compareCaptures(cfg.Sequence, items[i].Value(cfg.Field), items[j].Value(cfg.Field)); c != 0 {
				return c < 0
			}
		}

		vi, vj := key(items[i].Value(cfg.Field)), key(items[j].Value(cfg.Field))
		if cfg.FieldAscending {
			return vi < vj
		}
		return vi > vj
	})
	return items
}

// sequenceRank returns the index of the first regex in seq that matches
// value, or len(seq) if none match, so sequence order becomes sort
// priority (earlier pattern in the list sorts first).
func sequenceRank(seq []*regexp.Regexp, value string) int {
	for i, re := range seq {
		if re.MatchString(value) {
			return i
		}
	}
	return len(seq)
}

// compareCaptures breaks ties between two values matching the same
// sequence entry using that entry's named captures (c1, c2, ...) in
// declared order.
func compareCaptures(seq []*regexp.Regexp, a, b string) int {
	for _, re := range seq {
		ma := re.FindStringSubmatch(a)
		mb := re.FindStringSubmatch(b)
		if ma == nil || mb == nil {
			continue
		}
		names := re.SubexpNames()
		for i, name := range names {
			if !strings.HasPrefix(name, "c") || i >= len(ma) || i >= len(mb) {
				continue
			}
			if ma[i] != mb[i] {
				if ma[i] < mb[i] {
					return -1
				}
				return 1
			}
		}
	}
	return 0
}
