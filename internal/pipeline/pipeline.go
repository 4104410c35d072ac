// Package pipeline implements the per-target filter/rename/map/sort
// transform chain, ported from m3u-filter's
// src/processing/processor/playlist.rs family of stages.
package pipeline

import (
	"regexp"

	"github.com/xtreamrelay/xtreamrelay/internal/filter"
	"github.com/xtreamrelay/xtreamrelay/internal/model"
)

// Order is one of the six processing_order permutations of filter,
// rename, map. Sort always runs last regardless of Order.
type Order string

const (
	OrderFRM Order = "FRM"
	OrderFMR Order = "FMR"
	OrderRFM Order = "RFM"
	OrderRMF Order = "RMF"
	OrderMFR Order = "MFR"
	OrderMRF Order = "MRF"
)

// RenameRule rewrites one field by regex substitution. A rule targeting FieldGroup additionally changes the
// group's own title, which is why Map re-groups after rename.
type RenameRule struct {
	Field       model.Field
	Pattern     *regexp.Regexp
	Replacement string
}

func (r RenameRule) apply(it *model.Item) {
	value := it.Value(r.Field)
	rewritten := r.Pattern.ReplaceAllString(value, r.Replacement)
	it.SetValue(r.Field, rewritten)
}

// MapperRule matches items with a compiled filter expression and, on
// match, applies field assignments. Assignment
// values may reference the filter's named captures via `<tag:name>`.
type MapperRule struct {
	Match       filter.Expr
	Assignments []MapperAssignment
}

type MapperAssignment struct {
	Field   model.Field
	Value   string // may contain <tag:name> placeholders
	IsGroup bool   // true if this assignment targets the group (for regroup tracking)
}

// captureProcessor implements filter.ValueProcessor, recording the last
// match's named captures so mapper assignments can reference them.
type captureProcessor struct {
	captures map[string]string
}

func newCaptureProcessor() *captureProcessor {
	return &captureProcessor{captures: make(map[string]string)}
}

func (c *captureProcessor) Process(_ model.Field, _ string, re filter.RegexWithCaptures, match []string) {
	for i, name := range re.Captures {
		if name == "" {
			continue
		}
		if i+1 < len(match) {
			c.captures[name] = match[i+1]
		}
	}
}

var tagRef = regexp.MustCompile(`<tag:([A-Za-z0-9_]+)>`)

func expandTags(value string, captures map[string]string) string {
	return tagRef.ReplaceAllStringFunc(value, func(m string) string {
		name := tagRef.FindStringSubmatch(m)[1]
		if v, ok := captures[name]; ok {
			return v
		}
		return ""
	})
}

// Counter assigns a monotonic value to a field across the processed item
// set.
type Counter struct {
	Field   model.Field
	Mode    CounterMode
	Start   int
	Padding int
}

type CounterMode int

const (
	CounterReplace CounterMode = iota
	CounterSuffix
	CounterPrefix
)

// AffixRule decorates a named field with a fixed prefix/suffix at the
// input level. Only fields in affixWhitelist may
// be targeted.
type AffixRule struct {
	Field  model.Field
	Prefix string
	Suffix string
}

var affixWhitelist = map[model.Field]bool{
	model.FieldName:  true,
	model.FieldTitle: true,
	model.FieldGroup: true,
}

func (r AffixRule) valid() bool { return affixWhitelist[r.Field] }

func (r AffixRule) apply(it *model.Item) {
	if !r.valid() {
		return
	}
	v := it.Value(r.Field)
	it.SetValue(r.Field, r.Prefix+v+r.Suffix)
}

// Config bundles one target's pipeline configuration.
type Config struct {
	Order            Order
	Filter           filter.Expr
	Renames          []RenameRule
	Mappers          []MapperRule
	Counter          *Counter
	Sort             *SortConfig
	Affixes          []AffixRule
	RemoveDuplicates bool
}

// Run executes the configured transform chain over items, in the
// configured processing_order, followed by dedup placement (before the
// ordering, when enabled), channel numbering and affix application.
func Run(cfg Config, items []model.Item) []model.Item {
	if cfg.RemoveDuplicates {
		items = dedup(items)
	}

	stages := stagesFor(cfg.Order)
	for _, stage := range stages {
		items = stage(cfg, items)
	}

	if cfg.Counter != nil {
		items = applyCounter(*cfg.Counter, items)
	}
	if cfg.Sort != nil {
		items = Sort(*cfg.Sort, items)
	}
	items = assignChannelNumbers(items)
	for i := range items {
		for _, a := range cfg.Affixes {
			a.apply(&items[i])
		}
	}
	return items
}

type stageFunc func(cfg Config, items []model.Item) []model.Item

func stagesFor(order Order) []stageFunc {
	switch order {
	case OrderFMR:
		return []stageFunc{applyFilter, applyRename, applyMap}
	case OrderRFM:
		return []stageFunc{applyRename, applyFilter, applyMap}
	case OrderRMF:
		return []stageFunc{applyRename, applyMap, applyFilter}
	case OrderMFR:
		return []stageFunc{applyMap, applyFilter, applyRename}
	case OrderMRF:
		return []stageFunc{applyMap, applyRename, applyFilter}
	case OrderFRM:
		fallthrough
	default:
		return []stageFunc{applyFilter, applyRename, applyMap}
	}
}

func applyFilter(cfg Config, items []model.Item) []model.Item {
	if cfg.Filter == nil {
		return items
	}
	out := items[:0]
	for _, it := range items {
		if filter.Eval(cfg.Filter, &it, nil) {
			out = append(out, it)
		}
	}
	return out
}

func applyRename(cfg Config, items []model.Item) []model.Item {
	if len(cfg.Renames) == 0 {
		return items
	}
	for i := range items {
		for _, r := range cfg.Renames {
			r.apply(&items[i])
		}
	}
	return items
}

// applyMap applies every matching mapper's assignments, then regroups
// items whose group title changed as a side effect.
func applyMap(cfg Config, items []model.Item) []model.Item {
	if len(cfg.Mappers) == 0 {
		return items
	}
	for i := range items {
		originalGroup := items[i].Group
		for _, mapper := range cfg.Mappers {
			proc := newCaptureProcessor()
			if !filter.Eval(mapper.Match, &items[i], proc) {
				continue
			}
			for _, a := range mapper.Assignments {
				value := expandTags(a.Value, proc.captures)
				items[i].SetValue(a.Field, value)
			}
		}
		_ = originalGroup // regrouping is a no-op in this flat item model: Group is the
		// authoritative field read downstream by the repository/serving layer, so a
		// changed Group value already IS the regroup.
	}
	return items
}

// dedup removes items sharing a content UUID, keeping the first
// occurrence.
func dedup(items []model.Item) []model.Item {
	seen := make(map[[32]byte]bool, len(items))
	out := items[:0]
	for _, it := range items {
		if seen[it.UUID] {
			continue
		}
		seen[it.UUID] = true
		out = append(out, it)
	}
	return out
}

// assignChannelNumbers gives every item without a chno the lowest
// unused positive integer, preserving explicitly set chnos.
func assignChannelNumbers(items []model.Item) []model.Item {
	used := make(map[int]bool)
	for _, it := range items {
		if n, ok := parsePositiveInt(it.Chno); ok {
			used[n] = true
		}
	}
	next := 1
	for i := range items {
		if _, ok := parsePositiveInt(items[i].Chno); ok {
			continue
		}
		for used[next] {
			next++
		}
		items[i].Chno = itoa(next)
		used[next] = true
	}
	return items
}

func parsePositiveInt(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	if n <= 0 {
		return 0, false
	}
	return n, true
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}

func applyCounterPadded(n, padding int) string {
	s := itoa(n)
	for len(s) < padding {
		s = "0" + s
	}
	return s
}

func applyCounter(c Counter, items []model.Item) []model.Item {
	n := c.Start
	for i := range items {
		counterStr := applyCounterPadded(n, c.Padding)
		n++
		current := items[i].Value(c.Field)
		switch c.Mode {
		case CounterSuffix:
			items[i].SetValue(c.Field, current+counterStr)
		case CounterPrefix:
			items[i].SetValue(c.Field, counterStr+current)
		default:
			items[i].SetValue(c.Field, counterStr)
		}
	}
	return items
}
