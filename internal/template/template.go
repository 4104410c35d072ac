package template

import (
	"fmt"
	"regexp"
	"strings"
)

// Template is one named pattern value, as loaded from a config's
// top-level templates list.
type Template struct {
	Name  string
	Value string
}

var refPattern = regexp.MustCompile(`!([A-Za-z0-9_.\-]+)!`)

// references returns the set of `!name!` placeholders inside value.
func references(value string) []string {
	matches := refPattern.FindAllStringSubmatch(value, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// Resolver expands `!name!` references across a set of named templates,
// refusing to compile if a cycle exists.
type Resolver struct {
	byName map[string]string
}

func NewResolver(templates []Template) *Resolver {
	r := &Resolver{byName: make(map[string]string, len(templates))}
	for _, t := range templates {
		r.byName[t.Name] = t.Value
	}
	return r
}

// Expand returns every template fully expanded (no more `!name!`
// occurrences survive), or an error naming the cyclic dependency.
func (r *Resolver) Expand() (map[string]string, error) {
	g := NewGraph[string]()
	for name, value := range r.byName {
		g.AddNode(name)
		for _, ref := range references(value) {
			if _, ok := r.byName[ref]; ok {
				g.AddEdge(name, ref)
			}
		}
	}
	order, ok := g.TopologicalSort()
	if !ok {
		return nil, fmt.Errorf("template: cyclic reference detected among templates")
	}
	expanded := make(map[string]string, len(r.byName))
	for _, name := range order {
		expanded[name] = r.expandOne(name, expanded)
	}
	// Any template with no outgoing references never entered the DFS
	// ordering loop's adjacency map as a key with edges, but AddNode
	// guarantees every name is present in `order`.
	for name := range r.byName {
		if _, done := expanded[name]; !done {
			expanded[name] = r.expandOne(name, expanded)
		}
	}
	return expanded, nil
}

func (r *Resolver) expandOne(name string, already map[string]string) string {
	value := r.byName[name]
	return refPattern.ReplaceAllStringFunc(value, func(m string) string {
		ref := m[1 : len(m)-1]
		if v, ok := already[ref]; ok {
			return v
		}
		if v, ok := r.byName[ref]; ok {
			return v
		}
		return m
	})
}

// ExpandString substitutes every `!name!` in s using an already-expanded
// template map. Used by the filter engine and affix rules to resolve
// template references inside a user-authored pattern.
func ExpandString(s string, expanded map[string]string) string {
	if !strings.Contains(s, "!") {
		return s
	}
	return refPattern.ReplaceAllStringFunc(s, func(m string) string {
		ref := m[1 : len(m)-1]
		if v, ok := expanded[ref]; ok {
			return v
		}
		return m
	})
}
