package logcat

import (
	"strings"
)

// Filter selects entries by priority and tag.
type Filter struct {
	priorities  map[Priority]bool
	includeTags []tagMatch
	excludeTags []tagMatch
}

type tagMatch struct {
	query    string
	contains bool
}

func (m tagMatch) matches(tag string) bool {
	if m.contains {
		return strings.Contains(tag, m.query)
	}
	return tag == m.query
}

// ParseFilter parses a whitespace separated filter expression. Terms:
//
//	tag:NAME  -tag:NAME  tag.contains:TEXT  -tag.contains:TEXT
//	priority:P[,P...]  -priority:P[,P...]
//
// Priorities match by prefix, so "priority:w,e" means WARN and ERROR and
// "d" selects both DEFAULT and DEBUG.
// Unknown terms are ignored.
func ParseFilter(expr string) Filter {
	var f Filter
	include := map[Priority]bool{}
	exclude := map[Priority]bool{}
	for _, part := range strings.Fields(expr) {
		switch {
		case strings.HasPrefix(part, "tag:"):
			f.includeTags = appendTag(f.includeTags, part[len("tag:"):], false)
		case strings.HasPrefix(part, "-tag:"):
			f.excludeTags = appendTag(f.excludeTags, part[len("-tag:"):], false)
		case strings.HasPrefix(part, "tag.contains:"):
			f.includeTags = appendTag(f.includeTags, part[len("tag.contains:"):], true)
		case strings.HasPrefix(part, "-tag.contains:"):
			f.excludeTags = appendTag(f.excludeTags, part[len("-tag.contains:"):], true)
		case strings.HasPrefix(part, "priority:"):
			addPriorities(include, part[len("priority:"):])
		case strings.HasPrefix(part, "-priority:"):
			addPriorities(exclude, part[len("-priority:"):])
		}
	}
	if len(include) == 0 {
		for p := range priorityNames {
			include[Priority(p)] = true
		}
	}
	for p := range exclude {
		delete(include, p)
	}
	f.priorities = include
	return f
}

func appendTag(list []tagMatch, query string, contains bool) []tagMatch {
	if strings.TrimSpace(query) == "" {
		return list
	}
	return append(list, tagMatch{query: query, contains: contains})
}

func addPriorities(set map[Priority]bool, list string) {
	for _, name := range strings.Split(list, ",") {
		if name == "" {
			continue
		}
		name = strings.ToUpper(name)
		for p, full := range priorityNames {
			if strings.HasPrefix(full, name) {
				set[Priority(p)] = true
			}
		}
	}
}

// Match reports whether an entry with priority p and tag passes the filter.
// The zero Filter matches everything.
func (f Filter) Match(p Priority, tag string) bool {
	if f.priorities != nil && !f.priorities[p] {
		return false
	}
	for _, m := range f.excludeTags {
		if m.matches(tag) {
			return false
		}
	}
	if len(f.includeTags) == 0 {
		return true
	}
	for _, m := range f.includeTags {
		if m.matches(tag) {
			return true
		}
	}
	return false
}
