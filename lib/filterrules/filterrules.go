// Package filterrules compiles the `-F` filter-rule grammar from
// spec.md Section 4.2 stage 1: `+pattern`/`-pattern` glob rules with
// first-match-wins semantics, anchored vs floating patterns, and merge
// directives that inline another rule file with recursion detection.
//
// There is no direct teacher equivalent for a glob compiler; this
// package is modeled on the "build a filter struct, then Matches(entry)"
// shape of the teacher's lib/artifact/index.go (ArtifactFilter +
// candidateSet/matchesFilter), with the glob grammar itself taken from
// the CLI surface described in spec.md Section 6 and original_source/.
package filterrules

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Action is the disposition a matching rule assigns to an entry.
type Action int

const (
	ActionExclude Action = iota
	ActionInclude
)

// Rule is one compiled `+pattern`/`-pattern` line.
type Rule struct {
	Action  Action
	Pattern string // original glob text, for --debug-filter output
	re      *regexp.Regexp
}

// Set is an ordered list of rules; the first rule matching a path
// wins (spec.md: "the first match wins").
type Set struct {
	rules []Rule
}

// Matches reports whether path is included, and which rule (if any)
// decided it. A path matching no rule is included by default
// (mkdwarfs's filter semantics default to "include everything not
// explicitly excluded").
func (s *Set) Matches(path string) (Action, *Rule) {
	for i := range s.rules {
		if s.rules[i].re.MatchString(path) {
			return s.rules[i].Action, &s.rules[i]
		}
	}
	return ActionInclude, nil
}

// Rules returns the compiled rule list, for --debug-filter reporting.
func (s *Set) Rules() []Rule { return s.rules }

// Append concatenates other's rules onto s, preserving first-match-
// wins order across multiple -F flags, each compiled independently.
func (s *Set) Append(other *Set) {
	if other == nil {
		return
	}
	s.rules = append(s.rules, other.rules...)
}

// loader resolves merge-directive include files and detects recursion.
type loader interface {
	Open(name string) (io.ReadCloser, error)
}

// Compile parses rule lines from r (one rule or merge directive per
// line; blank lines and lines starting with '#' are ignored) into a
// Set. name identifies r for recursion-cycle error messages; l
// resolves merge directives (lines starting with '.') by name.
func Compile(r io.Reader, name string, l loader) (*Set, error) {
	return compile(r, name, l, map[string]bool{})
}

func compile(r io.Reader, name string, l loader, visiting map[string]bool) (*Set, error) {
	if visiting[name] {
		return nil, fmt.Errorf("%w: %s", ErrRecursiveInclude, name)
	}
	visiting[name] = true
	defer delete(visiting, name)

	set := &Set{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if strings.HasPrefix(trimmed, ".") {
			included, err := loadMerge(trimmed, l, visiting)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", name, lineNo, err)
			}
			set.rules = append(set.rules, included.rules...)
			continue
		}
		rule, err := compileRule(trimmed)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", name, lineNo, err)
		}
		set.rules = append(set.rules, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return set, nil
}

func loadMerge(directive string, l loader, visiting map[string]bool) (*Set, error) {
	path := strings.TrimSpace(strings.TrimPrefix(directive, "."))
	if path == "" {
		return nil, fmt.Errorf("empty merge directive")
	}
	if l == nil {
		return nil, fmt.Errorf("merge directive %q: no loader configured", path)
	}
	f, err := l.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening merge file %q: %w", path, err)
	}
	defer f.Close()
	return compile(f, path, l, visiting)
}

// compileRule parses a single `+pattern` or `-pattern` line into a
// Rule with its compiled regexp.
func compileRule(line string) (Rule, error) {
	if len(line) < 2 {
		return Rule{}, fmt.Errorf("rule %q too short, want +pattern or -pattern", line)
	}
	var action Action
	switch line[0] {
	case '+':
		action = ActionInclude
	case '-':
		action = ActionExclude
	default:
		return Rule{}, fmt.Errorf("rule %q must start with + or -", line)
	}
	pattern := line[1:]
	re, err := CompileGlob(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: %w", line, err)
	}
	return Rule{Action: action, Pattern: pattern, re: re}, nil
}

// CompileGlob translates one glob pattern into an anchored regexp
// following spec.md Section 4.2's grammar:
//
//   - `*` matches any run of characters excluding `/`.
//   - `**` matches any run of characters, including `/`.
//   - `?` matches exactly one non-`/` character.
//   - `\x` escapes the following character literally.
//   - A pattern containing an explicit anchor (a leading `/`) is
//     matched against the whole path from the root. A pattern with no
//     leading `/` is floating: it may match at the root or starting
//     anywhere after a `/` boundary, so it is implicitly prefixed with
//     an optional `.*/`.
func CompileGlob(pattern string) (*regexp.Regexp, error) {
	anchored := strings.HasPrefix(pattern, "/")
	body := pattern
	if anchored {
		body = body[1:]
	}

	var b strings.Builder
	b.WriteString("^")
	if !anchored {
		b.WriteString("(?:.*/)?")
	}

	runes := []rune(body)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case '\\':
			if i+1 >= len(runes) {
				return nil, fmt.Errorf("dangling escape at end of pattern %q", pattern)
			}
			i++
			b.WriteString(regexp.QuoteMeta(string(runes[i])))
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("compiling glob %q: %w", pattern, err)
	}
	return re, nil
}
