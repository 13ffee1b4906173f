// Package filter decides which paths under a monitored root are eligible
// for change tracking. Rules are ordered include/exclude glob patterns
// evaluated first-match-wins against the path relative to the root.
package filter

import (
	"fmt"
	"strings"
)

// Rule is a single include or exclude pattern.
type Rule struct {
	Pattern *compiledPattern
	Include bool
}

// Chain is an ordered list of filter rules.
type Chain struct {
	rules []Rule
}

// NewChain creates an empty chain, which includes everything.
func NewChain() *Chain {
	return &Chain{}
}

// FromRules builds a chain from configured rule strings. A rule starting
// with "+ " includes, "- " excludes, and a bare pattern excludes.
func FromRules(rules []string) (*Chain, error) {
	c := NewChain()
	for i, line := range rules {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		include := false
		pattern := line
		switch {
		case strings.HasPrefix(line, "+ "):
			include = true
			pattern = strings.TrimSpace(line[2:])
		case strings.HasPrefix(line, "- "):
			pattern = strings.TrimSpace(line[2:])
		}

		var err error
		if include {
			err = c.AddInclude(pattern)
		} else {
			err = c.AddExclude(pattern)
		}
		if err != nil {
			return nil, fmt.Errorf("filter rule %d: %w", i+1, err)
		}
	}
	return c, nil
}

// AddExclude appends an exclude rule for the given pattern.
func (c *Chain) AddExclude(pattern string) error {
	cp, err := compilePattern(pattern)
	if err != nil {
		return err
	}
	c.rules = append(c.rules, Rule{Pattern: cp, Include: false})
	return nil
}

// AddInclude appends an include rule for the given pattern.
func (c *Chain) AddInclude(pattern string) error {
	cp, err := compilePattern(pattern)
	if err != nil {
		return err
	}
	c.rules = append(c.rules, Rule{Pattern: cp, Include: true})
	return nil
}

// Empty reports whether the chain has no rules.
func (c *Chain) Empty() bool {
	return len(c.rules) == 0
}

// Match reports whether relPath should be tracked. Rules are walked in
// order and the first matching rule wins; a path matching no rule is
// included.
func (c *Chain) Match(relPath string, isDir bool) bool {
	for _, rule := range c.rules {
		if rule.Pattern.match(relPath, isDir) {
			return rule.Include
		}
	}
	return true
}
