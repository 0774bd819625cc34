// Package robots evaluates a site's robots.txt against a target path.
//
// Only Disallow rules from the group addressed to "*" or to the gateway's own
// agent token are honored, matched as plain path prefixes. Allow rules,
// wildcards and crawl delays are ignored.
package robots

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

const maxLineBytes = 64 * 1024

// RuleSet is the ordered list of Disallow prefixes that apply to this agent.
type RuleSet struct {
	Disallow []string
}

// Allows reports whether path matches none of the Disallow prefixes.
func (r RuleSet) Allows(path string) bool {
	_, blocked := r.Match(path)
	return !blocked
}

// Match returns the first Disallow prefix matching path.
func (r RuleSet) Match(path string) (string, bool) {
	for _, prefix := range r.Disallow {
		if strings.HasPrefix(path, prefix) {
			return prefix, true
		}
	}
	return "", false
}

type parseState int

const (
	outsideGroup parseState = iota
	insideGroup
)

// Parser turns robots.txt text into a RuleSet. A User-agent line naming "*"
// or the agent token enters the relevant group; any other User-agent line
// leaves it.
type Parser struct {
	agentToken string
}

// NewParser builds a Parser for agentToken. An empty token matches only "*".
func NewParser(agentToken string) *Parser {
	return &Parser{agentToken: strings.ToLower(strings.TrimSpace(agentToken))}
}

// Parse reads r line by line. Lines longer than maxLineBytes are skipped.
func (p *Parser) Parse(r io.Reader) (RuleSet, error) {
	reader := bufio.NewReaderSize(r, maxLineBytes)

	var (
		rules    RuleSet
		state    = outsideGroup
		overlong bool
	)
	for {
		line, isPrefix, err := reader.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return rules, nil
			}
			return RuleSet{}, fmt.Errorf("read robots.txt: %w", err)
		}
		if overlong || isPrefix {
			// Drop every fragment up to and including the line's last one.
			overlong = isPrefix
			continue
		}

		key, value, ok := splitDirective(string(line))
		if !ok {
			continue
		}
		switch key {
		case "user-agent":
			if p.relevant(value) {
				state = insideGroup
			} else {
				state = outsideGroup
			}
		case "disallow":
			if state == insideGroup && value != "" {
				rules.Disallow = append(rules.Disallow, value)
			}
		}
	}
}

func (p *Parser) relevant(agent string) bool {
	agent = strings.ToLower(agent)
	return agent == "*" || (p.agentToken != "" && agent == p.agentToken)
}

func splitDirective(line string) (string, string, bool) {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", "", false
	}
	key, value, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	return strings.ToLower(strings.TrimSpace(key)), strings.TrimSpace(value), true
}
