package source

import (
	"bufio"
	"strings"
)

// robots holds the rules of a robots.txt that apply to one user agent.
type robots struct {
	rules []robotsRule
}

type robotsRule struct {
	allow  bool
	prefix string
}

// parseRobots extracts the rules for agent, falling back to the "*" group.
// Paths are matched by prefix; the longest match wins and Allow wins ties.
func parseRobots(body, agent string) robots {
	agent = strings.ToLower(agent)

	var (
		specific, wildcard []robotsRule
		groupAgents        []string
		inRules            bool
		sawSpecific        bool
	)
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			if inRules {
				groupAgents = nil
				inRules = false
			}
			groupAgents = append(groupAgents, strings.ToLower(value))
		case "allow", "disallow":
			inRules = true
			if key == "disallow" && value == "" {
				continue
			}
			rule := robotsRule{allow: key == "allow", prefix: value}
			for _, ua := range groupAgents {
				switch {
				case ua == "*":
					wildcard = append(wildcard, rule)
				case ua != "" && strings.Contains(agent, ua):
					specific = append(specific, rule)
					sawSpecific = true
				}
			}
		}
	}
	if sawSpecific {
		return robots{rules: specific}
	}
	return robots{rules: wildcard}
}

// allowed reports whether path may be fetched.
func (r robots) allowed(path string) bool {
	if path == "" {
		path = "/"
	}
	best, allow := -1, true
	for _, rule := range r.rules {
		if !strings.HasPrefix(path, rule.prefix) {
			continue
		}
		n := len(rule.prefix)
		if n > best || (n == best && rule.allow) {
			best, allow = n, rule.allow
		}
	}
	return allow
}
