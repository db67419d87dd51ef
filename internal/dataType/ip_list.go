package dataType

import (
	"net"
	"strings"
)

// IPList matches a client address against a newline-delimited rule list.
// Each non-empty line is one of:
//
//	203.0.113.7          exact address
//	10.0.0.0/24          CIDR, IPv4 or IPv6
//	192.168.1.*          wildcard dot-segments, IPv4-style text only
//
// Inline "#" comments are stripped and blank lines skipped. Matching never
// errors: malformed input on either side simply does not match, so a broken
// rule can never take a request down.
type IPList struct {
	exact     map[string]struct{}
	wildcards [][]string
	v4        *TrieNode
	v6        *TrieNode
	size      int
}

// ParseIPList builds an IPList from raw newline-delimited text.
func ParseIPList(raw string) *IPList {
	list := &IPList{
		exact: make(map[string]struct{}),
		v4:    &TrieNode{},
		v6:    &TrieNode{},
	}
	for _, line := range strings.Split(raw, "\n") {
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch {
		case strings.Contains(line, "/"):
			_, ipNet, err := net.ParseCIDR(line)
			if err != nil {
				continue
			}
			InsertNet(list.v4, list.v6, ipNet)
		case strings.Contains(line, "*"):
			segs := strings.Split(line, ".")
			if len(segs) < 2 {
				continue
			}
			list.wildcards = append(list.wildcards, segs)
		default:
			list.exact[line] = struct{}{}
		}
		list.size++
	}
	return list
}

// Empty reports whether the list contains no usable rules.
func (l *IPList) Empty() bool {
	return l == nil || l.size == 0
}

// Match reports whether ip hits any entry. The first matching rule wins;
// an ip that does not parse as IPv4 or IPv6 never matches.
func (l *IPList) Match(ip string) bool {
	if l.Empty() {
		return false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	if _, ok := l.exact[ip]; ok {
		return true
	}
	segs := strings.Split(ip, ".")
	for _, pattern := range l.wildcards {
		if matchSegments(segs, pattern) {
			return true
		}
	}
	if ip4 := parsed.To4(); ip4 != nil {
		return l.v4.Search(ip4)
	}
	return l.v6.Search(parsed.To16())
}

func matchSegments(segs, pattern []string) bool {
	if len(segs) != len(pattern) {
		return false
	}
	for i, p := range pattern {
		if p == "*" {
			continue
		}
		if segs[i] != p {
			return false
		}
	}
	return true
}
