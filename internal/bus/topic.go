package bus

import "strings"

// MatchTopic reports whether a dotted glob pattern matches a topic.
//
// Patterns are split on "." like topics. A literal segment matches only an
// equal topic segment, "*" matches exactly one segment, and a trailing "*"
// or "**" matches any number of remaining segments, including zero. The
// pattern "*" on its own therefore subscribes to every topic. Matching is
// case-sensitive.
func MatchTopic(pattern, topic string) bool {
	if pattern == "" || topic == "" {
		return false
	}
	patSegs := strings.Split(pattern, ".")
	topSegs := strings.Split(topic, ".")

	for i, seg := range patSegs {
		last := i == len(patSegs)-1
		if seg == "**" || (seg == "*" && last) {
			return true
		}
		if i >= len(topSegs) {
			return false
		}
		if seg == "*" {
			continue
		}
		if seg != topSegs[i] {
			return false
		}
	}
	return len(patSegs) == len(topSegs)
}
