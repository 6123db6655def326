package pipeline

import (
	"regexp"
	"sort"
	"strings"
)

var reReplyPrefix = regexp.MustCompile(`(?i)^((re|fwd?|aw)\s*:\s*)+`)

// GroupMessages clusters categorized messages into digest groups. Messages
// sharing a thread ID form one group; messages without a thread ID fall
// back to a sender+subject key. The result is a pure function of the input
// set: identical messages yield identical groups regardless of input order.
//
// Aggregates: the group category is the most urgent member category, the
// group priority is the member maximum. The max is not clamped to the
// category's nominal range; classification and urgency may disagree at
// range boundaries, and both are reported as-is.
func GroupMessages(msgs []CategorizedMessage) []EmailGroup {
	byKey := map[string][]CategorizedMessage{}
	order := []string{}
	for _, m := range msgs {
		key := groupKey(m.Msg)
		if _, seen := byKey[key]; !seen {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], m)
	}
	sort.Strings(order) // input-order independence

	groups := make([]EmailGroup, 0, len(order))
	for _, key := range order {
		members := byKey[key]
		sort.SliceStable(members, func(i, j int) bool {
			if !members[i].Msg.Date.Equal(members[j].Msg.Date) {
				return members[i].Msg.Date.Before(members[j].Msg.Date)
			}
			return members[i].Msg.ID < members[j].Msg.ID
		})

		g := EmailGroup{
			Key:      key,
			Label:    groupLabel(members),
			Messages: members,
		}
		for _, m := range members {
			if m.Cat.Category > g.Category {
				g.Category = m.Cat.Category
			}
			if m.Cat.Priority > g.Priority {
				g.Priority = m.Cat.Priority
			}
		}
		groups = append(groups, g)
	}

	sortGroups(groups)
	return groups
}

// sortGroups orders groups for the digest: priority descending, most
// recent message descending, key ascending as the final deterministic tie
// break.
func sortGroups(groups []EmailGroup) {
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Priority != groups[j].Priority {
			return groups[i].Priority > groups[j].Priority
		}
		di, dj := groups[i].LatestDate(), groups[j].LatestDate()
		if !di.Equal(dj) {
			return di.After(dj)
		}
		return groups[i].Key < groups[j].Key
	})
}

func groupKey(m RawMessage) string {
	if m.ThreadID != "" {
		return "thread:" + m.ThreadID
	}
	return "sender:" + normalizeAddr(m.SenderAddr, m.Sender) + "|" + NormalizeSubject(m.Subject)
}

func groupLabel(members []CategorizedMessage) string {
	first := members[0].Msg
	if len(members) > 1 {
		return "Thread: " + first.Subject
	}
	return first.Subject
}

func normalizeAddr(addr, sender string) string {
	if addr == "" {
		addr = ExtractAddr(sender)
	}
	return strings.ToLower(strings.TrimSpace(addr))
}

// NormalizeSubject lowercases a subject and strips stacked reply/forward
// prefixes, so "RE: Fwd: Budget" and "budget" key together.
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(strings.ToLower(subject))
	s = reReplyPrefix.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// ExtractAddr pulls the bare address out of a "Name <addr>" header value.
func ExtractAddr(from string) string {
	if open := strings.LastIndex(from, "<"); open >= 0 {
		if close := strings.LastIndex(from, ">"); close > open {
			return from[open+1 : close]
		}
	}
	return strings.TrimSpace(from)
}
