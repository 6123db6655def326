package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// Block is one Slack Block Kit element, marshaled as-is.
type Block map[string]any

// BuildDigest assembles the digest from already-grouped messages. Groups
// come out sorted by priority descending, latest message descending.
func BuildDigest(runID string, now time.Time, groups []EmailGroup) *Digest {
	sorted := make([]EmailGroup, len(groups))
	copy(sorted, groups)
	sortGroups(sorted)

	counts := map[Category]int{}
	total := 0
	for _, g := range sorted {
		counts[g.Category]++
		total += len(g.Messages)
	}

	return &Digest{
		RunID:       runID,
		GeneratedAt: now.UTC(),
		TotalGroups: len(sorted),
		TotalMsgs:   total,
		Counts:      counts,
		Groups:      sorted,
	}
}

// Renderer turns one digest (or one failure) into its two projections:
// a markdown document for archival and Slack Block Kit blocks for
// delivery. Both are derived from the same Digest value so they cannot
// disagree.
type Renderer struct {
	IncludeDrafts  bool
	MaxPerCategory int // cap on rendered entries per aggregate category, 0 = unlimited
}

const (
	maxBlockText  = 3000
	maxAlertChars = 500
)

// Markdown renders the archival document.
func (r Renderer) Markdown(d *Digest) string {
	var sb strings.Builder
	sb.WriteString("# Email Digest Report\n")
	fmt.Fprintf(&sb, "**Generated:** %s\n", d.GeneratedAt.Format("2006-01-02 15:04 UTC"))
	fmt.Fprintf(&sb, "**Run:** %s\n\n", d.RunID)

	if d.TotalGroups == 0 {
		sb.WriteString("All clear — no messages required review.\n")
		return sb.String()
	}

	fmt.Fprintf(&sb, "**Total:** %d messages in %d groups\n\n", d.TotalMsgs, d.TotalGroups)
	sb.WriteString("## Summary\n")
	fmt.Fprintf(&sb, "- Action Immediately: %d\n", d.Counts[ActionImmediately])
	fmt.Fprintf(&sb, "- Action Eventually: %d\n", d.Counts[ActionEventually])
	fmt.Fprintf(&sb, "- Summary Only: %d\n\n---\n\n", d.Counts[SummaryOnly])

	for _, g := range r.visibleGroups(d) {
		latest := g.Latest()
		if g.Latest().Msg.Link != "" {
			fmt.Fprintf(&sb, "### [%s](%s)\n", g.Label, latest.Msg.Link)
		} else {
			fmt.Fprintf(&sb, "### %s\n", g.Label)
		}
		fmt.Fprintf(&sb, "- **From:** %s\n", latest.Msg.Sender)
		fmt.Fprintf(&sb, "- **Date:** %s\n", latest.Msg.Date.UTC().Format("2006-01-02 15:04"))
		fmt.Fprintf(&sb, "- **Category:** %s\n", g.Category)
		fmt.Fprintf(&sb, "- **Priority:** %d/10\n", g.Priority)
		fmt.Fprintf(&sb, "- **Summary:** %s\n", latest.Cat.Summary)
		if len(g.Messages) > 1 {
			fmt.Fprintf(&sb, "- **Messages:** %d\n", len(g.Messages))
		}
		if r.IncludeDrafts && g.DraftEligible() {
			sb.WriteString("- **Suggested Reply (draft — review before sending):**\n")
			fmt.Fprintf(&sb, "  > %s\n", strings.ReplaceAll(latest.Cat.DraftReply, "\n", "\n  > "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Blocks renders the Slack delivery payload.
func (r Renderer) Blocks(d *Digest) []Block {
	blocks := []Block{
		headerBlock("Email Digest"),
		contextBlock(fmt.Sprintf("*%d messages in %d groups* | Generated %s",
			d.TotalMsgs, d.TotalGroups, d.GeneratedAt.Format("2006-01-02 15:04 UTC"))),
		dividerBlock(),
	}

	if d.TotalGroups == 0 {
		return append(blocks, sectionBlock(":white_check_mark: All clear — no messages required review."))
	}

	blocks = append(blocks, sectionBlock(fmt.Sprintf(
		"*Action Immediately:* %d | *Action Eventually:* %d | *Summary Only:* %d",
		d.Counts[ActionImmediately], d.Counts[ActionEventually], d.Counts[SummaryOnly])))
	blocks = append(blocks, dividerBlock())

	for _, g := range r.visibleGroups(d) {
		latest := g.Latest()
		subject := truncate(g.Label, 80)
		title := subject
		if latest.Msg.Link != "" {
			title = fmt.Sprintf("<%s|%s>", latest.Msg.Link, subject)
		}
		text := fmt.Sprintf("%s *%s*\nFrom: %s | %s | Priority: %d/10\n%s",
			priorityIndicator(g.Priority), title, latest.Msg.Sender,
			g.Category, g.Priority, latest.Cat.Summary)
		if len(g.Messages) > 1 {
			text += fmt.Sprintf(" _(%d messages)_", len(g.Messages))
		}
		blocks = append(blocks, sectionBlock(truncate(text, maxBlockText)))

		if r.IncludeDrafts && g.DraftEligible() {
			blocks = append(blocks, contextBlock(fmt.Sprintf(
				"*Draft reply (review before sending):* _%s_",
				truncate(latest.Cat.DraftReply, 200))))
		}
	}
	return blocks
}

// visibleGroups applies the per-category rendering cap, preserving the
// digest's global order.
func (r Renderer) visibleGroups(d *Digest) []EmailGroup {
	if r.MaxPerCategory <= 0 {
		return d.Groups
	}
	shown := map[Category]int{}
	var out []EmailGroup
	for _, g := range d.Groups {
		if shown[g.Category] >= r.MaxPerCategory {
			continue
		}
		shown[g.Category]++
		out = append(out, g)
	}
	return out
}

// AlertMarkdown renders the failure alert's archival form.
func (r Renderer) AlertMarkdown(f *Failure, runID string, now time.Time) string {
	var sb strings.Builder
	sb.WriteString("# Pipeline Failed\n")
	fmt.Fprintf(&sb, "- **Failed Stage:** %s\n", f.Stage)
	fmt.Fprintf(&sb, "- **Error Kind:** %s\n", f.Kind)
	fmt.Fprintf(&sb, "- **Time:** %s\n", now.UTC().Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(&sb, "- **Run:** %s\n\n", runID)
	fmt.Fprintf(&sb, "```\n%s\n```\n", truncate(f.Detail, maxAlertChars))
	return sb.String()
}

// AlertBlocks renders the failure alert's delivery form. It names the
// failed stage and carries a truncated error detail; no digest content.
func (r Renderer) AlertBlocks(f *Failure, runID string, now time.Time) []Block {
	return []Block{
		headerBlock(":rotating_light: Email Digest — Pipeline Failed"),
		dividerBlock(),
		{
			"type": "section",
			"fields": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("*Failed Stage:*\n`%s`", f.Stage)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Error Kind:*\n`%s`", f.Kind)},
				{"type": "mrkdwn", "text": "*Time:*\n" + now.UTC().Format("2006-01-02 15:04:05 UTC")},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Run:*\n`%s`", runID)},
			},
		},
		sectionBlock(fmt.Sprintf("*Error:*\n```%s```", truncate(f.Detail, maxAlertChars))),
	}
}

func headerBlock(text string) Block {
	return Block{
		"type": "header",
		"text": map[string]any{"type": "plain_text", "text": text, "emoji": true},
	}
}

func sectionBlock(text string) Block {
	return Block{
		"type": "section",
		"text": map[string]any{"type": "mrkdwn", "text": text},
	}
}

func contextBlock(text string) Block {
	return Block{
		"type": "context",
		"elements": []map[string]any{
			{"type": "mrkdwn", "text": text},
		},
	}
}

func dividerBlock() Block {
	return Block{"type": "divider"}
}

func priorityIndicator(priority int) string {
	switch {
	case priority >= 8:
		return ":red_circle:"
	case priority >= 5:
		return ":large_orange_circle:"
	default:
		return ":white_circle:"
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
