package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func digestGroups(t *testing.T, msgs ...CategorizedMessage) []EmailGroup {
	t.Helper()
	return GroupMessages(msgs)
}

func TestBuildDigestOrdersAndCounts(t *testing.T) {
	groups := digestGroups(t,
		msg("m1", "t-low", "a@x", "Newsletter", 0, SummaryOnly, 2, "", false),
		msg("m2", "t-urgent", "b@x", "Server down", 30, ActionImmediately, 9, "", false),
		msg("m3", "t-mid", "c@x", "Invoice", 10, ActionEventually, 5, "", false),
		msg("m4", "t-urgent2", "d@x", "Also urgent", 5, ActionImmediately, 9, "", false),
	)

	d := BuildDigest("run-1", baseTime.Add(time.Hour), groups)

	require.Equal(t, 4, d.TotalGroups)
	assert.Equal(t, 4, d.TotalMsgs)
	assert.Equal(t, map[Category]int{
		ActionImmediately: 2,
		ActionEventually:  1,
		SummaryOnly:       1,
	}, d.Counts)

	// Priority descending; among equal priorities the fresher group wins.
	keys := make([]string, len(d.Groups))
	for i, g := range d.Groups {
		keys[i] = g.Key
	}
	assert.Equal(t, []string{"thread:t-urgent", "thread:t-urgent2", "thread:t-mid", "thread:t-low"}, keys)
}

func TestMarkdownDigestContent(t *testing.T) {
	groups := digestGroups(t,
		msg("m1", "t1", "boss@corp.example", "Budget approval", 0, ActionImmediately, 9, "On it, reply by EOD.", false),
		msg("m2", "t2", "news@list.example", "Weekly digest", 5, SummaryOnly, 1, "", false),
	)
	d := BuildDigest("run-md", baseTime, groups)

	out := Renderer{IncludeDrafts: true}.Markdown(d)

	assert.Contains(t, out, "# Email Digest Report")
	assert.Contains(t, out, "**Run:** run-md")
	assert.Contains(t, out, "- Action Immediately: 1")
	assert.Contains(t, out, "- Summary Only: 1")
	assert.Contains(t, out, "Budget approval")
	assert.Contains(t, out, "On it, reply by EOD.")
	// The urgent group renders before the newsletter.
	assert.Less(t, strings.Index(out, "Budget approval"), strings.Index(out, "Weekly digest"))
}

func TestEmptyDigestIsAllClearInBothProjections(t *testing.T) {
	d := BuildDigest("run-empty", baseTime, nil)
	r := Renderer{IncludeDrafts: true}

	md := r.Markdown(d)
	assert.Contains(t, md, "All clear")
	assert.NotContains(t, md, "## Summary")

	blocks := r.Blocks(d)
	require.NotEmpty(t, blocks)
	assert.Contains(t, blockText(t, blocks), "All clear")
}

func TestBlocksIncludeDraftOnlyWhenEligibleAndEnabled(t *testing.T) {
	eligible := msg("m1", "t1", "client@x", "Contract", 0, ActionImmediately, 8, "Signed copy attached.", false)
	summaryOnly := msg("m2", "t2", "news@x", "News", 1, SummaryOnly, 2, "should never render", false)

	d := BuildDigest("run-b", baseTime, digestGroups(t, eligible, summaryOnly))

	withDrafts := blockText(t, Renderer{IncludeDrafts: true}.Blocks(d))
	assert.Contains(t, withDrafts, "Draft reply (review before sending)")
	assert.Contains(t, withDrafts, "Signed copy attached.")
	assert.NotContains(t, withDrafts, "should never render")

	withoutDrafts := blockText(t, Renderer{IncludeDrafts: false}.Blocks(d))
	assert.NotContains(t, withoutDrafts, "Draft reply")
}

func TestRendererCapsEntriesPerCategory(t *testing.T) {
	var msgs []CategorizedMessage
	for i := 0; i < 5; i++ {
		msgs = append(msgs, msg("m"+string(rune('a'+i)), "t"+string(rune('a'+i)),
			"x@x", "subject", i, SummaryOnly, 2, "", false))
	}
	msgs = append(msgs, msg("urgent", "tu", "x@x", "urgent", 99, ActionImmediately, 9, "", false))

	d := BuildDigest("run-cap", baseTime, digestGroups(t, msgs...))
	r := Renderer{MaxPerCategory: 2}

	visible := r.visibleGroups(d)
	byCat := map[Category]int{}
	for _, g := range visible {
		byCat[g.Category]++
	}
	assert.Equal(t, 2, byCat[SummaryOnly])
	assert.Equal(t, 1, byCat[ActionImmediately])

	// Counts still reflect the full digest, not the rendered subset.
	assert.Equal(t, 5, d.Counts[SummaryOnly])
}

func TestProjectionsAgreeOnGroupOrder(t *testing.T) {
	groups := digestGroups(t,
		msg("m1", "t1", "a@x", "Outage postmortem", 0, ActionImmediately, 9, "", false),
		msg("m2", "t2", "b@x", "Lunch plans", 5, ActionEventually, 4, "", false),
		msg("m3", "t3", "c@x", "Release notes", 2, SummaryOnly, 2, "", false),
	)
	d := BuildDigest("run-agree", baseTime, groups)
	r := Renderer{}

	md := r.Markdown(d)
	blocks := blockText(t, r.Blocks(d))

	labels := []string{"Outage postmortem", "Lunch plans", "Release notes"}
	prevMD, prevBlocks := -1, -1
	for _, label := range labels {
		i := strings.Index(md, label)
		j := strings.Index(blocks, label)
		require.GreaterOrEqual(t, i, 0, "markdown missing %q", label)
		require.GreaterOrEqual(t, j, 0, "blocks missing %q", label)
		assert.Greater(t, i, prevMD)
		assert.Greater(t, j, prevBlocks)
		prevMD, prevBlocks = i, j
	}
}

func TestAlertProjectionsNameStageAndKind(t *testing.T) {
	f := &Failure{
		Stage:  StageGather,
		Kind:   KindTransient,
		Detail: "gmail list: 503 backend error",
	}
	r := Renderer{}
	now := baseTime

	md := r.AlertMarkdown(f, "run-a", now)
	assert.Contains(t, md, "# Pipeline Failed")
	assert.Contains(t, md, "GATHER_EMAILS")
	assert.Contains(t, md, string(KindTransient))
	assert.Contains(t, md, "503 backend error")

	text := blockText(t, r.AlertBlocks(f, "run-a", now))
	assert.Contains(t, text, "Pipeline Failed")
	assert.Contains(t, text, "GATHER_EMAILS")
	assert.Contains(t, text, string(KindTransient))
	assert.Contains(t, text, "run-a")
}

func TestAlertDetailIsTruncated(t *testing.T) {
	f := &Failure{
		Stage:  StageCategorize,
		Kind:   KindTransient,
		Detail: strings.Repeat("x", 2000),
	}
	r := Renderer{}

	md := r.AlertMarkdown(f, "run-t", baseTime)
	assert.NotContains(t, md, strings.Repeat("x", maxAlertChars+1))
	assert.Contains(t, md, "...")

	text := blockText(t, r.AlertBlocks(f, "run-t", baseTime))
	assert.NotContains(t, text, strings.Repeat("x", maxAlertChars+1))
}

// blockText flattens every text payload in the block list so tests can
// assert on content without caring about Block Kit structure.
func blockText(t *testing.T, blocks []Block) string {
	t.Helper()
	var sb strings.Builder
	var walk func(v any)
	walk = func(v any) {
		switch x := v.(type) {
		case string:
			sb.WriteString(x)
			sb.WriteString("\n")
		case map[string]any:
			for _, val := range x {
				walk(val)
			}
		case []map[string]any:
			for _, val := range x {
				walk(val)
			}
		case []any:
			for _, val := range x {
				walk(val)
			}
		}
	}
	for _, b := range blocks {
		walk(map[string]any(b))
	}
	return sb.String()
}
