package pipeline

import (
	"time"
)

// Category is the triage bucket assigned to a message by the AI model.
// Ordering matters: higher values are more urgent.
type Category int

const (
	SummaryOnly Category = iota
	ActionEventually
	ActionImmediately
)

var categoryNames = map[Category]string{
	SummaryOnly:       "Summary Only",
	ActionEventually:  "Action Eventually",
	ActionImmediately: "Action Immediately",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "Summary Only"
}

// ParseCategory maps the model's category label back to a Category.
func ParseCategory(s string) (Category, bool) {
	for c, name := range categoryNames {
		if name == s {
			return c, true
		}
	}
	return SummaryOnly, false
}

// RawMessage is one email as fetched from the mailbox. Immutable after
// the gather stage.
type RawMessage struct {
	ID         string
	ThreadID   string
	Sender     string // display form, e.g. "Jane Doe <jane@example.com>"
	SenderAddr string
	Recipient  string
	Subject    string
	Snippet    string
	Body       string // plain text, possibly truncated
	Date       time.Time
	Link       string
	FromOwner  bool // sender is the account owner
}

// Categorization is the AI verdict for one message.
type Categorization struct {
	Category   Category
	Priority   int // 1 (lowest) to 10 (highest)
	Summary    string
	Reasoning  string
	DraftReply string // non-empty only when the thread awaits the owner's reply
}

// CategorizedMessage pairs a raw message with its categorization.
// Immutable after the categorize stage.
type CategorizedMessage struct {
	Msg RawMessage
	Cat Categorization
}

// EmailGroup is a cluster of categorized messages sharing a thread or
// sender+subject identity. Messages are ordered by date ascending.
type EmailGroup struct {
	Key      string
	Label    string
	Messages []CategorizedMessage

	// Aggregates derived from the members. Priority is the member max and
	// is deliberately not clamped to Category's nominal range; the two may
	// disagree at range boundaries.
	Category Category
	Priority int
}

// Latest returns the most recent member.
func (g EmailGroup) Latest() CategorizedMessage {
	return g.Messages[len(g.Messages)-1]
}

// LatestDate returns the timestamp of the most recent member.
func (g EmailGroup) LatestDate() time.Time {
	return g.Latest().Msg.Date
}

// DraftEligible reports whether the group's digest entry may carry a
// suggested reply: the group is actionable, the latest message is not the
// owner's own, and that message has a draft attached.
func (g EmailGroup) DraftEligible() bool {
	latest := g.Latest()
	return g.Category != SummaryOnly &&
		!latest.Msg.FromOwner &&
		latest.Cat.DraftReply != ""
}

// Digest is the final ranked artifact of a successful run. Groups are
// sorted by priority descending, ties broken by latest date descending.
type Digest struct {
	RunID       string
	GeneratedAt time.Time
	TotalGroups int
	TotalMsgs   int
	Counts      map[Category]int // per aggregate category
	Groups      []EmailGroup
}

// Failure describes the stage error that aborted a run.
type Failure struct {
	Stage  Stage
	Kind   Kind
	Detail string
	Err    error
}

// runContext is the mutable state threaded through one run. Owned
// exclusively by the Runner and discarded at run end.
type runContext struct {
	stage       Stage
	raw         []RawMessage
	categorized []CategorizedMessage
	failedIDs   []string
	groups      []EmailGroup
	digest      *Digest
	markdown    string
	blocks      []Block
	failure     *Failure
	notified    bool
	errs        []string // non-fatal problems surfaced in the run result
}

// RunResult is the summary returned to the caller after a run.
type RunResult struct {
	Status      string
	RunID       string
	Gathered    int
	Categorized int
	FailedItems int
	Groups      int
	ByCategory  map[string]int
	Notified    bool
	ReportPath  string
	Errors      []string
}
