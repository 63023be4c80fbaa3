// Package correlate maps loosely structured expert replies back to the user
// identifier that originated the conversation. Extraction is a prioritized
// chain of strategies; the first one that produces a non-empty body wins.
package correlate

import (
	"fmt"
	"regexp"
	"strings"
)

// Match is a successful correlation: the user the reply belongs to and the
// reply body with any addressing syntax stripped.
type Match struct {
	UserID string
	Body   string
}

// Input is one inbound expert message. ReplyToText carries the quoted text
// of the message being replied to when the platform echoes it back.
type Input struct {
	Text        string
	ReplyToText string
}

type strategy func(in Input) (Match, bool)

// Correlator holds the compiled pattern chain. Known and KnownUsers are
// consulted by the low-precision strategies so they cannot hijack ordinary
// marker-free expert chatter.
type Correlator struct {
	marker       string
	labeledColon *regexp.Regexp
	labeledLoose *regexp.Regexp
	markerOnly   *regexp.Regexp
	barePrefix   *regexp.Regexp
	known        func(userID string) bool
	knownUsers   func() []string
	substring    bool
	chain        []strategy
}

type Options struct {
	// Marker is the literal keyword preceding the identifier, matched
	// case-insensitively (identifiers stay case-sensitive).
	Marker string
	// Known reports whether a conversation exists for the identifier.
	Known func(userID string) bool
	// KnownUsers lists all identifiers with a conversation.
	KnownUsers func() []string
	// SubstringFallback enables the lossy known-identifier substring scan.
	SubstringFallback bool
}

func New(opts Options) *Correlator {
	marker := regexp.QuoteMeta(opts.Marker)
	c := &Correlator{
		marker: opts.Marker,
		// (?is): marker case-insensitive, body spans newlines.
		labeledColon: regexp.MustCompile(fmt.Sprintf(`(?is)%s\s+([A-Za-z0-9_]+)\s*:\s*(.+)`, marker)),
		labeledLoose: regexp.MustCompile(fmt.Sprintf(`(?is)%s\s+([A-Za-z0-9_]+)\s+(.+)`, marker)),
		markerOnly:   regexp.MustCompile(fmt.Sprintf(`(?i)%s\s+([A-Za-z0-9_]+)`, marker)),
		barePrefix:   regexp.MustCompile(`(?s)^([A-Za-z0-9_]+)[\s:]+(.+)`),
		known:        opts.Known,
		knownUsers:   opts.KnownUsers,
		substring:    opts.SubstringFallback,
	}
	c.chain = []strategy{
		c.replyContext,
		c.labeledColonStrategy,
		c.labeledLooseStrategy,
		c.barePrefixStrategy,
		c.knownSubstring,
	}
	return c
}

// Correlate runs the strategy chain over one inbound text message. A false
// return is the normal "not a reply" outcome, not an error.
func (c *Correlator) Correlate(in Input) (Match, bool) {
	for _, s := range c.chain {
		if m, ok := s(in); ok {
			return m, true
		}
	}
	return Match{}, false
}

// CorrelateMedia resolves the user for an expert media message, which has no
// inline text to parse: only the reply context can identify the user.
func (c *Correlator) CorrelateMedia(replyToText string) (string, bool) {
	return c.markerID(replyToText)
}

// replyContext re-extracts the identifier from the quoted outbound text and
// treats the entire inbound body as the reply.
func (c *Correlator) replyContext(in Input) (Match, bool) {
	if in.ReplyToText == "" {
		return Match{}, false
	}
	userID, ok := c.markerID(in.ReplyToText)
	if !ok {
		return Match{}, false
	}
	body := strings.TrimSpace(in.Text)
	if body == "" {
		return Match{}, false
	}
	return Match{UserID: userID, Body: body}, true
}

// labeledColonStrategy is the primary rule: MARKER, identifier, colon, body.
func (c *Correlator) labeledColonStrategy(in Input) (Match, bool) {
	return c.applyLabeled(c.labeledColon, in.Text)
}

// labeledLooseStrategy accepts whitespace instead of a colon. Looser: it can
// misfire on bodies that start right after the identifier, so it runs only
// after the colon form failed.
func (c *Correlator) labeledLooseStrategy(in Input) (Match, bool) {
	return c.applyLabeled(c.labeledLoose, in.Text)
}

func (c *Correlator) applyLabeled(re *regexp.Regexp, text string) (Match, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return Match{}, false
	}
	body := strings.TrimSpace(m[2])
	if body == "" {
		return Match{}, false
	}
	return Match{UserID: m[1], Body: body}, true
}

// barePrefixStrategy matches a message that simply starts with an identifier
// token. Attributed only to an already-known conversation.
func (c *Correlator) barePrefixStrategy(in Input) (Match, bool) {
	m := c.barePrefix.FindStringSubmatch(in.Text)
	if m == nil {
		return Match{}, false
	}
	if c.known == nil || !c.known(m[1]) {
		return Match{}, false
	}
	body := strings.TrimSpace(m[2])
	if body == "" {
		return Match{}, false
	}
	return Match{UserID: m[1], Body: body}, true
}

// knownSubstring scans every known identifier for a substring hit. Last
// resort, trades precision for recall; never matches an empty remainder.
func (c *Correlator) knownSubstring(in Input) (Match, bool) {
	if !c.substring || c.knownUsers == nil {
		return Match{}, false
	}
	for _, id := range c.knownUsers() {
		if id == "" || !strings.Contains(in.Text, id) {
			continue
		}
		body := strings.TrimSpace(strings.Replace(in.Text, id, "", 1))
		if body == "" {
			continue
		}
		return Match{UserID: id, Body: body}, true
	}
	return Match{}, false
}

// markerID extracts just the identifier from text using the marker rules.
// The identifier-only form covers quoted outbound media whose caption was
// nothing but the tag line.
func (c *Correlator) markerID(text string) (string, bool) {
	if m := c.labeledColon.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	if m := c.labeledLoose.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	if m := c.markerOnly.FindStringSubmatch(text); m != nil {
		return m[1], true
	}
	return "", false
}
