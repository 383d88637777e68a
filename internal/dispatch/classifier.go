package dispatch

import (
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/chatpilot/internal/bus"
)

// Trigger names why a message was accepted.
type Trigger string

const (
	TriggerNone         Trigger = ""
	TriggerWord         Trigger = "trigger_word"
	TriggerMention      Trigger = "mention"
	TriggerReply        Trigger = "reply"
	TriggerDirect       Trigger = "direct"
	TriggerGroup        Trigger = "group"
	TriggerConversation Trigger = "conversation"
)

// Classifier decides whether a message is addressed to the bot.
// It is immutable; rebuild it when trigger words change.
type Classifier struct {
	words   []string
	pattern *regexp.Regexp // nil when no trigger words are configured
}

// NewClassifier compiles trigger words into a case-insensitive whole-word matcher.
// Words are trimmed and lower-cased; blanks are dropped.
func NewClassifier(words []string) *Classifier {
	c := &Classifier{}
	var alts []string
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		c.words = append(c.words, w)
		alts = append(alts, regexp.QuoteMeta(w))
	}
	if len(alts) > 0 {
		// RE2's \b is ASCII-only; word characters here are any letter,
		// digit or underscore so "привет" and "café" match whole words.
		c.pattern = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])(?:` + strings.Join(alts, "|") + `)(?:$|[^\p{L}\p{N}_])`)
	}
	return c
}

// Words returns the normalized trigger words.
func (c *Classifier) Words() []string {
	return append([]string(nil), c.words...)
}

// MatchesTrigger reports whether text contains a trigger word on word boundaries.
func (c *Classifier) MatchesTrigger(text string) bool {
	return c.pattern != nil && c.pattern.MatchString(text)
}

// Classify evaluates msg without side effects. live is the conversation
// state read before this evaluation.
func (c *Classifier) Classify(msg bus.InboundMessage, s Settings, live bool) Trigger {
	switch {
	case c.MatchesTrigger(msg.Content):
		return TriggerWord
	case msg.MentionsSelf && !msg.MentionsEveryone:
		return TriggerMention
	case msg.ReplyToSelf:
		return TriggerReply
	case msg.ChatKind == bus.ChatDirect && s.AllowDM:
		return TriggerDirect
	case msg.ChatKind == bus.ChatGroup && s.AllowGroup:
		return TriggerGroup
	case live && s.HoldConversation:
		return TriggerConversation
	}
	return TriggerNone
}

// ShouldRespond classifies msg and, on acceptance, refreshes the
// conversation entry. The live check happens before the refresh so an
// expired conversation cannot revive itself.
func (c *Classifier) ShouldRespond(msg bus.InboundMessage, s Settings, tracker *ConversationTracker) (Trigger, bool) {
	sender, chat := msg.SenderKey(), msg.ChatKey()
	live := tracker.IsLive(sender, chat)

	t := c.Classify(msg, s, live)
	if t == TriggerNone {
		return TriggerNone, false
	}
	tracker.Touch(sender, chat)
	return t, true
}
