package config

import (
	"errors"
	"strings"
)

// Controls are the button labels that act as commands while a user is
// registered. They are matched verbatim against inbound text.
type Controls struct {
	End       string `yaml:"end"`
	Next      string `yaml:"next"`
	Positive  string `yaml:"positive"`
	Negative  string `yaml:"negative"`
	Complaint string `yaml:"complaint"`
}

// DefaultControls returns the stock button labels.
func DefaultControls() Controls {
	return Controls{
		End:       "✅ End chat",
		Next:      "🔄 New partner",
		Positive:  "👍",
		Negative:  "👎",
		Complaint: "🚨 Report",
	}
}

// ChatRows is the keyboard shown while paired.
func (c Controls) ChatRows() [][]string {
	return [][]string{{c.End}, {c.Next}}
}

// FeedbackRows is the keyboard shown after a conversation ends.
func (c Controls) FeedbackRows() [][]string {
	return [][]string{{c.Positive, c.Negative}, {c.Complaint}}
}

func (c *Controls) merge(o Controls) {
	setString(&c.End, o.End)
	setString(&c.Next, o.Next)
	setString(&c.Positive, o.Positive)
	setString(&c.Negative, o.Negative)
	setString(&c.Complaint, o.Complaint)
}

func (c Controls) validate() error {
	labels := []string{c.End, c.Next, c.Positive, c.Negative, c.Complaint}
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		if l == "" {
			return errors.New("controls: every control label must be set")
		}
		if seen[l] {
			return errors.New("controls: control labels must be distinct")
		}
		seen[l] = true
	}
	return nil
}

// Messages holds every user-facing text. Placeholders in braces are filled
// by Render; attribute keys (e.g. {gender}) are available wherever a profile
// is in scope.
type Messages struct {
	Blocked        string `yaml:"blocked"`
	NotSubscribed  string `yaml:"not_subscribed"` // {channel}
	InvalidAnswer  string `yaml:"invalid_answer"`
	Waiting        string `yaml:"waiting"`       // profile attributes
	PartnerFound   string `yaml:"partner_found"` // partner attributes
	PartnerLost    string `yaml:"partner_lost"`
	ChatEnded      string `yaml:"chat_ended"`
	PartnerEnded   string `yaml:"partner_ended"`
	Searching      string `yaml:"searching"`
	NotPaired      string `yaml:"not_paired"`
	NotRegistered  string `yaml:"not_registered"`
	DeliveryFailed string `yaml:"delivery_failed"`
	InvalidMessage string `yaml:"invalid_message"` // {reason}
	RateLimited    string `yaml:"rate_limited"`
	FeedbackThanks string `yaml:"feedback_thanks"`
	AutoBlocked    string `yaml:"auto_blocked"`
	AdminAutoBlock string `yaml:"admin_auto_block"` // {user} {count}
}

// DefaultMessages returns the stock English texts.
func DefaultMessages() Messages {
	return Messages{
		Blocked:        "🚫 You are blocked and cannot use this bot.",
		NotSubscribed:  "🔔 Please subscribe to {channel} to use this bot.",
		InvalidAnswer:  "Please pick one of the offered answers.",
		Waiting:        "You chose: {mode}. Waiting for a partner…",
		PartnerFound:   "Partner found! {gender}",
		PartnerLost:    "Your partner is no longer available. Still searching…",
		ChatEnded:      "Conversation ended. Leave feedback:",
		PartnerEnded:   "Your partner ended the conversation. Leave feedback:",
		Searching:      "Looking for a new partner…",
		NotPaired:      "You have no partner yet. Please wait…",
		NotRegistered:  "Send /start to begin.",
		DeliveryFailed: "Could not deliver the message to your partner.",
		InvalidMessage: "Message not sent: {reason}.",
		RateLimited:    "You are sending messages too fast. Please slow down.",
		FeedbackThanks: "Thanks for the feedback!",
		AutoBlocked:    "🚫 You have been blocked automatically because of too many complaints.",
		AdminAutoBlock: "⚠ User {user} was blocked automatically (complaints: {count}).",
	}
}

func (m *Messages) merge(o Messages) {
	setString(&m.Blocked, o.Blocked)
	setString(&m.NotSubscribed, o.NotSubscribed)
	setString(&m.InvalidAnswer, o.InvalidAnswer)
	setString(&m.Waiting, o.Waiting)
	setString(&m.PartnerFound, o.PartnerFound)
	setString(&m.PartnerLost, o.PartnerLost)
	setString(&m.ChatEnded, o.ChatEnded)
	setString(&m.PartnerEnded, o.PartnerEnded)
	setString(&m.Searching, o.Searching)
	setString(&m.NotPaired, o.NotPaired)
	setString(&m.NotRegistered, o.NotRegistered)
	setString(&m.DeliveryFailed, o.DeliveryFailed)
	setString(&m.InvalidMessage, o.InvalidMessage)
	setString(&m.RateLimited, o.RateLimited)
	setString(&m.FeedbackThanks, o.FeedbackThanks)
	setString(&m.AutoBlocked, o.AutoBlocked)
	setString(&m.AdminAutoBlock, o.AdminAutoBlock)
}

// Render substitutes {key} placeholders in tmpl. Unknown placeholders are
// left as they are.
func Render(tmpl string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(tmpl, "{") {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
