// Package menu classifies inbound text into the fixed keyword menu and picks the reply.
//
// The router keeps no conversation state: the decision depends on the message text alone.
package menu

import "strings"

// Command identifies which menu entry a message matched.
type Command string

const (
	CommandNone     Command = "none"
	CommandGreeting Command = "greeting"
	CommandPlans    Command = "option_1"
	CommandProducts Command = "option_2"
	CommandSlots    Command = "option_3"
	CommandHandoff  Command = "option_4"
	CommandSchedule Command = "schedule"
)

const schedulePhrase = "quero agendar"

var greetingKeywords = map[string]struct{}{
	"oi":      {},
	"olá":     {},
	"menu":    {},
	"iniciar": {},
	"ajuda":   {},
}

// Decision is the router output. An empty Reply means nothing is sent back.
type Decision struct {
	Command Command
	Reply   string
}

// HasReply reports whether the decision carries an outbound text.
func (d Decision) HasReply() bool {
	return d.Reply != ""
}

// Router maps message text to a Decision using an immutable catalog.
type Router struct {
	catalog Catalog
}

// NewRouter builds a router answering with catalog.
func NewRouter(catalog Catalog) *Router {
	return &Router{catalog: catalog}
}

// Normalize lower-cases and trims text the way the router compares it.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Route classifies text. Greeting keywords win over numeric options, which win over the
// scheduling phrase.
func (r *Router) Route(text string) Decision {
	normalized := Normalize(text)

	if _, ok := greetingKeywords[normalized]; ok {
		return Decision{Command: CommandGreeting, Reply: r.catalog.Greeting}
	}

	switch normalized {
	case "1":
		return Decision{Command: CommandPlans, Reply: r.catalog.Plans}
	case "2":
		return Decision{Command: CommandProducts, Reply: r.catalog.Products}
	case "3":
		return Decision{Command: CommandSlots, Reply: r.catalog.Evaluation}
	case "4":
		return Decision{Command: CommandHandoff, Reply: r.catalog.Attendant}
	}

	if strings.Contains(normalized, schedulePhrase) {
		return Decision{Command: CommandSchedule, Reply: r.catalog.ScheduleConfirmation}
	}

	return Decision{Command: CommandNone}
}
