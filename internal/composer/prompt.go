// Package composer assembles the transcripts sent to the completion
// backend: the advisor persona and the collected shopper profile form
// the system message, followed by the recent conversation.
package composer

import (
	"encoding/json"

	"github.com/quintal/alix/internal/llm"
)

const defaultHistoryWindow = 8

// Composer builds per-turn chat transcripts.
type Composer struct {
	historyWindow int
}

// New returns a Composer that keeps the last historyWindow turns of
// conversation in each transcript. Values <= 0 fall back to the
// default window.
func New(historyWindow int) *Composer {
	if historyWindow <= 0 {
		historyWindow = defaultHistoryWindow
	}
	return &Composer{historyWindow: historyWindow}
}

// Compose builds the transcript for one conversational reply: the
// system message, the tail of the history, then the new user message.
// History beyond the window is dropped, not summarized.
func (c *Composer) Compose(history []llm.Message, profile map[string]string, userMessage string) []llm.Message {
	if len(history) > c.historyWindow {
		history = history[len(history)-c.historyWindow:]
	}

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: c.systemPrompt(profile)})
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: userMessage})
	return msgs
}

func (c *Composer) systemPrompt(profile map[string]string) string {
	return personaPrompt + "\n\n" +
		"INFORMATIONS COLLECTÉES SUR L'UTILISATEUR :\n" + ProfileJSON(profile) + "\n\n" +
		specialInstructions
}

// ProfileJSON renders the collected profile as indented JSON with
// deterministic key order. Empty and nil profiles render as {}.
func ProfileJSON(profile map[string]string) string {
	if len(profile) == 0 {
		return "{}"
	}
	b, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}
