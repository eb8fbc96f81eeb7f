package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quintal/alix/internal/llm"
)

const (
	extractMaxTokens   = 100
	extractTemperature = 0.3
)

const extractionPrompt = `Message utilisateur : %q
Contexte actuel : %s

Extrait SEULEMENT les nouvelles informations concrètes du message utilisateur.
Retourne un JSON avec les clés pertinentes.

Exemples de clés : produit_cherche, budget, usage, taille_logement, animaux, sensibilite_bruit, priorites, contraintes, marque_preferee, etc.

Si aucune nouvelle info, retourne {}
Ne répète pas les infos déjà connues.`

// Chatter is the completion surface the Updater needs.
// Implemented by llm.Client.
type Chatter interface {
	Chat(ctx context.Context, messages []llm.Message, maxTokens int, temperature float64) (string, error)
}

// Updater pulls new shopper facts out of each user message.
type Updater struct {
	chatter Chatter
	logger  *slog.Logger
}

func NewUpdater(chatter Chatter) *Updater {
	return &Updater{chatter: chatter, logger: slog.Default()}
}

// Extract asks the model which new facts the user message carries,
// given what is already known. Failures and unparseable replies yield
// an empty map: a bad extraction never blocks the conversation.
func (u *Updater) Extract(ctx context.Context, userMessage string, known map[string]string) map[string]any {
	knownJSON := "{}"
	if len(known) > 0 {
		if b, err := json.Marshal(known); err == nil {
			knownJSON = string(b)
		}
	}
	prompt := fmt.Sprintf(extractionPrompt, userMessage, knownJSON)

	resp, err := u.chatter.Chat(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}, extractMaxTokens, extractTemperature)
	if err != nil {
		u.logger.Warn("profile extraction failed", "error", err)
		return map[string]any{}
	}

	updates, err := parseUpdates(resp)
	if err != nil {
		u.logger.Warn("profile extraction returned malformed JSON", "error", err)
		return map[string]any{}
	}
	return updates
}

// parseUpdates extracts a JSON object of profile facts from an LLM
// response. Models frequently wrap JSON in markdown code fences or
// prepend conversational filler, so the parser strips fences and
// extracts by brace position before unmarshalling.
func parseUpdates(resp string) (map[string]any, error) {
	s := strings.TrimSpace(resp)

	// Strip markdown code fences.
	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		if strings.HasPrefix(s, "json") {
			s = s[4:]
		}
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	// Extract JSON object by brace position.
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var updates map[string]any
	if err := json.Unmarshal([]byte(s[start:end+1]), &updates); err != nil {
		return nil, fmt.Errorf("unmarshal updates: %w", err)
	}
	return updates, nil
}
