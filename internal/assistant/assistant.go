// Package assistant runs the conversation loop: every user message is
// persisted, answered in persona, mined for profile facts, and scanned
// for a search trigger that turns into an annotated product list.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quintal/alix/internal/analysis"
	"github.com/quintal/alix/internal/composer"
	"github.com/quintal/alix/internal/intent"
	"github.com/quintal/alix/internal/llm"
	"github.com/quintal/alix/internal/profile"
	"github.com/quintal/alix/internal/search"
	"github.com/quintal/alix/internal/storage"
)

const (
	replyMaxTokens   = 300
	replyTemperature = 0.8

	defaultResultCount = 4
)

// replyFallback keeps the conversation alive when the model is down.
const replyFallback = "Désolé, j'ai un petit souci technique... Pouvez-vous répéter ? 😅"

const noProductsWarning = "😔 Je n'ai pas trouvé de produits dans cette gamme de prix."

// welcomeMessage opens every new and reset conversation.
const welcomeMessage = `Salut ! 👋 Je suis Alex, votre conseiller d'achat personnel.

Je suis là pour vous aider à trouver exactement ce qu'il vous faut !

Dites-moi simplement ce que vous cherchez et parlons-en ensemble.
Par exemple : "Je cherche un aspirateur" ou "J'ai besoin d'un casque pour le télétravail"

Qu'est-ce que je peux vous aider à trouver aujourd'hui ? 😊`

// Metadata captures diagnostics about one exchange.
type Metadata struct {
	SearchTriggered bool  `json:"search_triggered"`
	CacheHit        bool  `json:"cache_hit,omitempty"`
	DurationMs      int64 `json:"duration_ms"`
	SearchMs        int64 `json:"search_ms,omitempty"`
}

// Response is what one user message produces.
type Response struct {
	SessionID string           `json:"session_id"`
	Reply     string           `json:"reply"`
	Search    *intent.Intent   `json:"search,omitempty"`
	Products  []search.Product `json:"products"`
	Warning   string           `json:"warning,omitempty"`
	Meta      Metadata         `json:"meta"`
}

// Chatter is the completion surface the Assistant needs.
// Implemented by llm.Client.
type Chatter interface {
	Chat(ctx context.Context, messages []llm.Message, maxTokens int, temperature float64) (string, error)
}

// Searcher runs product searches. Implemented by search.Searcher.
type Searcher interface {
	Search(ctx context.Context, query string, minPrice, maxPrice float64, n int) ([]search.Product, bool, error)
}

// Assistant orchestrates the conversation loop over its collaborators.
type Assistant struct {
	store    *storage.Store
	chatter  Chatter
	searcher Searcher
	composer *composer.Composer
	profiles *profile.Manager
	updater  *profile.Updater
	analyzer *analysis.Analyzer
	logger   *slog.Logger

	resultCount int
}

// New wires the conversation loop to its collaborators. resultCount
// caps how many products a triggered search returns (default 4 if <= 0).
func New(
	store *storage.Store,
	chatter Chatter,
	searcher Searcher,
	comp *composer.Composer,
	profiles *profile.Manager,
	updater *profile.Updater,
	analyzer *analysis.Analyzer,
	resultCount int,
) *Assistant {
	if resultCount <= 0 {
		resultCount = defaultResultCount
	}
	return &Assistant{
		store:       store,
		chatter:     chatter,
		searcher:    searcher,
		composer:    comp,
		profiles:    profiles,
		updater:     updater,
		analyzer:    analyzer,
		logger:      slog.Default(),
		resultCount: resultCount,
	}
}

// CreateSession opens a new conversation seeded with the welcome turn.
func (a *Assistant) CreateSession(title string) (storage.Session, error) {
	now := time.Now().UTC()
	sess := storage.Session{
		ID:        uuid.New().String(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateSession(sess); err != nil {
		return storage.Session{}, fmt.Errorf("creating session: %w", err)
	}
	if err := a.store.AppendTurn(newTurn(sess.ID, llm.RoleAssistant, welcomeMessage)); err != nil {
		return storage.Session{}, fmt.Errorf("appending welcome turn: %w", err)
	}
	return sess, nil
}

// ResetSession wipes a conversation back to the welcome turn. The
// collected profile goes with it.
func (a *Assistant) ResetSession(sessionID string) error {
	if err := a.store.ResetSession(sessionID); err != nil {
		return fmt.Errorf("resetting session: %w", err)
	}
	a.profiles.Forget(sessionID)
	if err := a.store.AppendTurn(newTurn(sessionID, llm.RoleAssistant, welcomeMessage)); err != nil {
		return fmt.Errorf("appending welcome turn: %w", err)
	}
	return nil
}

// DeleteSession removes a conversation entirely.
func (a *Assistant) DeleteSession(sessionID string) error {
	if err := a.store.DeleteSession(sessionID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	a.profiles.Forget(sessionID)
	return nil
}

// Respond handles one user message end to end:
//  1. Persist the user turn and clear the session's products flag
//  2. Compose the transcript from profile and recent history
//  3. Generate the reply (fixed fallback on failure)
//  4. Extract new profile facts from the user message and merge them
//  5. Persist the assistant turn
//  6. On a search trigger in the reply: search, rank, annotate, and
//     record a marker turn
//
// Model and search failures degrade the response; only storage
// failures surface as errors.
func (a *Assistant) Respond(ctx context.Context, sessionID, userMessage string) (resp Response, err error) {
	start := time.Now()
	defer func() {
		resp.Meta.DurationMs = time.Since(start).Milliseconds()
	}()

	resp.SessionID = sessionID
	resp.Products = []search.Product{}

	// 1. Persist the user turn; a fresh exchange may search again.
	prior, err := a.listHistory(sessionID)
	if err != nil {
		return resp, err
	}
	if err = a.store.AppendTurn(newTurn(sessionID, llm.RoleUser, userMessage)); err != nil {
		return resp, fmt.Errorf("appending user turn: %w", err)
	}
	if err = a.store.SetProductsShown(sessionID, false); err != nil {
		return resp, fmt.Errorf("clearing products flag: %w", err)
	}

	// 2. Compose from the profile as it stood before this message.
	known, err := a.profiles.Get(sessionID)
	if err != nil {
		a.logger.Warn("loading profile failed", "session", sessionID, "error", err)
		known = map[string]string{}
	}
	transcript := a.composer.Compose(prior, known, userMessage)

	// 3. Generate the reply.
	reply, chatErr := a.chatter.Chat(ctx, transcript, replyMaxTokens, replyTemperature)
	if chatErr != nil {
		a.logger.Warn("reply completion failed", "session", sessionID, "error", chatErr)
		reply = replyFallback
	}

	// 4. Mine the user message for new facts.
	updates := a.updater.Extract(ctx, userMessage, known)
	if len(updates) > 0 {
		if mergeErr := a.profiles.Merge(sessionID, updates); mergeErr != nil {
			a.logger.Warn("merging profile updates failed", "session", sessionID, "error", mergeErr)
		}
	}

	// 5. Persist the assistant turn.
	if err = a.store.AppendTurn(newTurn(sessionID, llm.RoleAssistant, reply)); err != nil {
		return resp, fmt.Errorf("appending assistant turn: %w", err)
	}
	resp.Reply = reply

	// 6. Scan the reply for a search trigger.
	in, ok := intent.Detect(reply)
	if !ok {
		return resp, nil
	}
	resp.Meta.SearchTriggered = true

	// Re-read the flag so two racing messages cannot double-search.
	sess, err := a.store.GetSession(sessionID)
	if err != nil {
		return resp, fmt.Errorf("loading session: %w", err)
	}
	if sess.ProductsShown {
		return resp, nil
	}
	if err = a.store.SetProductsShown(sessionID, true); err != nil {
		return resp, fmt.Errorf("setting products flag: %w", err)
	}
	resp.Search = &in

	searchStart := time.Now()
	products, cached, searchErr := a.searcher.Search(ctx, in.Query, in.MinPrice, in.MaxPrice, a.resultCount)
	resp.Meta.SearchMs = time.Since(searchStart).Milliseconds()
	resp.Meta.CacheHit = cached
	if searchErr != nil {
		a.logger.Warn("product search failed", "query", in.Query, "error", searchErr)
		resp.Warning = fmt.Sprintf("⚠️ Erreur recherche : %s", searchErr)
		return resp, nil
	}
	if len(products) == 0 {
		resp.Warning = noProductsWarning
		return resp, nil
	}

	// Annotate against the freshly merged profile.
	current, profErr := a.profiles.Get(sessionID)
	if profErr != nil {
		current = known
	}
	resp.Products = a.analyzer.Annotate(ctx, products, current)

	marker := fmt.Sprintf("Recherche effectuée pour '%s' - %d produits trouvés", in.Query, len(products))
	if err = a.store.AppendTurn(newTurn(sessionID, llm.RoleAssistant, marker)); err != nil {
		return resp, fmt.Errorf("appending search marker turn: %w", err)
	}
	return resp, nil
}

func (a *Assistant) listHistory(sessionID string) ([]llm.Message, error) {
	turns, err := a.store.ListTurns(sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing turns: %w", err)
	}
	history := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		history = append(history, llm.Message{Role: t.Role, Content: t.Content})
	}
	return history, nil
}

func newTurn(sessionID, role, content string) storage.Turn {
	return storage.Turn{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}
