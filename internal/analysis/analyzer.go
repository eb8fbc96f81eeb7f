// Package analysis produces short conversational verdicts on search
// results, personalized to the shopper's collected profile.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/quintal/alix/internal/llm"
	"github.com/quintal/alix/internal/search"
)

const (
	defaultConcurrency = 4

	analysisMaxTokens   = 120
	analysisTemperature = 0.8
)

// analysisFallback stands in when the model cannot be reached; the
// product still renders, unanalyzed.
const analysisFallback = "Analyse en cours..."

const analysisPrompt = `Tu es Alex, conseiller en achat. Présente ce produit à ton client en restant conversationnel :

PRODUIT : %s
Prix : %s | Note : %v/5 | Avis : %d
Description : %s

PROFIL CLIENT : %s

Donne ton avis en 2-3 phrases comme si tu parlais à un ami :
- Pourquoi ça match avec ses besoins (ou pas)
- Un point fort technique vulgarisé
- Ton conseil final (je recommande / correct mais / à éviter)

Reste naturel et direct, pas commercial.`

// Chatter is the completion surface the Analyzer needs.
// Implemented by llm.Client.
type Chatter interface {
	Chat(ctx context.Context, messages []llm.Message, maxTokens int, temperature float64) (string, error)
}

// Analyzer annotates products with advisor commentary.
type Analyzer struct {
	chatter     Chatter
	concurrency int
	logger      *slog.Logger
}

func NewAnalyzer(chatter Chatter) *Analyzer {
	return &Analyzer{
		chatter:     chatter,
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
	}
}

// Annotate fills the Analysis field of every product. Completions run
// concurrently with bounded parallelism; a failed completion degrades
// that product to a placeholder instead of failing the batch.
func (a *Analyzer) Annotate(ctx context.Context, products []search.Product, profile map[string]string) []search.Product {
	if len(products) == 0 {
		return products
	}

	annotated := make([]search.Product, len(products))
	copy(annotated, products)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for i := range annotated {
		i := i
		g.Go(func() error {
			annotated[i].Analysis = a.analyzeOne(gCtx, annotated[i], profile)
			return nil
		})
	}

	// Per-product failures degrade to the placeholder; Wait never errors.
	_ = g.Wait()
	return annotated
}

func (a *Analyzer) analyzeOne(ctx context.Context, p search.Product, profile map[string]string) string {
	prompt := buildAnalysisPrompt(p, profile)
	reply, err := a.chatter.Chat(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: prompt},
	}, analysisMaxTokens, analysisTemperature)
	if err != nil {
		a.logger.Warn("product analysis failed", "product", p.Title, "error", err)
		return analysisFallback
	}
	return reply
}

func buildAnalysisPrompt(p search.Product, profile map[string]string) string {
	profileJSON := "{}"
	if len(profile) > 0 {
		if b, err := json.Marshal(profile); err == nil {
			profileJSON = string(b)
		}
	}
	return fmt.Sprintf(analysisPrompt, p.Title, p.PriceLabel, p.Rating, p.ReviewsCount, p.Description, profileJSON)
}
