package analysis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quintal/alix/internal/llm"
	"github.com/quintal/alix/internal/search"
)

type mockChatter struct {
	mu            sync.Mutex
	prompts       []string
	lastMaxTokens int
	lastTemp      float64

	replyFn func(prompt string) (string, error)

	inFlight    int
	maxInFlight int
	delay       time.Duration
}

func (m *mockChatter) Chat(_ context.Context, messages []llm.Message, maxTokens int, temperature float64) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, messages[0].Content)
	m.lastMaxTokens = maxTokens
	m.lastTemp = temperature
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	m.mu.Unlock()

	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	m.inFlight--
	m.mu.Unlock()

	if m.replyFn != nil {
		return m.replyFn(messages[0].Content)
	}
	return "Franchement, bon choix.", nil
}

func sampleProducts() []search.Product {
	return []search.Product{
		{Title: "Casque Alpha", PriceLabel: "$49.99", Rating: 4.5, ReviewsCount: 1200, Description: "Réduction de bruit active"},
		{Title: "Casque Beta", PriceLabel: "$79.00", Rating: 4.2, ReviewsCount: 800, Description: "Confortable et léger"},
		{Title: "Casque Gamma", PriceLabel: "Prix non disponible", Rating: 0, ReviewsCount: 0, Description: "Description non disponible"},
	}
}

func TestAnnotate_FillsEveryProduct(t *testing.T) {
	chatter := &mockChatter{
		replyFn: func(prompt string) (string, error) {
			switch {
			case strings.Contains(prompt, "Casque Alpha"):
				return "Avis Alpha", nil
			case strings.Contains(prompt, "Casque Beta"):
				return "Avis Beta", nil
			default:
				return "Avis Gamma", nil
			}
		},
	}
	a := NewAnalyzer(chatter)

	got := a.Annotate(context.Background(), sampleProducts(), map[string]string{"usage": "télétravail"})

	if len(got) != 3 {
		t.Fatalf("expected 3 products, got %d", len(got))
	}
	wantAnalyses := []string{"Avis Alpha", "Avis Beta", "Avis Gamma"}
	for i, want := range wantAnalyses {
		if got[i].Analysis != want {
			t.Errorf("product %d analysis = %q, want %q", i, got[i].Analysis, want)
		}
	}

	if chatter.lastMaxTokens != 120 {
		t.Errorf("maxTokens = %d, want 120", chatter.lastMaxTokens)
	}
	if chatter.lastTemp != 0.8 {
		t.Errorf("temperature = %v, want 0.8", chatter.lastTemp)
	}
}

func TestAnnotate_PromptContents(t *testing.T) {
	chatter := &mockChatter{}
	a := NewAnalyzer(chatter)

	a.Annotate(context.Background(), sampleProducts()[:1], map[string]string{"animaux": "un chat"})

	if len(chatter.prompts) != 1 {
		t.Fatalf("expected 1 completion, got %d", len(chatter.prompts))
	}
	prompt := chatter.prompts[0]
	for _, want := range []string{
		"PRODUIT : Casque Alpha",
		"Prix : $49.99 | Note : 4.5/5 | Avis : 1200",
		"Description : Réduction de bruit active",
		`PROFIL CLIENT : {"animaux":"un chat"}`,
		"Reste naturel et direct, pas commercial.",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestAnnotate_EmptyProfileRendersBraces(t *testing.T) {
	chatter := &mockChatter{}
	a := NewAnalyzer(chatter)

	a.Annotate(context.Background(), sampleProducts()[:1], nil)

	if !strings.Contains(chatter.prompts[0], "PROFIL CLIENT : {}") {
		t.Error("nil profile should render as {}")
	}
}

func TestAnnotate_FailureDegradesToPlaceholder(t *testing.T) {
	chatter := &mockChatter{
		replyFn: func(prompt string) (string, error) {
			if strings.Contains(prompt, "Casque Beta") {
				return "", errors.New("upstream timeout")
			}
			return "Avis", nil
		},
	}
	a := NewAnalyzer(chatter)

	got := a.Annotate(context.Background(), sampleProducts(), nil)

	if got[1].Analysis != "Analyse en cours..." {
		t.Errorf("failed product analysis = %q, want placeholder", got[1].Analysis)
	}
	if got[0].Analysis != "Avis" || got[2].Analysis != "Avis" {
		t.Error("other products should still be analyzed")
	}
}

func TestAnnotate_Empty(t *testing.T) {
	chatter := &mockChatter{}
	a := NewAnalyzer(chatter)

	got := a.Annotate(context.Background(), nil, nil)
	if len(got) != 0 {
		t.Errorf("expected no products, got %d", len(got))
	}
	if len(chatter.prompts) != 0 {
		t.Errorf("expected no completions, got %d", len(chatter.prompts))
	}
}

func TestAnnotate_BoundedConcurrency(t *testing.T) {
	chatter := &mockChatter{delay: 10 * time.Millisecond}
	a := NewAnalyzer(chatter)

	products := make([]search.Product, 12)
	for i := range products {
		products[i] = search.Product{Title: "P", PriceLabel: "$1.00"}
	}

	got := a.Annotate(context.Background(), products, nil)

	if len(chatter.prompts) != 12 {
		t.Fatalf("expected 12 completions, got %d", len(chatter.prompts))
	}
	if chatter.maxInFlight > defaultConcurrency {
		t.Errorf("max in-flight completions = %d, want <= %d", chatter.maxInFlight, defaultConcurrency)
	}
	for i := range got {
		if got[i].Analysis == "" {
			t.Errorf("product %d left unanalyzed", i)
		}
	}
}

func TestAnnotate_DoesNotMutateInput(t *testing.T) {
	chatter := &mockChatter{}
	a := NewAnalyzer(chatter)

	products := sampleProducts()
	a.Annotate(context.Background(), products, nil)

	for i := range products {
		if products[i].Analysis != "" {
			t.Errorf("input product %d was mutated", i)
		}
	}
}
