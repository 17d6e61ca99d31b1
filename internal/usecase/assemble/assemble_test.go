package assemble

import (
	"strings"
	"testing"

	"github.com/kailas-cloud/raglet/internal/domain"
)

// wordCounter counts whitespace-separated words so test budgets are easy
// to reason about.
type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

func docOfTokens(id string, n int) domain.Document {
	words := make([]string, n)
	for i := range words {
		words[i] = id
	}
	return domain.Document{ID: id, Content: strings.Join(words, " ")}
}

func TestAssemble_Empty(t *testing.T) {
	a := New(wordCounter{}, 100, "\n\n")

	text, included := a.Assemble(nil)
	if text != "" || included != nil {
		t.Errorf("expected empty output, got %q / %v", text, included)
	}
}

// Budget 100, separator 2 tokens, documents of 40/40/40 tokens: the first
// two fit (40+2+40=82), the third would reach 124 and is excluded.
func TestAssemble_BudgetCutoff(t *testing.T) {
	sep := "x y" // two tokens
	a := New(wordCounter{}, 100, sep)

	docs := domain.RankedList{
		docOfTokens("a", 40),
		docOfTokens("b", 40),
		docOfTokens("c", 40),
	}

	text, included := a.Assemble(docs)

	if len(included) != 2 {
		t.Fatalf("expected 2 included documents, got %d", len(included))
	}
	if included[0].ID != "a" || included[1].ID != "b" {
		t.Errorf("unexpected inclusion order: %v, %v", included[0].ID, included[1].ID)
	}
	if got := (wordCounter{}).Count(text); got > 100 {
		t.Errorf("assembled context exceeds budget: %d tokens", got)
	}
	if !strings.Contains(text, sep) {
		t.Error("expected separator between documents")
	}
}

// The included set must be a prefix of the input: once a document is
// rejected, later documents stay excluded even if they would fit.
func TestAssemble_PrefixProperty(t *testing.T) {
	a := New(wordCounter{}, 10, " ")

	docs := domain.RankedList{
		docOfTokens("a", 6),
		docOfTokens("b", 8), // overflows
		docOfTokens("c", 1), // would fit, must still be excluded
	}

	_, included := a.Assemble(docs)

	if len(included) != 1 || included[0].ID != "a" {
		t.Fatalf("expected prefix {a}, got %v", included)
	}
}

func TestAssemble_SingleOversizedDocument(t *testing.T) {
	a := New(wordCounter{}, 10, " ")

	text, included := a.Assemble(domain.RankedList{docOfTokens("big", 50)})
	if text != "" || len(included) != 0 {
		t.Errorf("expected nothing included, got %q / %v", text, included)
	}
}

func TestAssemble_NoSeparatorCostBeforeFirst(t *testing.T) {
	// Budget exactly fits one document; separator cost must not be
	// charged before the first item.
	a := New(wordCounter{}, 5, "x y")

	text, included := a.Assemble(domain.RankedList{docOfTokens("a", 5)})
	if len(included) != 1 {
		t.Fatalf("expected the document to fit exactly, got %v", included)
	}
	if text != included[0].Content {
		t.Errorf("unexpected text: %q", text)
	}
}

func TestAssemble_AllFit(t *testing.T) {
	a := New(wordCounter{}, 1000, "\n")

	docs := domain.RankedList{
		docOfTokens("a", 10),
		docOfTokens("b", 10),
		docOfTokens("c", 10),
	}

	_, included := a.Assemble(docs)
	if len(included) != 3 {
		t.Errorf("expected all documents included, got %d", len(included))
	}
}
