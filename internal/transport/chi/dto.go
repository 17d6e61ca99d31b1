package chi

import (
	"errors"
	"fmt"

	"github.com/kailas-cloud/raglet/internal/domain"
	"github.com/kailas-cloud/raglet/internal/domain/search/filter"
)

// ErrorCode is the machine-readable error kind in API error responses.
type ErrorCode string

const (
	CodeBadRequest        ErrorCode = "bad_request"
	CodeValidationFailed  ErrorCode = "validation_failed"
	CodeRetrievalFailed   ErrorCode = "retrieval_failed"
	CodeGenerationFailed  ErrorCode = "generation_failed"
	CodeGenerationTimeout ErrorCode = "generation_timeout"
	CodeCircuitOpen       ErrorCode = "generation_unavailable"
	CodeEmbeddingProvider ErrorCode = "embedding_provider_error"
	CodeInternalError     ErrorCode = "internal_error"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// AnswerRequest is the body of POST /answers and POST /answers/stream.
type AnswerRequest struct {
	Question string            `json:"question"`
	Tier     string            `json:"tier,omitempty"`
	History  []Turn            `json:"history,omitempty"`
	Filters  *FilterExpression `json:"filters,omitempty"`
}

// Turn is one prior conversation exchange.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// FilterExpression mirrors filter.Expression on the wire.
type FilterExpression struct {
	Must    []FilterCondition `json:"must,omitempty"`
	Should  []FilterCondition `json:"should,omitempty"`
	MustNot []FilterCondition `json:"must_not,omitempty"`
}

// FilterCondition is a single match or range condition.
type FilterCondition struct {
	Key   string       `json:"key"`
	Match *string      `json:"match,omitempty"`
	Range *RangeFilter `json:"range,omitempty"`
}

// RangeFilter is a numeric range condition.
type RangeFilter struct {
	Gt  *float64 `json:"gt,omitempty"`
	Gte *float64 `json:"gte,omitempty"`
	Lt  *float64 `json:"lt,omitempty"`
	Lte *float64 `json:"lte,omitempty"`
}

// SourceItem is one document that contributed to the answer.
type SourceItem struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Source   string         `json:"source,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// AnswerResponse is the body of POST /answers.
type AnswerResponse struct {
	Answer    string       `json:"answer"`
	NoResults bool         `json:"no_results,omitempty"`
	Sources   []SourceItem `json:"sources,omitempty"`
}

// tierFromRequest maps the wire tier to the domain tier, defaulting to
// balanced.
func tierFromRequest(tier string) (domain.Tier, error) {
	if tier == "" {
		return domain.TierBalanced, nil
	}
	t := domain.Tier(tier)
	if !t.IsValid() {
		return "", fmt.Errorf("unknown tier %q", tier)
	}
	return t, nil
}

func historyFromRequest(turns []Turn) []domain.Turn {
	if len(turns) == 0 {
		return nil
	}
	out := make([]domain.Turn, len(turns))
	for i, t := range turns {
		out[i] = domain.Turn{Question: t.Question, Answer: t.Answer}
	}
	return out
}

func sourcesToResponse(docs domain.RankedList) []SourceItem {
	if len(docs) == 0 {
		return nil
	}
	items := make([]SourceItem, len(docs))
	for i, d := range docs {
		items[i] = SourceItem{
			ID:       d.ID,
			Content:  d.Content,
			Score:    d.Score,
			Source:   d.Source,
			Metadata: d.Metadata,
		}
	}
	return items
}

func filtersFromRequest(f *FilterExpression) (filter.Expression, error) {
	if f == nil {
		return filter.Expression{}, nil
	}

	must, err := conditionsFromRequest(f.Must)
	if err != nil {
		return filter.Expression{}, err
	}
	should, err := conditionsFromRequest(f.Should)
	if err != nil {
		return filter.Expression{}, err
	}
	mustNot, err := conditionsFromRequest(f.MustNot)
	if err != nil {
		return filter.Expression{}, err
	}

	expr, err := filter.NewExpression(must, should, mustNot)
	if err != nil {
		return filter.Expression{}, fmt.Errorf("new expression: %w", err)
	}
	return expr, nil
}

func conditionsFromRequest(cs []FilterCondition) ([]filter.Condition, error) {
	if len(cs) == 0 {
		return nil, nil
	}
	out := make([]filter.Condition, 0, len(cs))
	for _, c := range cs {
		cond, err := conditionFromRequest(c)
		if err != nil {
			return nil, err
		}
		out = append(out, cond)
	}
	return out, nil
}

func conditionFromRequest(c FilterCondition) (filter.Condition, error) {
	if c.Match != nil && c.Range != nil {
		return filter.Condition{},
			fmt.Errorf("filter condition for %q must have match or range, not both", c.Key)
	}
	if c.Match != nil {
		cond, err := filter.NewMatch(c.Key, *c.Match)
		if err != nil {
			return filter.Condition{}, fmt.Errorf("match filter: %w", err)
		}
		return cond, nil
	}
	if c.Range != nil {
		rf, err := filter.NewRangeFilter(c.Range.Gt, c.Range.Gte, c.Range.Lt, c.Range.Lte)
		if err != nil {
			return filter.Condition{}, fmt.Errorf("range filter: %w", err)
		}
		cond, err := filter.NewRange(c.Key, rf)
		if err != nil {
			return filter.Condition{}, fmt.Errorf("range condition: %w", err)
		}
		return cond, nil
	}
	return filter.Condition{},
		errors.New("filter condition must have either match or range")
}
