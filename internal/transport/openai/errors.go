package openai

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// parseAPIError extracts a human-readable error from the API response and
// classifies it by HTTP status: 429, 5xx, and failures with no status at
// all (connection refused, reset) wrap the transient sentinel; every other
// 4xx is a permanent rejection and wraps the permanent one.
func parseAPIError(kind string, err error, transient, permanent error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
		return fmt.Errorf("%s API error %d: %s: %w",
			kind, reqErr.HTTPStatusCode, detail, classifyStatus(reqErr.HTTPStatusCode, transient, permanent))
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s API error %d: %s: %w",
			kind, apiErr.HTTPStatusCode, apiErr.Message, classifyStatus(apiErr.HTTPStatusCode, transient, permanent))
	}

	return fmt.Errorf("%s request failed: %w", kind, transient)
}

func classifyStatus(code int, transient, permanent error) error {
	if code == http.StatusTooManyRequests || code >= http.StatusInternalServerError || code == 0 {
		return transient
	}
	return permanent
}

// extractDetail extracts the "detail" field from a JSON error body (Nebius error format).
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
