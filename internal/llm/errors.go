package llm

import (
	"context"
	"errors"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// StatusCode extracts the HTTP status from a provider error.
func StatusCode(err error) (int, bool) {
	var oaAPI *openai.APIError
	if errors.As(err, &oaAPI) && oaAPI.HTTPStatusCode > 0 {
		return oaAPI.HTTPStatusCode, true
	}
	var oaReq *openai.RequestError
	if errors.As(err, &oaReq) && oaReq.HTTPStatusCode > 0 {
		return oaReq.HTTPStatusCode, true
	}
	var an *anthropic.Error
	if errors.As(err, &an) && an.StatusCode > 0 {
		return an.StatusCode, true
	}
	var gm genai.APIError
	if errors.As(err, &gm) && gm.Code > 0 {
		return gm.Code, true
	}
	return 0, false
}

// IsRetryable reports whether a completion error is worth another attempt.
// Rate limits, timeouts and 5xx are. Other client errors, cancellation and
// malformed conversations are not. Errors without a status count as
// transient, which includes an empty answer.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrMissingAPIKey) || errors.Is(err, ErrNoUserMessage) {
		return false
	}
	code, ok := StatusCode(err)
	if !ok {
		return true
	}
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code == http.StatusConflict:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}
