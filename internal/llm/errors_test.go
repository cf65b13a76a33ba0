package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"

	"github.com/agenthands/driftwatch/internal/fault"
)

func TestClassify(t *testing.T) {
	ctx := context.Background()
	cases := map[string]struct {
		err  error
		want fault.Kind
	}{
		"claude rate limit": {
			err:  fmt.Errorf("error, status code: 429, message: %w", &anthropic.APIError{Type: "rate_limit_error", Message: "slow"}),
			want: fault.RateLimited,
		},
		"claude overloaded": {
			err:  &anthropic.APIError{Type: "overloaded_error"},
			want: fault.Transient,
		},
		"claude invalid": {
			err:  &anthropic.APIError{Type: "invalid_request_error"},
			want: fault.Permanent,
		},
		"claude request error": {
			err:  fmt.Errorf("error, %w", &anthropic.RequestError{StatusCode: http.StatusBadGateway}),
			want: fault.Transient,
		},
		"openai 429": {
			err:  &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests},
			want: fault.RateLimited,
		},
		"openai 401": {
			err:  &openai.APIError{HTTPStatusCode: http.StatusUnauthorized},
			want: fault.Permanent,
		},
		"gemini 503": {
			err:  &googleapi.Error{Code: http.StatusServiceUnavailable},
			want: fault.Transient,
		},
		"unknown": {
			err:  errors.New("mystery"),
			want: fault.Internal,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, fault.KindOf(classify(ctx, "op", tc.err)))
		})
	}
}

func TestClassifyCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, fault.Timeout, fault.KindOf(classify(ctx, "op", errors.New("request aborted"))))
}
