package llm

import (
	"context"
	"errors"
	"net"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"

	"github.com/agenthands/driftwatch/internal/fault"
)

// classify maps SDK errors onto fault kinds so the shared retry policy can
// tell a busy backend from a bad request.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fault.New(fault.Timeout, op, ctx.Err())
	}

	var claudeErr *anthropic.APIError
	if errors.As(err, &claudeErr) {
		switch string(claudeErr.Type) {
		case "rate_limit_error":
			return fault.New(fault.RateLimited, op, err)
		case "overloaded_error", "api_error":
			return fault.New(fault.Transient, op, err)
		default:
			return fault.New(fault.Permanent, op, err)
		}
	}
	var claudeReq *anthropic.RequestError
	if errors.As(err, &claudeReq) {
		return fault.FromStatus(op, claudeReq.StatusCode, err)
	}

	var openaiErr *openai.APIError
	if errors.As(err, &openaiErr) {
		return fault.FromStatus(op, openaiErr.HTTPStatusCode, err)
	}
	var openaiReq *openai.RequestError
	if errors.As(err, &openaiReq) {
		return fault.FromStatus(op, openaiReq.HTTPStatusCode, err)
	}

	var googleErr *googleapi.Error
	if errors.As(err, &googleErr) {
		return fault.FromStatus(op, googleErr.Code, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fault.New(fault.Transient, op, err)
	}
	return fault.New(fault.Internal, op, err)
}
