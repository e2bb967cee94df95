// Package policy evaluates inbound turn requests against an admission
// policy before they reach the orchestrator.
package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/open-policy-agent/opa/rego"
)

// Engine is the OPA admission engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// Input is the fact set a turn request is judged on. MaxImageBytes carries
// the configured upload cap so the policy and the transport limit cannot
// diverge.
type Input struct {
	QueryChars    int    `json:"query_chars"`
	ImageBytes    int    `json:"image_bytes"`
	MaxImageBytes int64  `json:"max_image_bytes"`
	MediaType     string `json:"media_type"`
	HasAttachment bool   `json:"has_attachment"`
}

// Decision is the policy outcome.
type Decision struct {
	Allow  bool
	Reason string
}

// NewEngine creates an admission engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.turn_policy.deny"),
		rego.Module("turn_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate checks a turn request against the policy. The policy's deny set
// collects reasons; an empty set means the request is admitted.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Decision, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	var reasons []string
	for _, result := range results {
		for _, expr := range result.Expressions {
			vals, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, v := range vals {
				if s, ok := v.(string); ok {
					reasons = append(reasons, s)
				}
			}
		}
	}

	if len(reasons) > 0 {
		return Decision{Allow: false, Reason: strings.Join(reasons, "; ")}, nil
	}
	return Decision{Allow: true}, nil
}

// DefaultPolicy is the default admission policy: bound the query length,
// cap the attachment size at the configured limit and require an image
// media type on attachments.
const DefaultPolicy = `
package turn_policy

import rego.v1

max_query_chars := 4000

deny contains reason if {
	input.query_chars > max_query_chars
	reason := "query exceeds maximum length"
}

deny contains reason if {
	input.has_attachment
	input.image_bytes > input.max_image_bytes
	reason := "image exceeds maximum upload size"
}

deny contains reason if {
	input.has_attachment
	not startswith(input.media_type, "image/")
	reason := "attachment is not an image"
}
`
