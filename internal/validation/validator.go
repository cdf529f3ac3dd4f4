// Package validation decides whether a RAG response should be replaced by an
// expert answer from a Codex project.
package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"codex-rag/internal/integrations/codex"
)

// Remote is the subset of the Codex client the validator uses.
type Remote interface {
	Validate(ctx context.Context, in codex.ValidateRequest) (codex.ValidateResult, error)
	Query(ctx context.Context, question string) (string, bool, error)
}

const (
	ReasonFallback = "fallback_response"
	ReasonRemote   = "remote_bad_response"
)

type Input struct {
	Query    string
	Context  string
	Prompt   string
	Response string
}

type Result struct {
	IsBad          bool
	ExpertAnswer   string
	EscalatedToSME bool
	Reasons        []string
}

// ShouldOverride reports whether the response must be replaced.
func (r Result) ShouldOverride() bool {
	return r.IsBad && r.ExpertAnswer != ""
}

type Validator struct {
	fallback       string
	threshold      int
	remote         Remote
	remoteValidate bool
}

type Option func(*Validator)

// WithThreshold sets the fuzzy match threshold for fallback detection.
func WithThreshold(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.threshold = n
		}
	}
}

// WithRemote attaches a Codex project. When validate is true every response is
// sent to the project for judgement; otherwise the project is only queried for
// an expert answer once a fallback response is detected locally.
func WithRemote(r Remote, validate bool) Option {
	return func(v *Validator) {
		v.remote = r
		v.remoteValidate = validate
	}
}

func New(fallback string, opts ...Option) (*Validator, error) {
	fallback = strings.TrimSpace(fallback)
	if fallback == "" {
		return nil, errors.New("validation: fallback answer must not be empty")
	}
	v := &Validator{fallback: fallback, threshold: DefaultFallbackThreshold}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

func (v *Validator) Validate(ctx context.Context, in Input) (Result, error) {
	var res Result
	if IsFallbackResponse(in.Response, v.fallback, v.threshold) {
		res.IsBad = true
		res.Reasons = append(res.Reasons, ReasonFallback)
	}
	if v.remote == nil {
		return res, nil
	}

	if v.remoteValidate {
		remote, err := v.remote.Validate(ctx, codex.ValidateRequest{
			Query:    in.Query,
			Context:  in.Context,
			Prompt:   in.Prompt,
			Response: in.Response,
		})
		if err != nil {
			return Result{}, fmt.Errorf("validation: remote validate: %w", err)
		}
		if remote.IsBadResponse {
			res.IsBad = true
			res.Reasons = append(res.Reasons, ReasonRemote)
		}
		res.ExpertAnswer = remote.Expert()
		res.EscalatedToSME = remote.EscalatedToSME
	}

	if res.IsBad && res.ExpertAnswer == "" && !v.remoteValidate {
		answer, ok, err := v.remote.Query(ctx, in.Query)
		if err != nil {
			return Result{}, fmt.Errorf("validation: query expert answer: %w", err)
		}
		if ok {
			res.ExpertAnswer = answer
		}
	}
	return res, nil
}
