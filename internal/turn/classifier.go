package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chimebot/chime/pkg/provider/llm"
)

// classifierMaxAttempts bounds classifier calls per evaluation: one
// call plus one retry after a contract violation.
const classifierMaxAttempts = 2

// ErrContractViolation marks a classifier response that is neither YES
// nor NO.
var ErrContractViolation = errors.New("turn: classifier response violates YES/NO contract")

// Verdict is the classifier's answer.
type Verdict int

const (
	VerdictNo Verdict = iota
	VerdictYes
)

// Classifier asks an LLM whether an ambiguous, unaddressed utterance
// deserves a reply, under a strict YES/NO contract with bounded retry.
type Classifier struct {
	provider     llm.Provider
	providerName string
	model        string
	policy       RetryPolicy
}

// NewClassifier returns a classifier backed by provider. providerName
// and model label decisions for the action log.
func NewClassifier(provider llm.Provider, providerName, model string) *Classifier {
	return &Classifier{
		provider:     provider,
		providerName: providerName,
		model:        model,
		policy:       RetryPolicy{MaxAttempts: classifierMaxAttempts},
	}
}

// ProviderName returns the backend label for decision records.
func (c *Classifier) ProviderName() string { return c.providerName }

// Model returns the model label for decision records.
func (c *Classifier) Model() string { return c.model }

// Classify runs the YES/NO contract against the model. It returns the
// verdict, the number of calls made, the token usage summed across
// every call, and the final error when every attempt failed. Malformed
// responses and transport failures share the retry budget; the
// distinction survives in the returned error.
func (c *Classifier) Classify(ctx context.Context, systemPrompt, userPrompt string) (Verdict, int, llm.Usage, error) {
	var (
		verdict Verdict
		usage   llm.Usage
	)

	attempts, err := c.policy.Do(ctx, func(ctx context.Context, _ int) error {
		resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
			Messages:     []llm.Message{{Role: "user", Content: userPrompt}},
			SystemPrompt: systemPrompt,
			Temperature:  0,
			MaxTokens:    8,
		})
		if err != nil {
			return fmt.Errorf("turn: classifier call: %w", err)
		}
		usage = usage.Add(resp.Usage)

		v, err := parseVerdict(resp.Content)
		if err != nil {
			return err
		}
		verdict = v
		return nil
	})
	if err != nil {
		return VerdictNo, attempts, usage, err
	}
	return verdict, attempts, usage, nil
}

// parseVerdict enforces the strict contract: the response, after
// trimming whitespace and trailing sentence punctuation, must be
// exactly YES or NO in any letter case.
func parseVerdict(s string) (Verdict, error) {
	t := strings.ToUpper(strings.TrimRight(strings.TrimSpace(s), ".!"))
	switch t {
	case "YES":
		return VerdictYes, nil
	case "NO":
		return VerdictNo, nil
	}
	return VerdictNo, fmt.Errorf("%w: %q", ErrContractViolation, s)
}
