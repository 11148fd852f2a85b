package generator

import (
	"context"
	"errors"
	"fmt"

	"brick_model_generator/model"
)

// Agent generates a structured model from generation options.
type Agent struct {
	llm LLMClient
}

func NewAgent(llm LLMClient) (*Agent, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	return &Agent{llm: llm}, nil
}

// Generate sends the prompt and decodes the reply. Its errors are the ones shown to users.
func (a *Agent) Generate(ctx context.Context, opts model.GenerationOptions) (*model.LegoSet, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	raw, err := a.llm.Complete(ctx, BuildPrompt(opts))
	if err != nil {
		return nil, fmt.Errorf("model generation failed: %w", err)
	}
	set, err := PostProcess(raw)
	if err != nil {
		return nil, fmt.Errorf("model generation failed: %w", err)
	}
	return set, nil
}
