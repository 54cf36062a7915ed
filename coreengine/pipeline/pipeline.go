// Package pipeline implements the seven code-analysis stages as hook sets
// over the generic stage machinery: perception, intent, planner, executor,
// synthesizer, critic, integration.
//
// The stages package knows how to run a stage; this package knows what each
// stage does. Everything here is wiring: context builders supply the
// bounded prompts, the tool registry supplies execution, the evidence
// package supplies citation validation.
package pipeline

import (
	"context"
	"fmt"

	"github.com/jeeves-cluster-organization/codeanalysis/commbus"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/agents"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/config"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/contextbuild"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/envelope"
	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/tools"
)

// SessionLoader loads persisted session state for perception's digest.
type SessionLoader interface {
	LoadState(ctx context.Context, sessionID string) ([]byte, error)
}

// CodeTokenRecorder is the accountant extension the executor uses to charge
// tool-derived tokens and file reads against the context bounds.
type CodeTokenRecorder interface {
	RecordCodeTokens(requestID string, tokens, files int)
}

// Deps carries everything the stage implementations need.
type Deps struct {
	Exec       *config.ExecutionConfig
	Logger     commbus.Logger
	LLMFactory func(role string) commbus.LLMProvider
	Registry   *tools.Registry
	Counter    tools.TokenCounter
	Builder    *contextbuild.Builder
	Accountant agents.Accountant
	Sessions   SessionLoader
	Prompts    agents.PromptRegistry
}

// BuildStages constructs the stage map for the given pipeline config.
func BuildStages(cfg *config.PipelineConfig, deps Deps) (map[string]*agents.Stage, error) {
	if deps.Exec == nil {
		deps.Exec = config.DefaultExecutionConfig()
	}
	if deps.Builder == nil {
		deps.Builder = contextbuild.NewBuilder(deps.Exec, deps.Counter)
	}

	stages := make(map[string]*agents.Stage, len(cfg.Stages))
	for _, stageCfg := range cfg.Stages {
		var llm commbus.LLMProvider
		if stageCfg.Kind == config.StageKindLLM {
			if deps.LLMFactory == nil {
				return nil, fmt.Errorf("stage '%s' needs an LLM but no factory was provided", stageCfg.Name)
			}
			llm = deps.LLMFactory(stageCfg.ModelRole)
		}

		stage, err := agents.NewStage(stageCfg, deps.Logger, llm)
		if err != nil {
			return nil, err
		}
		stage.Prompts = deps.Prompts
		stage.Accountant = deps.Accountant

		switch stageCfg.Name {
		case envelope.StagePerception:
			stage.Core = perceptionCore(deps)
		case envelope.StageIntent:
			stage.Prompt = deps.Builder.IntentPrompt
			stage.PostProcess = intentPost(deps)
		case envelope.StagePlanner:
			stage.Prompt = deps.Builder.PlannerPrompt
			stage.PostProcess = plannerPost(deps)
		case envelope.StageExecutor:
			stage.Core = executorCore(deps)
		case envelope.StageSynthesizer:
			stage.Prompt = deps.Builder.SynthesizerPrompt
			stage.PostProcess = synthesizerPost(deps)
		case envelope.StageCritic:
			stage.Prompt = deps.Builder.CriticPrompt
			stage.PostProcess = criticPost(deps)
		case envelope.StageIntegration:
			if stageCfg.Kind == config.StageKindLLM {
				stage.Prompt = deps.Builder.IntegrationPrompt
				stage.PostProcess = integrationPost(deps)
			} else {
				stage.Core = integrationCore(deps)
			}
		default:
			return nil, fmt.Errorf("unknown pipeline stage '%s'", stageCfg.Name)
		}

		stages[stageCfg.Name] = stage
	}

	return stages, nil
}
