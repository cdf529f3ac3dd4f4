// Package app assembles the chat service from configuration. Both entrypoints
// share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"codex-rag/internal/config"
	"codex-rag/internal/integrations/bedrock"
	"codex-rag/internal/integrations/codex"
	"codex-rag/internal/integrations/openai"
	"codex-rag/internal/integrations/paramstore"
	"codex-rag/internal/repository"
	"codex-rag/internal/repository/memstore"
	"codex-rag/internal/repository/sqlstore"
	"codex-rag/internal/retrieval"
	"codex-rag/internal/tools"
	"codex-rag/internal/usecase"
	"codex-rag/internal/validation"
)

const (
	modelParam     = "/config/model"
	openAITokenKey = "/openai-token"
	codexTokenKey  = "/codex-access-key"
)

// App is the assembled service plus the resources to release on shutdown.
type App struct {
	Service *usecase.ChatService

	tools   *tools.Registry
	closers []func() error
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// Build wires every component selected by cfg. AWS clients are created from
// awsCfg only for the components that need them.
func Build(ctx context.Context, cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) (_ *App, err error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	params, err := buildParams(ctx, cfg, awsCfg)
	if err != nil {
		return nil, err
	}

	var openaiClient *openai.Client
	if cfg.NeedsOpenAI() {
		var opts []openai.Option
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		if openaiClient, err = openai.NewClient(params, cfg.ParamPrefix, opts...); err != nil {
			return nil, fmt.Errorf("app: openai client: %w", err)
		}
	}

	deps := usecase.Deps{Params: params, Logger: logger}

	switch cfg.Provider {
	case config.ProviderBedrock:
		gen, err := bedrock.NewConverse(bedrockruntime.NewFromConfig(awsCfg))
		if err != nil {
			return nil, fmt.Errorf("app: bedrock converse: %w", err)
		}
		deps.Generator = gen
	default:
		deps.Generator = openaiClient
	}
	if cfg.Moderation {
		deps.Moderator = openaiClient
	}

	if deps.Retriever, err = buildRetriever(ctx, cfg, awsCfg, openaiClient); err != nil {
		return nil, err
	}

	if deps.Store, err = a.buildStore(cfg, awsCfg); err != nil {
		return nil, err
	}

	fallback := cfg.FallbackAnswer
	if fallback == "" {
		fallback = usecase.DefaultFallbackAnswer
	}
	systemPrompt := usecase.SystemPrompt(fallback)

	var codexClient *codex.Client
	if cfg.CodexMode != config.CodexOff {
		var opts []codex.Option
		if cfg.CodexBaseURL != "" {
			opts = append(opts, codex.WithBaseURL(cfg.CodexBaseURL))
		}
		if codexClient, err = codex.NewClient(params, cfg.ParamPrefix, cfg.CodexProjectID, opts...); err != nil {
			return nil, fmt.Errorf("app: codex client: %w", err)
		}
	}

	vopts := []validation.Option{validation.WithThreshold(cfg.FallbackThreshold)}
	switch cfg.CodexMode {
	case config.CodexBackup:
		vopts = append(vopts, validation.WithRemote(codexClient, false))
	case config.CodexValidate:
		vopts = append(vopts, validation.WithRemote(codexClient, true))
	}
	validator, err := validation.New(fallback, vopts...)
	if err != nil {
		return nil, fmt.Errorf("app: validator: %w", err)
	}
	deps.Validator = validator

	toolset := []tools.Tool{tools.NewDateTool(nil)}
	if cfg.CodexMode == config.CodexTool {
		ct, err := tools.NewCodexTool(codexClient)
		if err != nil {
			return nil, fmt.Errorf("app: codex tool: %w", err)
		}
		toolset = append(toolset, ct)
		systemPrompt = usecase.ToolModeSystemPrompt(fallback)
	}
	if a.tools, err = tools.NewRegistry(toolset...); err != nil {
		return nil, fmt.Errorf("app: tools: %w", err)
	}
	deps.Tools = a.tools

	a.Service, err = usecase.NewChatService(deps, usecase.Settings{
		ParamPrefix:     cfg.ParamPrefix,
		MaxContextItems: cfg.MaxContextItems,
		MaxQuestionLen:  cfg.MaxQuestionLen,
		MaxTurns:        cfg.MaxTurns,
		MaxToolRounds:   cfg.MaxToolRounds,
		FallbackAnswer:  fallback,
		SystemPrompt:    systemPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("app: chat service: %w", err)
	}

	logger.Info("chat service ready",
		"provider", cfg.Provider,
		"retriever", cfg.Retriever,
		"state_backend", cfg.StateBackend,
		"codex_mode", cfg.CodexMode,
		"tools", len(toolset),
	)
	return a, nil
}

// buildParams returns the parameter getter. With SSM, the parameters the
// selected components need are checked up front so a misconfigured
// deployment fails at cold start instead of on the first request.
func buildParams(ctx context.Context, cfg *config.Config, awsCfg aws.Config) (usecase.ParamGetter, error) {
	if cfg.ParamSource == config.ParamsEnv {
		return paramstore.NewStatic(cfg.ParamPrefix,
			map[string]string{modelParam: cfg.Model},
			map[string]string{openAITokenKey: cfg.OpenAIAPIKey, codexTokenKey: cfg.CodexAccessKey},
		), nil
	}

	client, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, fmt.Errorf("app: ssm client: %w", err)
	}
	if _, err := client.GetParameters(ctx, requiredParams(cfg)...); err != nil {
		return nil, fmt.Errorf("app: check parameters: %w", err)
	}
	return client, nil
}

func requiredParams(cfg *config.Config) []string {
	names := []string{cfg.ParamPrefix + modelParam}
	if cfg.NeedsOpenAI() {
		names = append(names, cfg.ParamPrefix+openAITokenKey)
	}
	if cfg.CodexMode != config.CodexOff {
		names = append(names, cfg.ParamPrefix+codexTokenKey)
	}
	return names
}

func buildRetriever(ctx context.Context, cfg *config.Config, awsCfg aws.Config, oc *openai.Client) (usecase.Retriever, error) {
	var r retrieval.Retriever
	switch cfg.Retriever {
	case config.RetrieverIndex:
		emb, err := openai.NewEmbedder(oc, cfg.EmbeddingModel)
		if err != nil {
			return nil, fmt.Errorf("app: embedder: %w", err)
		}
		ix, err := retrieval.NewIndex(emb, cfg.RetrievalTopK)
		if err != nil {
			return nil, fmt.Errorf("app: index: %w", err)
		}
		if err := ix.LoadDir(ctx, cfg.DocsDir); err != nil {
			return nil, fmt.Errorf("app: load documents: %w", err)
		}
		r = ix
	case config.RetrieverKnowledgeBase:
		kb, err := bedrock.NewKnowledgeBase(bedrockagentruntime.NewFromConfig(awsCfg), cfg.KnowledgeBaseID, cfg.RetrievalTopK)
		if err != nil {
			return nil, fmt.Errorf("app: knowledge base: %w", err)
		}
		r = kb
	default:
		r = retrieval.NewStatic()
	}

	if cfg.MaxContextTokens > 0 {
		counter, err := retrieval.NewTiktokenCounter("")
		if err != nil {
			return nil, fmt.Errorf("app: token counter: %w", err)
		}
		r = retrieval.NewBudget(r, counter, cfg.MaxContextTokens)
	}
	return r, nil
}

func (a *App) buildStore(cfg *config.Config, awsCfg aws.Config) (usecase.ConversationStore, error) {
	switch cfg.StateBackend {
	case config.StateSQLite:
		s, err := sqlstore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("app: sqlite store: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case config.StateMemory:
		return memstore.New(), nil
	default:
		s, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
		if err != nil {
			return nil, fmt.Errorf("app: dynamodb store: %w", err)
		}
		return s, nil
	}
}
