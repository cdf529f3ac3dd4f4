// Package config reads service configuration from the environment. It is the
// only place environment variables are consulted.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// ErrMissingEnv is returned when a required environment variable is unset.
var ErrMissingEnv = errors.New("config: required environment variable is not set")

type ParamSource string

const (
	ParamsSSM ParamSource = "ssm"
	// ParamsEnv serves parameters from MODEL, OPENAI_API_KEY and
	// CODEX_ACCESS_KEY for runs outside AWS.
	ParamsEnv ParamSource = "env"
)

type Provider string

const (
	ProviderOpenAI  Provider = "openai"
	ProviderBedrock Provider = "bedrock"
)

type RetrieverKind string

const (
	RetrieverStatic        RetrieverKind = "static"
	RetrieverIndex         RetrieverKind = "index"
	RetrieverKnowledgeBase RetrieverKind = "bedrock_kb"
)

type StateBackend string

const (
	StateDynamoDB StateBackend = "dynamodb"
	StateSQLite   StateBackend = "sqlite"
	StateMemory   StateBackend = "memory"
)

// CodexMode selects how the Codex project takes part in answering.
type CodexMode string

const (
	// CodexOff disables Codex; only local fallback detection runs.
	CodexOff CodexMode = "off"
	// CodexBackup queries the project for an expert answer when the model
	// returns the fallback answer.
	CodexBackup CodexMode = "backup"
	// CodexValidate sends every response to the project for judgement.
	CodexValidate CodexMode = "validate"
	// CodexTool exposes the project to the model as the consult_codex tool.
	CodexTool CodexMode = "tool"
)

type Config struct {
	Addr        string
	ParamPrefix string
	LogLevel    slog.Level

	ParamSource    ParamSource
	Model          string
	OpenAIAPIKey   string
	CodexAccessKey string

	Provider       Provider
	OpenAIBaseURL  string
	EmbeddingModel string
	Moderation     bool

	Retriever        RetrieverKind
	DocsDir          string
	KnowledgeBaseID  string
	RetrievalTopK    int
	MaxContextTokens int

	StateBackend StateBackend
	StateTable   string
	SQLitePath   string

	CodexMode         CodexMode
	CodexProjectID    string
	CodexBaseURL      string
	FallbackAnswer    string
	FallbackThreshold int

	MaxContextItems int
	MaxQuestionLen  int
	MaxTurns        int
	MaxToolRounds   int
}

// Load builds the configuration from environment variables.
func Load() (*Config, error) {
	var err error
	cfg := &Config{
		ParamPrefix:     strings.TrimSpace(os.Getenv("PARAM_PREFIX")),
		OpenAIBaseURL:   strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		EmbeddingModel:  getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		DocsDir:         strings.TrimSpace(os.Getenv("DOCS_DIR")),
		KnowledgeBaseID: strings.TrimSpace(os.Getenv("KNOWLEDGE_BASE_ID")),
		StateTable:      strings.TrimSpace(os.Getenv("STATE_TABLE")),
		SQLitePath:      getEnv("SQLITE_PATH", "codex-rag.db"),
		CodexProjectID:  strings.TrimSpace(os.Getenv("CODEX_PROJECT_ID")),
		CodexBaseURL:    strings.TrimSpace(os.Getenv("CODEX_BASE_URL")),
		FallbackAnswer:  strings.TrimSpace(os.Getenv("FALLBACK_ANSWER")),
		Model:           strings.TrimSpace(os.Getenv("MODEL")),
		OpenAIAPIKey:    strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		CodexAccessKey:  strings.TrimSpace(os.Getenv("CODEX_ACCESS_KEY")),
	}
	if cfg.ParamPrefix == "" {
		return nil, fmt.Errorf("%w: PARAM_PREFIX", ErrMissingEnv)
	}

	if cfg.Addr, err = loadAddr(); err != nil {
		return nil, err
	}
	if cfg.LogLevel, err = loadLogLevel(); err != nil {
		return nil, err
	}

	if cfg.ParamSource, err = oneOf("PARAM_SOURCE", ParamsSSM, ParamsSSM, ParamsEnv); err != nil {
		return nil, err
	}
	if cfg.ParamSource == ParamsEnv && cfg.Model == "" {
		return nil, fmt.Errorf("%w: MODEL", ErrMissingEnv)
	}

	if cfg.Provider, err = oneOf("LLM_PROVIDER", ProviderOpenAI, ProviderOpenAI, ProviderBedrock); err != nil {
		return nil, err
	}
	if cfg.Moderation, err = getBoolEnv("MODERATION_ENABLED", cfg.Provider == ProviderOpenAI); err != nil {
		return nil, err
	}
	if cfg.Moderation && cfg.Provider != ProviderOpenAI {
		return nil, errors.New("config: MODERATION_ENABLED requires LLM_PROVIDER=openai")
	}

	if cfg.Retriever, err = oneOf("RETRIEVER", RetrieverStatic, RetrieverStatic, RetrieverIndex, RetrieverKnowledgeBase); err != nil {
		return nil, err
	}
	switch {
	case cfg.Retriever == RetrieverIndex && cfg.DocsDir == "":
		return nil, fmt.Errorf("%w: DOCS_DIR", ErrMissingEnv)
	case cfg.Retriever == RetrieverKnowledgeBase && cfg.KnowledgeBaseID == "":
		return nil, fmt.Errorf("%w: KNOWLEDGE_BASE_ID", ErrMissingEnv)
	}

	if cfg.StateBackend, err = oneOf("STATE_BACKEND", StateDynamoDB, StateDynamoDB, StateSQLite, StateMemory); err != nil {
		return nil, err
	}
	if cfg.StateBackend == StateDynamoDB && cfg.StateTable == "" {
		return nil, fmt.Errorf("%w: STATE_TABLE", ErrMissingEnv)
	}

	if cfg.CodexMode, err = oneOf("CODEX_MODE", CodexOff, CodexOff, CodexBackup, CodexValidate, CodexTool); err != nil {
		return nil, err
	}
	if cfg.CodexMode != CodexOff && cfg.CodexProjectID == "" {
		return nil, fmt.Errorf("%w: CODEX_PROJECT_ID", ErrMissingEnv)
	}
	if cfg.ParamSource == ParamsEnv {
		if cfg.NeedsOpenAI() && cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY", ErrMissingEnv)
		}
		if cfg.CodexMode != CodexOff && cfg.CodexAccessKey == "" {
			return nil, fmt.Errorf("%w: CODEX_ACCESS_KEY", ErrMissingEnv)
		}
	}

	ints := []struct {
		key string
		def int
		dst *int
	}{
		{"RETRIEVAL_TOP_K", 3, &cfg.RetrievalTopK},
		{"MAX_CONTEXT_TOKENS", 0, &cfg.MaxContextTokens},
		{"FALLBACK_THRESHOLD", 70, &cfg.FallbackThreshold},
		{"MAX_CONTEXT_ITEMS", 20, &cfg.MaxContextItems},
		{"MAX_QUESTION_LENGTH", 300, &cfg.MaxQuestionLen},
		{"MAX_CONVERSATION_TURNS", 10, &cfg.MaxTurns},
		{"MAX_TOOL_ROUNDS", 5, &cfg.MaxToolRounds},
	}
	for _, e := range ints {
		if *e.dst, err = envInt(e.key, e.def); err != nil {
			return nil, err
		}
	}
	if cfg.FallbackThreshold > 100 {
		return nil, fmt.Errorf("config: FALLBACK_THRESHOLD must be at most 100, got %d", cfg.FallbackThreshold)
	}
	return cfg, nil
}

// NeedsOpenAI reports whether any selected component calls the OpenAI API.
func (c *Config) NeedsOpenAI() bool {
	return c.Provider == ProviderOpenAI || c.Retriever == RetrieverIndex || c.Moderation
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getBoolEnv(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: invalid %s value %q: %w", key, v, err)
	}
	return b, nil
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s value %q: %w", key, v, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("config: %s must not be negative, got %d", key, n)
	}
	return n, nil
}

func oneOf[T ~string](key string, def T, allowed ...T) (T, error) {
	v := T(strings.ToLower(getEnv(key, string(def))))
	for _, a := range allowed {
		if v == a {
			return v, nil
		}
	}
	return "", fmt.Errorf("config: invalid %s value %q", key, v)
}

func loadAddr() (string, error) {
	port := getEnv("PORT", "8080")
	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as given.
		return port, nil
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("config: invalid PORT value %q", port)
	}
	return ":" + port, nil
}

func loadLogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(getEnv("LOG_LEVEL", "INFO"))); err != nil {
		return 0, fmt.Errorf("config: invalid LOG_LEVEL: %w", err)
	}
	return level, nil
}
