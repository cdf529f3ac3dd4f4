package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"PARAM_PREFIX", "PORT", "LOG_LEVEL", "LLM_PROVIDER", "OPENAI_BASE_URL", "EMBEDDING_MODEL",
	"MODERATION_ENABLED", "RETRIEVER", "DOCS_DIR", "KNOWLEDGE_BASE_ID", "RETRIEVAL_TOP_K",
	"MAX_CONTEXT_TOKENS", "STATE_BACKEND", "STATE_TABLE", "SQLITE_PATH", "CODEX_MODE",
	"CODEX_PROJECT_ID", "CODEX_BASE_URL", "FALLBACK_ANSWER", "FALLBACK_THRESHOLD",
	"MAX_CONTEXT_ITEMS", "MAX_QUESTION_LENGTH", "MAX_CONVERSATION_TURNS", "MAX_TOOL_ROUNDS",
	"PARAM_SOURCE", "MODEL", "OPENAI_API_KEY", "CODEX_ACCESS_KEY",
}

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, map[string]string{"PARAM_PREFIX": "/codex-rag", "STATE_TABLE": "state"})

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Addr)
	require.Equal(t, slog.LevelInfo, cfg.LogLevel)
	require.Equal(t, ProviderOpenAI, cfg.Provider)
	require.True(t, cfg.Moderation)
	require.Equal(t, RetrieverStatic, cfg.Retriever)
	require.Equal(t, StateDynamoDB, cfg.StateBackend)
	require.Equal(t, CodexOff, cfg.CodexMode)
	require.Equal(t, 70, cfg.FallbackThreshold)
	require.Equal(t, 3, cfg.RetrievalTopK)
	require.Equal(t, 20, cfg.MaxContextItems)
	require.Equal(t, 300, cfg.MaxQuestionLen)
	require.Equal(t, 10, cfg.MaxTurns)
	require.Equal(t, 5, cfg.MaxToolRounds)
	require.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
	require.Equal(t, ParamsSSM, cfg.ParamSource)
}

func TestLoad_EnvParamSource(t *testing.T) {
	setEnv(t, map[string]string{
		"PARAM_PREFIX":     "/p",
		"STATE_BACKEND":    "memory",
		"PARAM_SOURCE":     "env",
		"MODEL":            "gpt-4o-mini",
		"OPENAI_API_KEY":   "sk-local",
		"CODEX_ACCESS_KEY": "ak-local",
	})
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ParamsEnv, cfg.ParamSource)
	require.Equal(t, "gpt-4o-mini", cfg.Model)
	require.Equal(t, "sk-local", cfg.OpenAIAPIKey)
	require.Equal(t, "ak-local", cfg.CodexAccessKey)
}

func TestLoad_EnvParamSourceBedrockNeedsNoKeys(t *testing.T) {
	setEnv(t, map[string]string{
		"PARAM_PREFIX":  "/p",
		"STATE_BACKEND": "memory",
		"PARAM_SOURCE":  "env",
		"MODEL":         "anthropic.claude-3-haiku",
		"LLM_PROVIDER":  "bedrock",
	})
	cfg, err := Load()
	require.NoError(t, err)
	require.False(t, cfg.NeedsOpenAI())
}

func TestLoad_FullOverride(t *testing.T) {
	setEnv(t, map[string]string{
		"PARAM_PREFIX":       "/p",
		"PORT":               "127.0.0.1:9000",
		"LOG_LEVEL":          "debug",
		"LLM_PROVIDER":       "BEDROCK",
		"RETRIEVER":          "bedrock_kb",
		"KNOWLEDGE_BASE_ID":  "KB123",
		"STATE_BACKEND":      "sqlite",
		"SQLITE_PATH":        "/tmp/x.db",
		"CODEX_MODE":         "tool",
		"CODEX_PROJECT_ID":   "proj-1",
		"MAX_TOOL_ROUNDS":    "2",
		"FALLBACK_THRESHOLD": "80",
	})

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.Addr)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)
	require.Equal(t, ProviderBedrock, cfg.Provider)
	require.False(t, cfg.Moderation)
	require.Equal(t, RetrieverKnowledgeBase, cfg.Retriever)
	require.Equal(t, "KB123", cfg.KnowledgeBaseID)
	require.Equal(t, StateSQLite, cfg.StateBackend)
	require.Equal(t, CodexTool, cfg.CodexMode)
	require.Equal(t, 2, cfg.MaxToolRounds)
	require.Equal(t, 80, cfg.FallbackThreshold)
}

func TestLoad_MissingRequired(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		key  string
	}{
		{name: "param prefix", env: map[string]string{}, key: "PARAM_PREFIX"},
		{name: "state table", env: map[string]string{"PARAM_PREFIX": "/p"}, key: "STATE_TABLE"},
		{name: "docs dir", env: map[string]string{"PARAM_PREFIX": "/p", "STATE_BACKEND": "memory", "RETRIEVER": "index"}, key: "DOCS_DIR"},
		{name: "knowledge base", env: map[string]string{"PARAM_PREFIX": "/p", "STATE_BACKEND": "memory", "RETRIEVER": "bedrock_kb"}, key: "KNOWLEDGE_BASE_ID"},
		{name: "model", env: map[string]string{"PARAM_PREFIX": "/p", "STATE_BACKEND": "memory", "PARAM_SOURCE": "env"}, key: "MODEL"},
		{name: "codex project", env: map[string]string{"PARAM_PREFIX": "/p", "STATE_BACKEND": "memory", "CODEX_MODE": "backup"}, key: "CODEX_PROJECT_ID"},
		{name: "openai key for env params", env: map[string]string{"PARAM_PREFIX": "/p", "STATE_BACKEND": "memory", "PARAM_SOURCE": "env", "MODEL": "gpt-4o-mini"}, key: "OPENAI_API_KEY"},
		{name: "openai key for index retriever", env: map[string]string{"PARAM_PREFIX": "/p", "STATE_BACKEND": "memory", "PARAM_SOURCE": "env", "MODEL": "m", "LLM_PROVIDER": "bedrock", "RETRIEVER": "index", "DOCS_DIR": "docs"}, key: "OPENAI_API_KEY"},
		{name: "codex access key for env params", env: map[string]string{"PARAM_PREFIX": "/p", "STATE_BACKEND": "memory", "PARAM_SOURCE": "env", "MODEL": "gpt-4o-mini", "OPENAI_API_KEY": "sk", "CODEX_MODE": "backup", "CODEX_PROJECT_ID": "p1"}, key: "CODEX_ACCESS_KEY"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setEnv(t, tc.env)
			_, err := Load()
			require.ErrorIs(t, err, ErrMissingEnv)
			require.ErrorContains(t, err, tc.key)
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	base := map[string]string{"PARAM_PREFIX": "/p", "STATE_BACKEND": "memory"}
	cases := map[string]string{
		"LLM_PROVIDER":       "cohere",
		"CODEX_MODE":         "always",
		"STATE_BACKEND":      "redis",
		"MAX_TOOL_ROUNDS":    "many",
		"FALLBACK_THRESHOLD": "101",
		"MODERATION_ENABLED": "maybe",
		"PORT":               "http",
		"LOG_LEVEL":          "loud",
		"RETRIEVAL_TOP_K":    "-1",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			env := map[string]string{key: val}
			for k, v := range base {
				if k != key {
					env[k] = v
				}
			}
			setEnv(t, env)
			_, err := Load()
			require.Error(t, err)
			require.NotErrorIs(t, err, ErrMissingEnv)
		})
	}
}

func TestLoad_ModerationRequiresOpenAI(t *testing.T) {
	setEnv(t, map[string]string{
		"PARAM_PREFIX":       "/p",
		"STATE_BACKEND":      "memory",
		"LLM_PROVIDER":       "bedrock",
		"MODERATION_ENABLED": "true",
	})
	_, err := Load()
	require.ErrorContains(t, err, "MODERATION_ENABLED")
}
