package usecase

import (
	"fmt"
	"strings"

	"codex-rag/internal/domain"
	"codex-rag/internal/tools"
)

// DefaultFallbackAnswer is what the model is told to say when the retrieved
// context does not cover the question.
const DefaultFallbackAnswer = "Based on the available information, I cannot provide a complete answer to this question."

// FormPrompt combines the retrieved context and the user's question into the
// user turn sent to the model. Every line is indented by two spaces.
func FormPrompt(question, context string) string {
	raw := fmt.Sprintf("Context:\n%s\n\nUser Question:\n%s", context, question)
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = "  " + line
	}
	return strings.Join(lines, "\n")
}

// SystemPrompt returns the answering rules. The model must reply with exactly
// the fallback answer when the context is insufficient, which is what the
// validator later detects.
func SystemPrompt(fallback string) string {
	return buildSystemPrompt(fallback, false)
}

// ToolModeSystemPrompt extends SystemPrompt with an instruction to consult the
// Codex project before giving up.
func ToolModeSystemPrompt(fallback string) string {
	return buildSystemPrompt(fallback, true)
}

func buildSystemPrompt(fallback string, consultCodex bool) string {
	rules := []string{
		`Never use phrases like "according to the context," "as the context states," etc. Treat the Context as your own knowledge, not something you are referencing.`,
		"Give a clear, short, and accurate answer. Explain complex terms if needed.",
		"If the answer to the question requires today's date, use the following tool: " + tools.DateToolName + ".",
	}
	if consultCodex {
		rules = append(rules, "If the Context doesn't adequately address the Question, use the "+tools.CodexToolName+
			" tool with the user's question before answering. Treat its answer as authoritative.")
	}
	rules = append(rules, fmt.Sprintf("If the Context doesn't adequately address the Question, say: %q only, nothing else.", fallback))

	lines := []string{"Answer the user's Question based on the following possibly relevant Context. Follow these rules:"}
	for i, r := range rules {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, r))
	}
	lines = append(lines, "", "Remember, your purpose is to provide information based on the Context, not to offer original advice.")
	return strings.Join(lines, "\n")
}

// buildPromptMessages assembles the system prompt, completed history turns and
// the formatted user prompt.
func buildPromptMessages(systemPrompt string, history []domain.Message, prompt string) []domain.ChatMessage {
	messages := []domain.ChatMessage{domain.SystemMessage(systemPrompt)}
	for _, m := range history {
		messages = append(messages, historyToPromptMessages(m)...)
	}
	return append(messages, domain.UserMessage(prompt))
}

func historyToPromptMessages(m domain.Message) []domain.ChatMessage {
	if m.Status != domain.StatusComplete {
		return nil
	}
	question := strings.TrimSpace(m.Text)
	answer := strings.TrimSpace(m.Answer)
	if question == "" || answer == "" {
		return nil
	}
	return []domain.ChatMessage{
		domain.UserMessage(question),
		domain.AssistantMessage(answer),
	}
}
