package ai

import (
	"fmt"
	"strings"
)

// SystemPrompt frames every generation.
const SystemPrompt = "You are DentAIstudy, an exam-focused dental AI assistant. Be structured and concise."

// Generation defaults.
const (
	DefaultMode        = "General overview"
	DefaultSubject     = "General dentistry"
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 1500

	// MaxHistoryMessages bounds a client-supplied conversation.
	MaxHistoryMessages = 20
	// MaxMessageLength bounds a single turn in bytes.
	MaxMessageLength = 8000
)

// ModeInstruction returns the output format for a study mode. Matching is
// case-insensitive on a keyword so "OSCE station" and "osce" agree.
func ModeInstruction(mode string) string {
	m := strings.ToLower(mode)
	switch {
	case strings.Contains(m, "osce"):
		return "Produce an OSCE-style checklist or station flow."
	case strings.Contains(m, "flashcard"):
		return "Produce concise exam flashcards."
	case strings.Contains(m, "mcq"):
		return "Produce exam-style MCQs with answers."
	default:
		return "Produce a concise, structured exam-focused explanation."
	}
}

// StudyPrompt describes one generation request from the client.
type StudyPrompt struct {
	Topic    string
	Mode     string
	Subject  string
	Messages []Message // optional prior conversation
}

// Build converts the prompt into a provider request. A client conversation,
// when present, is used as-is after filtering to user and assistant turns;
// otherwise a single user turn is assembled from topic, mode and subject.
func (p StudyPrompt) Build() CompletionRequest {
	req := CompletionRequest{
		System:      SystemPrompt,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}

	history := filterHistory(p.Messages)
	if len(history) > 0 {
		req.Messages = history
		return req
	}

	mode := strings.TrimSpace(p.Mode)
	if mode == "" {
		mode = DefaultMode
	}
	subject := strings.TrimSpace(p.Subject)
	if subject == "" {
		subject = DefaultSubject
	}

	req.Messages = []Message{{
		Role: RoleUser,
		Content: fmt.Sprintf("Mode: %s\nSubject: %s\nTopic: %s\n\n%s",
			mode, subject, strings.TrimSpace(p.Topic), ModeInstruction(mode)),
	}}
	return req
}

// HasInput reports whether there is anything to generate from.
func (p StudyPrompt) HasInput() bool {
	return strings.TrimSpace(p.Topic) != "" || len(filterHistory(p.Messages)) > 0
}

func filterHistory(in []Message) []Message {
	out := make([]Message, 0, len(in))
	for _, m := range in {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			continue
		}
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		if len(content) > MaxMessageLength {
			content = content[:MaxMessageLength]
		}
		out = append(out, Message{Role: m.Role, Content: content})
	}
	if len(out) > MaxHistoryMessages {
		out = out[len(out)-MaxHistoryMessages:]
	}
	return out
}
