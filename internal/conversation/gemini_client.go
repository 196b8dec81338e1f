package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/wolfman30/sara-leads/internal/leads"
	"github.com/wolfman30/sara-leads/internal/qualify"
	"github.com/wolfman30/sara-leads/pkg/logging"
)

const (
	chatRoleUser  = "user"
	chatRoleModel = "model"

	defaultGeminiModel = "gemini-2.5-flash"
	geminiTimeout      = 8 * time.Second
)

type ChatMessage struct {
	Role    string
	Content string
}

type LLMRequest struct {
	System      string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
}

type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (string, error)
}

// GeminiLLMClient implements LLMClient using Google's Gemini API.
type GeminiLLMClient struct {
	client  *genai.Client
	modelID string
}

// NewGeminiLLMClient creates a new Gemini LLM client.
func NewGeminiLLMClient(ctx context.Context, apiKey, modelID string) (*GeminiLLMClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("conversation: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to create gemini client: %w", err)
	}
	return &GeminiLLMClient{client: client, modelID: modelID}, nil
}

// Complete sends the conversation to Gemini and returns the text reply.
func (c *GeminiLLMClient) Complete(ctx context.Context, req LLMRequest) (string, error) {
	if len(req.Messages) == 0 {
		return "", errors.New("conversation: gemini requires at least one message")
	}
	model := c.client.GenerativeModel(c.modelID)
	model.SetTemperature(req.Temperature)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.MaxTokens)
	}
	if strings.TrimSpace(req.System) != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	}

	cs := model.StartChat()
	for _, msg := range req.Messages[:len(req.Messages)-1] {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		cs.History = append(cs.History, &genai.Content{
			Role:  msg.Role,
			Parts: []genai.Part{genai.Text(content)},
		})
	}

	last := req.Messages[len(req.Messages)-1]
	resp, err := cs.SendMessage(ctx, genai.Text(last.Content))
	if err != nil {
		return "", fmt.Errorf("conversation: gemini completion failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("conversation: gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return strings.TrimSpace(text.String()), nil
}

// Close releases resources held by the Gemini client.
func (c *GeminiLLMClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

const responderSystemPrompt = `Eres SARA, asistente virtual de una inmobiliaria en México. Respondes por WhatsApp.
Reescribe el MENSAJE BASE con un tono cálido y profesional, en español, en máximo tres frases.
Conserva la pregunta del mensaje base. No inventes precios, fechas, horarios, nombres ni enlaces.
No prometas nada que el mensaje base no diga. Responde solo con el texto para el cliente.`

// GeminiResponder words conversational replies with Gemini. Replies that
// carry dates, alternatives or links always use the template text, and any
// LLM failure falls back to it.
type GeminiResponder struct {
	llm      LLMClient
	fallback *TemplateResponder
	logger   *logging.Logger
	timeout  time.Duration
}

func NewGeminiResponder(llm LLMClient, fallback *TemplateResponder, logger *logging.Logger) *GeminiResponder {
	if llm == nil {
		panic("conversation: llm client required")
	}
	if fallback == nil {
		fallback = NewTemplateResponder("", nil)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &GeminiResponder{llm: llm, fallback: fallback, logger: logger, timeout: geminiTimeout}
}

var _ Responder = (*GeminiResponder)(nil)

func (g *GeminiResponder) Respond(ctx context.Context, rc ReplyContext) (string, error) {
	base := g.fallback.Text(rc)
	if !rephrasable(rc.Reply.Kind) {
		return base, nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := LLMRequest{
		System:      responderSystemPrompt,
		Messages:    historyMessages(rc.History),
		MaxTokens:   256,
		Temperature: 0.4,
	}
	req.Messages = append(req.Messages, ChatMessage{
		Role:    chatRoleUser,
		Content: fmt.Sprintf("Cliente: %s\n\nMENSAJE BASE: %s", rc.Inbound, base),
	})

	text, err := g.llm.Complete(ctx, req)
	if err != nil {
		g.logger.Warn("gemini reply failed, using template", "error", err, "reply_kind", rc.Reply.Kind)
		return base, nil
	}
	if strings.TrimSpace(text) == "" {
		return base, nil
	}
	return text, nil
}

func rephrasable(kind qualify.ReplyKind) bool {
	switch kind {
	case qualify.ReplyAskMissing, qualify.ReplyQualified, qualify.ReplyAcknowledged,
		qualify.ReplyFiguresUpdated, qualify.ReplyAskNewSlot, qualify.ReplyNothingToCancel:
		return true
	}
	return false
}

func historyMessages(history []leads.MessageRecord) []ChatMessage {
	out := make([]ChatMessage, 0, len(history))
	for _, rec := range history {
		switch rec.Direction {
		case leads.DirectionInbound:
			out = append(out, ChatMessage{Role: chatRoleUser, Content: rec.Body})
		case leads.DirectionOutbound:
			out = append(out, ChatMessage{Role: chatRoleModel, Content: rec.Body})
		}
	}
	return out
}
