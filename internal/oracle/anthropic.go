package oracle

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/nicolu0/nexus-relay/pkg/logger"
)

const classificationTool = "record_classification"

const systemPrompt = `You are classifying SMS messages from a vendor or contractor who is communicating with a landlord about repair or maintenance work orders.

You are given:
- One vendor SMS message.
- A small JSON array of candidate work orders for this vendor/landlord.
- A short recent conversation history between this landlord and vendor, including sender_role, created_at, and body.

First, classify the SMS into one of:
- "confirmation": The vendor is clearly accepting, agreeing to, or scheduling the work (e.g., "I can come on Friday", "I will fix this tomorrow", "Okay, I will take care of it").
- "completion": The vendor is clearly stating that the work has been finished (e.g., "I just fixed the issue in unit 302", "the light is replaced").
- "other": Questions, price discussions, unclear messages, partial updates, or anything that is not clearly confirmation or completion.

Second, decide which ONE candidate work order (if any) this SMS is most likely about. Use clues like unit number, property name, type of work, timing, wording, and the recent conversation context.
- If no candidate seems like a reasonable match, set work_order_id to null and work_order_confidence to a low value (e.g. 0.0 or 0.1).

Always be conservative. If it is very ambiguous which work order is referenced, you may choose work_order_id = null.`

// AnthropicClassifier asks a Claude model for a structured verdict via a
// forced tool call, so the reply is always machine-readable JSON.
type AnthropicClassifier struct {
	client *anthropic.Client
	model  string
}

func NewAnthropicClassifier(apiKey, model string) *AnthropicClassifier {
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)
	return &AnthropicClassifier{
		client: &client,
		model:  model,
	}
}

// NewAnthropicClassifierWithClient is for tests and callers that need a
// customized client (base URL, middleware).
func NewAnthropicClassifierWithClient(client *anthropic.Client, model string) *AnthropicClassifier {
	return &AnthropicClassifier{
		client: client,
		model:  model,
	}
}

func (c *AnthropicClassifier) Classify(ctx context.Context, req Request) (*Classification, error) {
	trimmed := strings.TrimSpace(req.Body)
	if trimmed == "" {
		return Degraded("Empty or whitespace-only message"), nil
	}

	prompt, err := buildUserPrompt(trimmed, req.Candidates, req.Conversation)
	if err != nil {
		logger.Error("oracle: failed to build prompt", "error", err)
		return Degraded("Failed to encode classification input"), nil
	}

	tool := anthropic.ToolParam{
		Name:        classificationTool,
		Description: anthropic.String("Record the classification of one vendor SMS message."),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: map[string]interface{}{
				"category": map[string]interface{}{
					"type": "string",
					"enum": []string{"confirmation", "completion", "other"},
				},
				"confidence": map[string]interface{}{
					"type":        "number",
					"description": "Model confidence from 0.0 to 1.0 for the category",
				},
				"reasoning": map[string]interface{}{
					"type":        "string",
					"description": "Short explanation of why this category and work order were chosen",
				},
				"work_order_id": map[string]interface{}{
					"type":        []string{"string", "null"},
					"description": "ID of the best-matching work order that this SMS is most likely about, or null if no match found",
				},
				"work_order_confidence": map[string]interface{}{
					"type":        "number",
					"description": "Model confidence from 0.0 to 1.0 that this work_order_id is correct",
				},
			},
			Required: []string{"category", "confidence", "reasoning", "work_order_id", "work_order_confidence"},
		},
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Tools: []anthropic.ToolUnionParam{
			{OfTool: &tool},
		},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: classificationTool},
		},
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		logger.Error("oracle: classification request failed", "error", err)
		return Degraded("Classification request failed"), nil
	}

	for _, block := range resp.Content {
		if block.Type != "tool_use" {
			continue
		}
		tu := block.AsToolUse()
		if tu.Name != classificationTool {
			continue
		}
		cls, err := decodeClassification(tu.Input)
		if err != nil {
			logger.Warn("oracle: unparseable tool input", "error", err, "raw", string(tu.Input))
			return Degraded("Failed to parse model output as JSON"), nil
		}
		return cls, nil
	}

	logger.Warn("oracle: response carried no tool call", "stop_reason", string(resp.StopReason))
	return Degraded("Model returned no structured classification"), nil
}

func buildUserPrompt(body string, candidates []Candidate, conversation []ConversationMessage) (string, error) {
	if candidates == nil {
		candidates = []Candidate{}
	}
	if conversation == nil {
		conversation = []ConversationMessage{}
	}

	candidatesJSON, err := json.MarshalIndent(candidates, "", "  ")
	if err != nil {
		return "", err
	}
	conversationJSON, err := json.MarshalIndent(conversation, "", "  ")
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Vendor SMS:\n")
	sb.WriteString(body)
	sb.WriteString("\n\nCandidate work orders (JSON array):\n")
	sb.Write(candidatesJSON)
	sb.WriteString("\n\nRecent conversation between landlord and vendor (oldest first, most recent last):\n")
	sb.Write(conversationJSON)
	return sb.String(), nil
}

func decodeClassification(raw json.RawMessage) (*Classification, error) {
	var cls Classification
	if err := json.Unmarshal(raw, &cls); err != nil {
		return nil, err
	}
	if !cls.Category.Valid() {
		// unexpected shape still degrades rather than erroring
		return &Classification{
			Category:            CategoryOther,
			Confidence:          cls.Confidence,
			Reasoning:           "Unexpected classification format",
			WorkOrderID:         cls.WorkOrderID,
			WorkOrderConfidence: cls.WorkOrderConfidence,
		}, nil
	}
	return &cls, nil
}
