package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/lexassist/lexgo/core"
	"github.com/lexassist/lexgo/memory"
)

const classifierPrompt = `Classify the legal exchange below. Respond with only a JSON object:
{"legal_domain": "...", "case_type": "...", "topics": ["..."]}

legal_domain is one of: contract law, tort law, criminal law, family law,
property law, employment law, or uncategorized when none fits.
case_type is one of: advice, document_review, dispute, outcome_prediction, general.
topics is up to five short keywords from the exchange.`

// LLMClassifier categorizes exchanges with a model call. It implements
// memory.Classifier; the manager falls back to uncategorized when it
// errors, so an unreachable API degrades categorization without
// blocking writes.
type LLMClassifier struct {
	llm       messageAPI
	model     anthropic.Model
	maxTokens int64
}

// NewLLMClassifier builds a classifier over the client. An empty model
// uses DefaultModel.
func NewLLMClassifier(client *anthropic.Client, model string) *LLMClassifier {
	if model == "" {
		model = DefaultModel
	}
	return &LLMClassifier{
		llm:       &client.Messages,
		model:     anthropic.Model(model),
		maxTokens: 256,
	}
}

var _ memory.Classifier = (*LLMClassifier)(nil)

// Classify sends the exchange to the model and parses the JSON verdict.
func (c *LLMClassifier) Classify(ctx context.Context, userInput, aiResponse string) (memory.Classification, error) {
	exchange := fmt.Sprintf("User: %s\nAssistant: %s", userInput, aiResponse)

	resp, err := c.llm.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: classifierPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(exchange)),
		},
	})
	if err != nil {
		return memory.Classification{}, fmt.Errorf("classify: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	var verdict struct {
		LegalDomain string   `json:"legal_domain"`
		CaseType    string   `json:"case_type"`
		Topics      []string `json:"topics"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &verdict); err != nil {
		return memory.Classification{}, fmt.Errorf("classify: parse verdict: %w", err)
	}

	domain := strings.ToLower(strings.TrimSpace(verdict.LegalDomain))
	if domain == "" {
		domain = core.DomainUncategorized
	}
	if len(verdict.Topics) > core.MaxSessionTopics {
		verdict.Topics = verdict.Topics[:core.MaxSessionTopics]
	}
	return memory.Classification{
		LegalDomain: domain,
		CaseType:    strings.ToLower(strings.TrimSpace(verdict.CaseType)),
		Topics:      verdict.Topics,
	}, nil
}

// extractJSON pulls the outermost JSON object out of a reply that may
// wrap it in prose or a code fence.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
