package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	geminiModel = "gemini-2.0-flash"
	// minConfidence drops guesses the model itself is unsure about.
	minConfidence = 0.5
)

// GeminiProvider implements ServiceClassifier with Google's Gemini models.
type GeminiProvider struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGeminiProvider initializes a new Gemini client.
// apiKey should be provided from environment variables.
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini: missing api key")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(geminiModel)
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0)

	return &GeminiProvider{
		client: client,
		model:  model,
	}, nil
}

// Close cleans up the Gemini client resources.
func (p *GeminiProvider) Close() {
	p.client.Close()
}

func (p *GeminiProvider) ClassifyService(ctx context.Context, request string, catalogue []string) (string, error) {
	if strings.TrimSpace(request) == "" {
		return "", nil
	}
	prompt := fmt.Sprintf("%s\n\nЗапрос клиента: %s", buildClassifierPrompt(catalogue), request)

	resp, err := p.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generation error: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no response candidates from Gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			responseText.WriteString(string(txt))
		}
	}
	return parseClassification(responseText.String(), catalogue)
}

// parseClassification accepts only answers that name a catalogue entry.
func parseClassification(raw string, catalogue []string) (string, error) {
	var c Classification
	if err := json.Unmarshal([]byte(cleanJSONString(raw)), &c); err != nil {
		return "", fmt.Errorf("failed to parse JSON response: %w. Raw: %s", err, raw)
	}
	if c.Confidence < minConfidence {
		return "", nil
	}
	for _, entry := range catalogue {
		if strings.EqualFold(strings.TrimSpace(c.Service), entry) {
			return entry, nil
		}
	}
	return "", nil
}

func buildClassifierPrompt(catalogue []string) string {
	var list strings.Builder
	for _, entry := range catalogue {
		fmt.Fprintf(&list, "- %s\n", entry)
	}
	return fmt.Sprintf(`Role: Ты диспетчер сервиса по бурению и обслуживанию скважин.
Задача: определи, какая услуга из каталога нужна клиенту.

Каталог:
%s
RULES:
1. Выбирай строго одну услугу из каталога, копируя название дословно.
2. Если запрос не относится ни к одной услуге, верни пустую строку в "service".
3. "confidence" это твоя уверенность от 0 до 1.

Output JSON Schema:
{"service": "string", "confidence": number}`, list.String())
}

// cleanJSONString removes markdown code blocks if present (e.g. ```json ... ```)
func cleanJSONString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.TrimPrefix(input, "```json")
	input = strings.TrimPrefix(input, "```")
	input = strings.TrimSuffix(input, "```")
	return strings.TrimSpace(input)
}
