package postprocess

import (
	"context"
	"strings"
	"time"

	"voxscribe/internal/upstream/openai"
)

const DefaultSystemPrompt = "You are a helpful assistant tasked with refining an audio transcription."

const correctionInstructions = "Correct any spelling discrepancies, add necessary punctuation (periods, commas, capitalization), and ensure proper formatting. Only use the context provided in the transcript itself. Output only the corrected text."

const temperature = 0.2

type ChatClient interface {
	ChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Input struct {
	Transcript         string
	Dictionary         string
	CustomSystemPrompt string
	Model              string
}

type Result struct {
	Transcript string
	Usage      *TokenUsage
}

type Service struct {
	client       ChatClient
	defaultModel string
	timeout      time.Duration
}

func New(client ChatClient, defaultModel string, timeout time.Duration) *Service {
	return &Service{
		client:       client,
		defaultModel: strings.TrimSpace(defaultModel),
		timeout:      timeout,
	}
}

func (s *Service) Process(ctx context.Context, in Input) (Result, error) {
	model := strings.TrimSpace(in.Model)
	if model == "" {
		model = s.defaultModel
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	chatResp, err := s.client.ChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Temperature: temperature,
		Messages: []openai.ChatMessage{
			{Role: "system", Content: SystemPrompt(in.CustomSystemPrompt, in.Dictionary)},
			{Role: "user", Content: in.Transcript},
		},
	})
	if err != nil {
		return Result{}, err
	}

	result := Result{Transcript: sanitizePostProcessedTranscript(chatResp.Content)}
	if chatResp.Usage != nil {
		result.Usage = &TokenUsage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:      chatResp.Usage.TotalTokens,
		}
	}
	return result, nil
}

// SystemPrompt builds the instruction block: the caller's prompt (or the
// default), the dictionary terms, then the fixed correction rules.
func SystemPrompt(custom, dictionary string) string {
	prompt := strings.TrimSpace(custom)
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	if terms := normalizedVocabularyText(mergedVocabularyTerms(dictionary)); terms != "" {
		prompt += "\n\nEnsure the following terms are spelled correctly if they appear: " + terms
	}
	return prompt + "\n\n" + correctionInstructions
}

func sanitizePostProcessedTranscript(value string) string {
	result := strings.TrimSpace(value)
	if result == "" {
		return ""
	}
	if strings.HasPrefix(result, "\"") && strings.HasSuffix(result, "\"") && len(result) > 1 {
		result = strings.TrimSpace(strings.TrimPrefix(strings.TrimSuffix(result, "\""), "\""))
	}
	return result
}

func mergedVocabularyTerms(rawVocabulary string) []string {
	fields := strings.FieldsFunc(rawVocabulary, func(r rune) bool {
		return r == '\n' || r == ',' || r == ';'
	})

	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, field := range fields {
		term := strings.TrimSpace(field)
		if term == "" {
			continue
		}
		key := strings.ToLower(term)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		terms = append(terms, term)
	}
	return terms
}

func normalizedVocabularyText(vocabularyTerms []string) string {
	return strings.Join(vocabularyTerms, ", ")
}
