package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// blockDelimiter separates context blocks in the LLM prompt.
const blockDelimiter = "\n\n---\n\n"

// systemPrompt constrains the model to the retrieved context.
const systemPrompt = `You are a codebase assistant. Answer the question using ONLY the ` +
	`provided context from the indexed repositories. Cite file paths when you ` +
	`reference code. If the context is insufficient to answer, say "not ` +
	`available in the indexed codebase" rather than guessing.`

// Generator produces a natural-language answer from a system and user
// prompt. Satisfied by the OpenAI client and by test doubles.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// OpenAIGenerator calls the OpenAI chat completions API.
type OpenAIGenerator struct {
	client openai.Client
	model  string
}

// NewOpenAIGenerator creates a generator for the given chat model.
func NewOpenAIGenerator(apiKey, model string) *OpenAIGenerator {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIGenerator{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Generate runs one chat completion.
func (g *OpenAIGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	comp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Model: openai.ChatModel(g.model),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(comp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return comp.Choices[0].Message.Content, nil
}

// Composer builds the LLM context from fused matches and renders the final
// answer with a provenance footer.
type Composer struct {
	generator Generator
}

// NewComposer creates an answer composer.
func NewComposer(generator Generator) *Composer {
	return &Composer{generator: generator}
}

// Compose answers the query from the fused results. With no results the
// composer short-circuits without an LLM call.
func (c *Composer) Compose(ctx context.Context, queryText string, results []Result, repositories []string) (string, error) {
	if len(results) == 0 {
		return "not available in the indexed codebase" + footer(repositories, 0), nil
	}

	blocks := make([]string, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, fmt.Sprintf("File: %s\nRepository: %s\n\n%s",
			r.FilePath, r.Namespace, r.Content))
	}

	user := fmt.Sprintf("Context:\n\n%s\n\nQuestion: %s",
		strings.Join(blocks, blockDelimiter), queryText)

	answer, err := c.generator.Generate(ctx, systemPrompt, user)
	if err != nil {
		return "", fmt.Errorf("compose answer: %w", err)
	}
	return answer + footer(repositories, len(results)), nil
}

func footer(repositories []string, resultCount int) string {
	repos := "none"
	if len(repositories) > 0 {
		repos = strings.Join(repositories, ", ")
	}
	return fmt.Sprintf("\n\n---\nSearched repositories: %s (%d results used)", repos, resultCount)
}
