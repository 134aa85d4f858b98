package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini-backed classifier.
type GeminiConfig struct {
	APIKey string
	Model  string
	// RequestsPerMinute caps the client-side call rate. Zero disables the
	// limiter.
	RequestsPerMinute int
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:            apiKey,
		Model:             "gemini-2.5-flash",
		RequestsPerMinute: 10,
	}
}

// GeminiClassifier classifies conversation batches via the Gemini API.
type GeminiClassifier struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
}

// NewGeminiClassifier creates a classifier from config.
func NewGeminiClassifier(ctx context.Context, config GeminiConfig) (*GeminiClassifier, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	model := strings.TrimSpace(config.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: config.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	var limiter *rate.Limiter
	if config.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(config.RequestsPerMinute)/60.0), 1)
	}

	return &GeminiClassifier{client: client, model: model, limiter: limiter}, nil
}

// wire shapes for the model's JSON reply
type replyItem struct {
	ID         string   `json:"id"`
	Project    string   `json:"project"`
	Tags       []string `json:"tags"`
	Confidence int      `json:"confidence"` // 0-100 in the prompt contract
	Rationale  string   `json:"rationale"`
}

// Classify submits one batch. Replies are filtered to known conversation IDs
// and the allowed project set; confidence is normalized to [0,1].
func (c *GeminiClassifier) Classify(ctx context.Context, batch []Request, projects []string, descriptions map[string]string) ([]Result, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	text, err := c.generate(ctx, buildClassifyPrompt(batch, projects, descriptions))
	if err != nil {
		return nil, err
	}

	var items []replyItem
	if err := json.Unmarshal([]byte(stripFences(text)), &items); err != nil {
		return nil, fmt.Errorf("failed to parse classification reply: %w", err)
	}

	batchIDs := make(map[string]bool, len(batch))
	for _, req := range batch {
		batchIDs[req.ID] = true
	}
	projectSet := make(map[string]bool, len(projects))
	for _, p := range projects {
		projectSet[p] = true
	}

	var results []Result
	for _, item := range items {
		if !batchIDs[item.ID] {
			continue
		}
		project := item.Project
		if !projectSet[project] {
			project = ""
		}
		var tags []string
		for _, t := range item.Tags {
			if projectSet[t] && t != project {
				tags = append(tags, t)
			}
		}
		confidence := item.Confidence
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 100 {
			confidence = 100
		}
		results = append(results, Result{
			ID:         item.ID,
			Project:    project,
			Tags:       tags,
			Confidence: float64(confidence) / 100.0,
			Rationale:  item.Rationale,
		})
	}
	return results, nil
}

// DescribeProjects asks the model what each project is actually about, based
// on conversations already assigned to it.
func (c *GeminiClassifier) DescribeProjects(ctx context.Context, projects []string, samples map[string][]Request) (map[string]string, error) {
	text, err := c.generate(ctx, buildDescribePrompt(projects, samples))
	if err != nil {
		return nil, err
	}
	var descriptions map[string]string
	if err := json.Unmarshal([]byte(stripFences(text)), &descriptions); err != nil {
		return nil, fmt.Errorf("failed to parse project descriptions: %w", err)
	}
	return descriptions, nil
}

func (c *GeminiClassifier) generate(ctx context.Context, prompt string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.1),
	})
	if err != nil {
		return "", fmt.Errorf("Gemini generate failed: %w", err)
	}
	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty reply from model")
	}
	return text, nil
}

var fenceRe = regexp.MustCompile("(?s)^```(?:json)?\\s*\n?(.*?)\n?\\s*```$")

// stripFences removes an optional markdown code fence around a JSON reply.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}
