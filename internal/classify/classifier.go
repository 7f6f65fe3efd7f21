// Package classify produces an AI-generated summary and genre for an
// archived page using an OpenAI-compatible chat completions endpoint.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/c9-archive/internet-archiver/internal/archive"
)

const (
	defaultModel        = "gpt-4o-mini"
	defaultBaseURL      = "https://api.openai.com"
	defaultMaxHTMLBytes = 40000
)

// GenreUnknown is recorded when the model's answer matches none of the
// known categories.
const GenreUnknown = "N/A"

// Genres is the fixed category list a page can be classified into.
var Genres = []string{
	"News",
	"Social Media",
	"E-commerce",
	"Blogs",
	"Educational",
	"Entertainment",
	"Business/Corporate",
	"Government",
	"Health and Wellness",
	"Technology",
	"Forums/Communities",
	"Sports",
	"Personal Portfolio",
	"Travel",
	"Food and Cooking",
	"Fashion and Lifestyle",
	"Gaming",
	"Weather",
}

const summaryPrompt = `You are an elite web content curator, renowned for crafting compelling and succinct summaries of web pages. Your task is to create a summary of the HTML document you receive, capturing the essence of the webpage's content in a way that is informative and engaging for users of an internet archive. Start the description with the core theme or purpose of the page and keep it concise.`

// Classifier generates page summaries and genres via chat completions.
type Classifier struct {
	apiKey       string
	model        string
	baseURL      string
	httpClient   *http.Client
	maxHTMLBytes int
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithModel sets the model to use.
func WithModel(model string) Option {
	return func(c *Classifier) {
		c.model = model
	}
}

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *Classifier) {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithMaxHTMLBytes caps how much of the document is sent in the prompt.
func WithMaxHTMLBytes(n int) Option {
	return func(c *Classifier) {
		c.maxHTMLBytes = n
	}
}

// New creates a chat-completions-backed Classifier.
func New(apiKey string, opts ...Option) *Classifier {
	c := &Classifier{
		apiKey:       apiKey,
		model:        defaultModel,
		baseURL:      defaultBaseURL,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		maxHTMLBytes: defaultMaxHTMLBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify generates the summary and genre for an HTML document. The two
// completions run sequentially; an error from either fails the whole call
// so the caller can decide to proceed without classification.
func (c *Classifier) Classify(ctx context.Context, html []byte) (archive.Classification, error) {
	content := truncate(string(html), c.maxHTMLBytes)

	summary, err := c.complete(ctx, summaryPrompt,
		fmt.Sprintf("Please summarise this webpage as instructed: %s.", content))
	if err != nil {
		return archive.Classification{}, fmt.Errorf("generate summary: %w", err)
	}

	genreAnswer, err := c.complete(ctx, genrePrompt(),
		fmt.Sprintf("Please get the category of this webpage as instructed: %s. Please answer directly with category.", content))
	if err != nil {
		return archive.Classification{}, fmt.Errorf("generate genre: %w", err)
	}

	return archive.Classification{
		Summary: strings.TrimSpace(summary),
		Genre:   MatchGenre(genreAnswer),
	}, nil
}

// MatchGenre maps a free-text model answer onto the fixed category list by
// substring containment, first match wins.
func MatchGenre(answer string) string {
	for _, genre := range Genres {
		if strings.Contains(answer, genre) {
			return genre
		}
	}
	return GenreUnknown
}

func genrePrompt() string {
	var b strings.Builder
	b.WriteString("Here are the website categories used by an internet archive:\n\n")
	for _, genre := range Genres {
		b.WriteString(genre)
		b.WriteString("\n")
	}
	b.WriteString("\nYour job is to classify an html document into one of these categories.")
	return b.String()
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}

// --- chat completions wire types ---

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

func (c *Classifier) complete(ctx context.Context, system, user string) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := c.baseURL + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return parsed.Choices[0].Message.Content, nil
}
