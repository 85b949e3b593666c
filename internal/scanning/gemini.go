package scanning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// upstreamRetryBackoff is the pause before the single retry of a failed
// provider call. Transport errors are often transient; identical inputs that
// produced unparsable output are not retried at all.
const upstreamRetryBackoff = 2 * time.Second

// Gemini implements the Scanner interface using Google Gemini
type Gemini struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	timeout time.Duration
}

// NewGemini creates a new Gemini Scanner instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client:  client,
		model:   client.GenerativeModel(modelName),
		timeout: 60 * time.Second,
	}, nil
}

// ScanBOM rasterizes the document and extracts items one page at a time,
// preserving page order and within-page row order.
func (g *Gemini) ScanBOM(documentData []byte, contentType string) (*Result, error) {
	pages, err := documentPages(documentData, contentType)
	if err != nil {
		return nil, err
	}

	result := &Result{Items: []Item{}, Warnings: []string{}}
	for i, page := range pages {
		pageNum := i + 1

		text, err := g.generatePage(page, pageNum)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", pageNum, err)
		}

		items, warnings, err := parseItems(text)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", pageNum, err)
		}
		if len(items) == 0 {
			result.Warnings = append(result.Warnings, fmt.Sprintf("page %d: no items found", pageNum))
		}

		result.Items = append(result.Items, items...)
		result.Warnings = append(result.Warnings, warnings...)
	}

	return result, nil
}

// generatePage sends one page image to the model and returns the raw text
// response, retrying once on transport failure.
func (g *Gemini) generatePage(pngData []byte, pageNum int) (string, error) {
	parts := []genai.Part{
		genai.ImageData("png", pngData),
		genai.Text(fmt.Sprintf("Page %d: %s", pageNum, bomExtractPrompt)),
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			slog.Warn("Retrying gemini call", "page", pageNum, "error", lastErr)
			time.Sleep(upstreamRetryBackoff)
		}

		text, err := g.generateOnce(parts)
		if err == nil {
			return text, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, lastErr)
}

func (g *Gemini) generateOnce(parts []genai.Part) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}
	return responseText.String(), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
