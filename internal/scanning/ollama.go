package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Ollama implements the Scanner interface using a self-hosted Ollama server.
// Vision-capable models like llava or qwen2-vl work best; smaller models may
// lean harder on the repair pass.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a new Ollama Scanner instance
func NewOllama(baseURL string, modelName string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}

	return &Ollama{
		baseURL: baseURL,
		model:   modelName,
		client: &http.Client{
			Timeout: 120 * time.Second, // local vision models are slow
		},
	}, nil
}

// ollamaChatRequest represents the request body for Ollama's chat API
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Images   []string        `json:"images,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ollamaChatResponse represents the response from Ollama's chat API
type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// ScanBOM extracts BOM items from a document via Ollama, one page per call
func (o *Ollama) ScanBOM(documentData []byte, contentType string) (*Result, error) {
	pages, err := documentPages(documentData, contentType)
	if err != nil {
		return nil, err
	}

	result := &Result{Items: []Item{}, Warnings: []string{}}
	for i, page := range pages {
		pageNum := i + 1

		text, err := o.chatPage(page, pageNum)
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

// chatPage sends one page image to Ollama's chat API, retrying once on
// transport failure.
func (o *Ollama) chatPage(pngData []byte, pageNum int) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			slog.Warn("Retrying ollama call", "page", pageNum, "error", lastErr)
			time.Sleep(upstreamRetryBackoff)
		}

		text, err := o.chatOnce(pngData, pageNum)
		if err == nil {
			return text, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, lastErr)
}

func (o *Ollama) chatOnce(pngData []byte, pageNum int) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Messages: []ollamaMessage{
			{
				Role:    "system",
				Content: "You are an expert at reading military supply documents, component listings, and hand receipts. You must carefully read all text in images and extract accurate information.",
			},
			{
				Role:    "user",
				Content: fmt.Sprintf("Page %d: %s", pageNum, bomExtractPrompt),
			},
		},
		Images: []string{base64.StdEncoding.EncodeToString(pngData)},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	return chatResp.Message.Content, nil
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}
