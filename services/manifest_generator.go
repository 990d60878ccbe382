package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"wildlife-challenge-system/models"
)

// ManifestGenerator suggests, for a region, how likely each known animal is
// to be sighted there. Probabilities are on a 0..100 scale.
type ManifestGenerator interface {
	SuggestProbabilities(ctx context.Context, locationLabel string, animalNames []string) ([]models.ManifestEntry, error)
}

const manifestSystemPrompt = `You are a field ecologist. Given a location and a list of animal names,
estimate for EACH animal the probability (0-100) that a casual observer would sight it in that area
within a typical week. Use only names from the list, spelled exactly as given.
Respond with JSON only: {"animals":[{"name":"...","probability":0}]}`

// AIManifestClient calls an OpenAI compatible chat completions endpoint.
type AIManifestClient struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

func NewAIManifestClient(baseURL, apiKey, model string, timeout time.Duration) (*AIManifestClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("AI_API_KEY is required for manifest generation")
	}
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &AIManifestClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		Model:      model,
		HTTPClient: &http.Client{Timeout: timeout},
	}, nil
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *AIManifestClient) SuggestProbabilities(ctx context.Context, locationLabel string, animalNames []string) ([]models.ManifestEntry, error) {
	names, err := json.Marshal(animalNames)
	if err != nil {
		return nil, fmt.Errorf("marshaling animal names: %w", err)
	}

	reqBody := chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: manifestSystemPrompt},
			{Role: "user", Content: fmt.Sprintf("Location: %s\nAnimals: %s", locationLabel, names)},
		},
		Temperature:    0.2,
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("AI request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var apiResp chatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parsing response (status %d): %w", resp.StatusCode, err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("AI error (%s): %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("AI returned status %d: %.200s", resp.StatusCode, string(respBody))
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from AI")
	}

	return ParseManifestResponse(apiResp.Choices[0].Message.Content)
}

type manifestPayload struct {
	Animals []models.ManifestEntry `json:"animals"`
}

// ParseManifestResponse reads the model's text as JSON. It accepts the
// {"animals": [...]} object, a bare array, a brace-delimited substring, or a
// fenced code block.
func ParseManifestResponse(text string) ([]models.ManifestEntry, error) {
	text = strings.TrimSpace(text)

	candidates := []string{text}
	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			candidates = append(candidates, text[start:end+1])
		}
	}
	for _, fence := range []string{"```json", "```"} {
		if idx := strings.Index(text, fence); idx >= 0 {
			after := text[idx+len(fence):]
			if end := strings.Index(after, "```"); end >= 0 {
				candidates = append(candidates, strings.TrimSpace(after[:end]))
			}
		}
	}

	for _, c := range candidates {
		var obj manifestPayload
		if err := json.Unmarshal([]byte(c), &obj); err == nil && obj.Animals != nil {
			return obj.Animals, nil
		}
		var arr []models.ManifestEntry
		if err := json.Unmarshal([]byte(c), &arr); err == nil {
			return arr, nil
		}
	}
	return nil, fmt.Errorf("failed to parse manifest response as JSON: %.200s", text)
}
