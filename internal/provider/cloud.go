package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kalambet/nexus/internal/chat"
	"github.com/kalambet/nexus/internal/config"
	"github.com/kalambet/nexus/internal/sse"
)

// cloudProvider streams from the Gemini generateContent API.
type cloudProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func (p *cloudProvider) Name() string { return config.ProviderCloud }

type geminiGenerateRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature    float64              `json:"temperature"`
	ThinkingConfig geminiThinkingConfig `json:"thinkingConfig"`
}

type geminiThinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

func (r geminiGenerateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, part := range r.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String()
}

// generationFor maps the performance profile to sampling settings.
func generationFor(profile string) geminiGenerationConfig {
	gc := geminiGenerationConfig{Temperature: 0.8}
	gc.ThinkingConfig.ThinkingBudget = 16000
	if profile == config.ProfileEco {
		gc.Temperature = 0.2
	}
	if profile == config.ProfilePerformance {
		gc.ThinkingConfig.ThinkingBudget = 32000
	}
	return gc
}

func buildGeminiRequest(req Request) geminiGenerateRequest {
	gr := geminiGenerateRequest{
		Contents:         make([]geminiContent, 0, len(req.History)),
		GenerationConfig: generationFor(req.Config.Performance.Profile),
	}
	if req.System != "" {
		gr.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	for _, m := range req.History {
		if m.Role == chat.RoleSystem {
			continue
		}
		role := "user"
		if m.Role == chat.RoleAssistant {
			role = "model"
		}
		gr.Contents = append(gr.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}
	return gr
}

func (p *cloudProvider) StreamChat(ctx context.Context, req Request, onDelta func(string), _ func(Progress)) (string, error) {
	body, err := json.Marshal(buildGeminiRequest(req))
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", p.baseURL, req.Config.Cloud.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", p.translate(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", remoteError(resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var full strings.Builder
	reader := sse.NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return full.String(), nil
		}
		if err != nil {
			return full.String(), transportError(err, "Cloud stream interrupted: %v", err)
		}
		var chunk geminiGenerateResponse
		if err := json.Unmarshal(ev.Data, &chunk); err != nil {
			continue
		}
		if text := chunk.text(); text != "" {
			full.WriteString(text)
			if onDelta != nil {
				onDelta(text)
			}
		}
	}
}

func (p *cloudProvider) translate(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return transportError(err, "Generation interrupted: %v", err)
	}
	return transportError(err, "Cloud API unreachable: %v", err)
}

type geminiModelList struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (p *cloudProvider) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, p.translate(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, remoteError(resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var list geminiModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	names := make([]string, len(list.Models))
	for i, m := range list.Models {
		names[i] = strings.TrimPrefix(m.Name, "models/")
	}
	return names, nil
}
