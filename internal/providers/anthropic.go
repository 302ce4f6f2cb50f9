package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

const anthropicVersion = "2023-06-01"

// Anthropic speaks the Messages API.
type Anthropic struct {
	APIKey  string
	BaseURL string
	client  *http.Client
}

// NewAnthropic builds a client. baseURL defaults to api.anthropic.com.
func NewAnthropic(apiKey, baseURL string) *Anthropic {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	return &Anthropic{
		APIKey:  apiKey,
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *Anthropic) Name() string { return "anthropic" }

type anthContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// image
	Source *anthImageSource `json:"source,omitempty"`
}

type anthImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthMessage struct {
	Role    string        `json:"role"`
	Content []anthContent `json:"content"`
}

func (p *Anthropic) buildBody(req *ChatRequest, stream bool) map[string]any {
	msgs := make([]anthMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleTool:
			// Tool results ride in a user message.
			msgs = append(msgs, anthMessage{Role: RoleUser, Content: []anthContent{{
				Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content,
			}}})
		case RoleAssistant:
			parts := []anthContent{}
			if m.Content != "" {
				parts = append(parts, anthContent{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := json.RawMessage(tc.Arguments)
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				parts = append(parts, anthContent{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
			if len(parts) == 0 {
				continue
			}
			msgs = append(msgs, anthMessage{Role: RoleAssistant, Content: parts})
		default:
			parts := []anthContent{}
			if m.Content != "" {
				parts = append(parts, anthContent{Type: "text", Text: m.Content})
			}
			for _, img := range m.Images {
				parts = append(parts, anthContent{Type: "image", Source: &anthImageSource{
					Type:      "base64",
					MediaType: img.MimeType,
					Data:      base64.StdEncoding.EncodeToString(img.Data),
				}})
			}
			if len(parts) == 0 {
				parts = append(parts, anthContent{Type: "text", Text: " "})
			}
			msgs = append(msgs, anthMessage{Role: RoleUser, Content: parts})
		}
	}

	maxTokens := req.Params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	body := map[string]any{
		"model":      req.Model,
		"max_tokens": maxTokens,
		"messages":   msgs,
	}
	if stream {
		body["stream"] = true
	}
	if req.System != "" {
		body["system"] = req.System
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": t.Parameters,
			})
		}
		body["tools"] = tools
	}

	pp := req.Params
	if pp.Temperature != nil {
		body["temperature"] = *pp.Temperature
	}
	if pp.TopP != nil {
		body["top_p"] = *pp.TopP
	}
	if pp.TopK != nil {
		body["top_k"] = *pp.TopK
	}
	if len(pp.StopSequences) > 0 {
		body["stop_sequences"] = pp.StopSequences
	}
	if pp.ThinkingBudget != nil && *pp.ThinkingBudget != 0 {
		budget := *pp.ThinkingBudget
		if budget < 0 {
			budget = 8192
		}
		if budget < 1024 {
			budget = 1024
		}
		body["thinking"] = map[string]any{"type": "enabled", "budget_tokens": budget}
		// Extended thinking requires temperature 1.
		delete(body, "temperature")
		delete(body, "top_p")
		delete(body, "top_k")
	}
	return body
}

func (p *Anthropic) post(ctx context.Context, body any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/messages", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransport("anthropic", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyHTTP("anthropic", resp.StatusCode, string(data), resp.Header)
	}
	return resp, nil
}

// Chat performs a blocking completion.
func (p *Anthropic) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	resp, err := p.post(ctx, p.buildBody(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed struct {
		Content []struct {
			Type     string          `json:"type"`
			Text     string          `json:"text"`
			Thinking string          `json:"thinking"`
			ID       string          `json:"id"`
			Name     string          `json:"name"`
			Input    json.RawMessage `json:"input"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &Error{Kind: KindUnknown, Provider: "anthropic", Message: "decode response: " + err.Error()}
	}

	out := &ChatResponse{
		StopReason: parsed.StopReason,
		Usage: Usage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
		},
	}
	var text, thinking strings.Builder
	for _, c := range parsed.Content {
		switch c.Type {
		case "text":
			text.WriteString(c.Text)
		case "thinking":
			thinking.WriteString(c.Thinking)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID: c.ID, Name: c.Name, Arguments: string(c.Input),
			})
		}
	}
	out.Content = text.String()
	out.Thinking = thinking.String()
	if out.Content == "" && len(out.ToolCalls) == 0 {
		return nil, &Error{Kind: KindEmptyResponse, Provider: "anthropic", Message: "empty completion"}
	}
	return out, nil
}

// ChatStream performs a streaming completion over SSE.
func (p *Anthropic) ChatStream(ctx context.Context, req *ChatRequest, onChunk func(string)) (*ChatResponse, error) {
	resp, err := p.post(ctx, p.buildBody(req, true))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var (
		text, thinking strings.Builder
		toolCalls      []ToolCall
		toolArgs       strings.Builder
		curBlockType   string
		stopReason     string
		usage          Usage
	)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var ev struct {
			Type         string `json:"type"`
			ContentBlock struct {
				Type string `json:"type"`
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"content_block"`
			Delta struct {
				Type        string `json:"type"`
				Text        string `json:"text"`
				Thinking    string `json:"thinking"`
				PartialJSON string `json:"partial_json"`
				StopReason  string `json:"stop_reason"`
			} `json:"delta"`
			Usage struct {
				InputTokens  int `json:"input_tokens"`
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
			Message struct {
				Usage struct {
					InputTokens int `json:"input_tokens"`
				} `json:"usage"`
			} `json:"message"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "message_start":
			usage.InputTokens = ev.Message.Usage.InputTokens
		case "content_block_start":
			curBlockType = ev.ContentBlock.Type
			if curBlockType == "tool_use" {
				toolCalls = append(toolCalls, ToolCall{ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name})
				toolArgs.Reset()
			}
		case "content_block_delta":
			switch ev.Delta.Type {
			case "text_delta":
				text.WriteString(ev.Delta.Text)
				if onChunk != nil {
					onChunk(ev.Delta.Text)
				}
			case "thinking_delta":
				thinking.WriteString(ev.Delta.Thinking)
			case "input_json_delta":
				toolArgs.WriteString(ev.Delta.PartialJSON)
			}
		case "content_block_stop":
			if curBlockType == "tool_use" && len(toolCalls) > 0 {
				args := toolArgs.String()
				if args == "" {
					args = "{}"
				}
				toolCalls[len(toolCalls)-1].Arguments = args
			}
			curBlockType = ""
		case "message_delta":
			if ev.Delta.StopReason != "" {
				stopReason = ev.Delta.StopReason
			}
			if ev.Usage.OutputTokens > 0 {
				usage.OutputTokens = ev.Usage.OutputTokens
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, classifyTransport("anthropic", err)
	}

	out := &ChatResponse{
		Content:    text.String(),
		Thinking:   thinking.String(),
		ToolCalls:  toolCalls,
		StopReason: stopReason,
		Usage:      usage,
	}
	if out.Content == "" && len(out.ToolCalls) == 0 {
		return nil, &Error{Kind: KindEmptyResponse, Provider: "anthropic", Message: "empty stream"}
	}
	return out, nil
}
