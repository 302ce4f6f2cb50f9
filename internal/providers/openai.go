package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// OpenAI speaks the OpenAI-compatible chat completions API. BaseURL lets the
// same client serve OpenRouter, local gateways, and other compatible hosts.
type OpenAI struct {
	APIKey  string
	BaseURL string
	client  *http.Client

	// label overrides Name for compatible hosts.
	label string
}

// NewOpenAI builds a client. baseURL defaults to api.openai.com.
func NewOpenAI(apiKey, baseURL string) *OpenAI {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAI{
		APIKey:  apiKey,
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
		label:   "openai",
	}
}

// NewOpenAICompatible builds a client for a compatible host under its own name.
func NewOpenAICompatible(name, apiKey, baseURL string) *OpenAI {
	p := NewOpenAI(apiKey, baseURL)
	p.label = name
	return p
}

func (p *OpenAI) Name() string { return p.label }

type oaMessage struct {
	Role       string          `json:"role"`
	Content    any             `json:"content,omitempty"`
	ToolCalls  []oaToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Reasoning  json.RawMessage `json:"reasoning,omitempty"`
}

type oaToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

func (p *OpenAI) buildBody(req *ChatRequest, stream bool) map[string]any {
	msgs := make([]oaMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, oaMessage{Role: RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		om := oaMessage{Role: m.Role}
		switch {
		case len(m.Images) > 0:
			parts := []oaContentPart{}
			if m.Content != "" {
				parts = append(parts, oaContentPart{Type: "text", Text: m.Content})
			}
			for _, img := range m.Images {
				part := oaContentPart{Type: "image_url"}
				part.ImageURL = &struct {
					URL string `json:"url"`
				}{URL: fmt.Sprintf("data:%s;base64,%s",
					img.MimeType, base64.StdEncoding.EncodeToString(img.Data))}
				parts = append(parts, part)
			}
			om.Content = parts
		case m.Role == RoleTool:
			om.ToolCallID = m.ToolCallID
			om.Name = m.ToolName
			om.Content = m.Content
		default:
			om.Content = m.Content
		}
		for _, tc := range m.ToolCalls {
			otc := oaToolCall{ID: tc.ID, Type: "function"}
			otc.Function.Name = tc.Name
			otc.Function.Arguments = tc.Arguments
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		msgs = append(msgs, om)
	}

	body := map[string]any{
		"model":    req.Model,
		"messages": msgs,
	}
	if stream {
		body["stream"] = true
		body["stream_options"] = map[string]any{"include_usage": true}
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.Parameters,
				},
			})
		}
		body["tools"] = tools
	}

	pp := req.Params
	if pp.Temperature != nil {
		body["temperature"] = *pp.Temperature
	}
	if pp.MaxTokens > 0 {
		body["max_tokens"] = pp.MaxTokens
	}
	if pp.TopP != nil {
		body["top_p"] = *pp.TopP
	}
	if pp.FrequencyPenalty != nil {
		body["frequency_penalty"] = *pp.FrequencyPenalty
	}
	if pp.PresencePenalty != nil {
		body["presence_penalty"] = *pp.PresencePenalty
	}
	if len(pp.StopSequences) > 0 {
		body["stop"] = pp.StopSequences
	}
	if pp.ThinkingBudget != nil && *pp.ThinkingBudget != 0 {
		// OpenAI-compatible hosts expose reasoning effort, not budgets.
		effort := "medium"
		if *pp.ThinkingBudget > 0 && *pp.ThinkingBudget <= 4096 {
			effort = "low"
		} else if *pp.ThinkingBudget > 16384 {
			effort = "high"
		}
		body["reasoning_effort"] = effort
	}
	return body
}

func (p *OpenAI) post(ctx context.Context, path string, body any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(p.label, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyHTTP(p.label, resp.StatusCode, string(data), resp.Header)
	}
	return resp, nil
}

// Chat performs a blocking completion.
func (p *OpenAI) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	resp, err := p.post(ctx, "/chat/completions", p.buildBody(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed struct {
		Choices []struct {
			Message struct {
				Content   string       `json:"content"`
				Reasoning string       `json:"reasoning"`
				ToolCalls []oaToolCall `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &Error{Kind: KindUnknown, Provider: p.label, Message: "decode response: " + err.Error()}
	}
	if len(parsed.Choices) == 0 {
		return nil, &Error{Kind: KindEmptyResponse, Provider: p.label, Message: "no choices in response"}
	}

	choice := parsed.Choices[0]
	out := &ChatResponse{
		Content:    choice.Message.Content,
		Thinking:   choice.Message.Reasoning,
		StopReason: choice.FinishReason,
		Usage: Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments,
		})
	}
	if out.Content == "" && len(out.ToolCalls) == 0 {
		return nil, &Error{Kind: KindEmptyResponse, Provider: p.label, Message: "empty completion"}
	}
	return out, nil
}

// toolCallAccumulator assembles streamed tool call fragments keyed by index.
type toolCallAccumulator struct {
	calls map[int]*ToolCall
}

func (a *toolCallAccumulator) add(index int, id, name, args string) {
	if a.calls == nil {
		a.calls = make(map[int]*ToolCall)
	}
	c, ok := a.calls[index]
	if !ok {
		c = &ToolCall{}
		a.calls[index] = c
	}
	if id != "" {
		c.ID = id
	}
	if name != "" {
		c.Name = name
	}
	c.Arguments += args
}

func (a *toolCallAccumulator) finish() []ToolCall {
	if len(a.calls) == 0 {
		return nil
	}
	idx := make([]int, 0, len(a.calls))
	for i := range a.calls {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	out := make([]ToolCall, 0, len(idx))
	for _, i := range idx {
		out = append(out, *a.calls[i])
	}
	return out
}

// ChatStream performs a streaming completion, invoking onChunk per text delta.
func (p *OpenAI) ChatStream(ctx context.Context, req *ChatRequest, onChunk func(string)) (*ChatResponse, error) {
	resp, err := p.post(ctx, "/chat/completions", p.buildBody(req, true))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var (
		content    strings.Builder
		thinking   strings.Builder
		acc        toolCallAccumulator
		stopReason string
		usage      Usage
	)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content   string `json:"content"`
					Reasoning string `json:"reasoning"`
					ToolCalls []struct {
						Index    int    `json:"index"`
						ID       string `json:"id"`
						Function struct {
							Name      string `json:"name"`
							Arguments string `json:"arguments"`
						} `json:"function"`
					} `json:"tool_calls"`
				} `json:"delta"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
			Usage *struct {
				PromptTokens     int `json:"prompt_tokens"`
				CompletionTokens int `json:"completion_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				content.WriteString(choice.Delta.Content)
				if onChunk != nil {
					onChunk(choice.Delta.Content)
				}
			}
			if choice.Delta.Reasoning != "" {
				thinking.WriteString(choice.Delta.Reasoning)
			}
			for _, tc := range choice.Delta.ToolCalls {
				acc.add(tc.Index, tc.ID, tc.Function.Name, tc.Function.Arguments)
			}
			if choice.FinishReason != "" {
				stopReason = choice.FinishReason
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, classifyTransport(p.label, err)
	}

	out := &ChatResponse{
		Content:    content.String(),
		Thinking:   thinking.String(),
		ToolCalls:  acc.finish(),
		StopReason: stopReason,
		Usage:      usage,
	}
	if out.Content == "" && len(out.ToolCalls) == 0 {
		return nil, &Error{Kind: KindEmptyResponse, Provider: p.label, Message: "empty stream"}
	}
	return out, nil
}

// OpenAIEmbedder calls the embeddings endpoint.
type OpenAIEmbedder struct {
	client *OpenAI
	model  string
	dim    int
}

// NewOpenAIEmbedder builds an embedder; dim must match the model.
func NewOpenAIEmbedder(apiKey, baseURL, model string, dim int) *OpenAIEmbedder {
	if model == "" {
		model = "text-embedding-3-small"
	}
	if dim <= 0 {
		dim = 1536
	}
	return &OpenAIEmbedder{client: NewOpenAI(apiKey, baseURL), model: model, dim: dim}
}

func (e *OpenAIEmbedder) Dim() int { return e.dim }

// Embed returns one vector per input text, in order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.post(ctx, "/embeddings", map[string]any{
		"model": e.model,
		"input": texts,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &Error{Kind: KindUnknown, Provider: "openai", Message: "decode embeddings: " + err.Error()}
	}
	if len(parsed.Data) != len(texts) {
		return nil, &Error{Kind: KindEmptyResponse, Provider: "openai",
			Message: fmt.Sprintf("got %d embeddings for %d inputs", len(parsed.Data), len(texts))}
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
