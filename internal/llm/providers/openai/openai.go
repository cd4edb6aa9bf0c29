// internal/llm/providers/openai/openai.go
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Corphon/ScriptMaster/internal/llm"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	openRouterBaseURL  = "https://openrouter.ai/api/v1"
	defaultModel       = "gpt-3.5-turbo-16k"
	defaultHTTPTimeout = 120 * time.Second
)

func init() {
	llm.Register("openai", func() llm.Provider {
		return &Provider{
			name:    "OpenAI",
			baseURL: defaultBaseURL,
			recommendedModels: []string{
				"gpt-3.5-turbo-16k",
				"gpt-4o-mini",
				"gpt-4o",
				"gpt-4.1",
			},
		}
	})

	// OpenRouter 使用相同的 chat/completions 协议，只多了来源头
	llm.Register("openrouter", func() llm.Provider {
		return &Provider{
			name:    "OpenRouter",
			baseURL: openRouterBaseURL,
			recommendedModels: []string{
				"openai/gpt-4o-mini",
				"mistralai/mistral-small-3.1-24b-instruct:free",
				"google/gemma-3-27b-it:free",
			},
			extraHeaders: map[string]string{
				"HTTP-Referer": "https://github.com/Corphon/ScriptMaster",
				"X-Title":      "ScriptMaster",
			},
		}
	})
}

// Provider OpenAI 兼容的聊天补全提供者
type Provider struct {
	name              string
	apiKey            string
	baseURL           string
	client            *http.Client
	defaultModel      string
	recommendedModels []string
	extraHeaders      map[string]string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := config["api_key"]
	if apiKey == "" {
		return errors.New(p.name + " API密钥未提供")
	}
	p.apiKey = apiKey

	p.defaultModel = defaultModel
	if model := config["default_model"]; model != "" {
		p.defaultModel = model
	}

	if baseURL := config["base_url"]; baseURL != "" {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}

	timeout := defaultHTTPTimeout
	if raw := config["timeout_seconds"]; raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}
	p.client = &http.Client{Timeout: timeout}

	if referer := config["http_referer"]; referer != "" && p.extraHeaders != nil {
		p.extraHeaders["HTTP-Referer"] = referer
	}

	return nil
}

func (p *Provider) GetName() string {
	return p.name
}

func (p *Provider) GetSupportedModels() []string {
	return p.recommendedModels
}

// chatRequest chat/completions 请求体
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	TopP        float32       `json:"top_p,omitempty"`
}

// chatResponse chat/completions 响应体
type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	body := chatRequest{
		Model:       model,
		Messages:    req.Messages(),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, &llm.Error{Kind: llm.KindUnexpected, Provider: p.name, Message: "序列化请求失败", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, &llm.Error{Kind: llm.KindUnexpected, Provider: p.name, Message: "创建请求失败", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	for k, v := range p.extraHeaders {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, llm.ClassifyTransport(p.name, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, llm.ClassifyStatus(p.name, httpResp.StatusCode, string(respBody))
	}

	var response chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return nil, &llm.Error{Kind: llm.KindUnexpected, Provider: p.name, Message: "解析响应失败", Err: err}
	}

	if len(response.Choices) == 0 {
		return nil, &llm.Error{Kind: llm.KindUnexpected, Provider: p.name, Message: "未返回任何结果"}
	}

	modelName := response.Model
	if modelName == "" {
		modelName = model
	}

	return &llm.CompletionResponse{
		Text:         response.Choices[0].Message.Content,
		FinishReason: response.Choices[0].FinishReason,
		TokensUsed:   response.Usage.TotalTokens,
		PromptTokens: response.Usage.PromptTokens,
		OutputTokens: response.Usage.CompletionTokens,
		ModelName:    modelName,
		ProviderName: p.name,
	}, nil
}
