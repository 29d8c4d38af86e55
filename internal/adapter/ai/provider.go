package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github-star-manager/internal/common"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Provider 把各家 AI 服务的响应形状归一成一段纯文本补全。
// 分支差异收敛在这里，调用链上只有一种形状
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// NewProvider 根据配置的服务商名称构造 Provider。
// 支持 openai (chat/completions 形状)、cloudflare (workers-ai 形状)、gemini
func NewProvider(ctx context.Context, name, apiURL, apiKey, accountID, model string, maxTokens int, temperature float64, timeout time.Duration) (Provider, error) {
	switch name {
	case "openai":
		return &openaiProvider{
			apiURL:      apiURL,
			apiKey:      apiKey,
			model:       model,
			maxTokens:   maxTokens,
			temperature: temperature,
			httpClient:  &http.Client{Timeout: timeout},
		}, nil
	case "cloudflare":
		if accountID == "" {
			return nil, common.NewError(common.ErrCodeConfig, "cloudflare provider 需要设置 AI_ACCOUNT_ID")
		}
		return &cloudflareProvider{
			accountID:  accountID,
			apiKey:     apiKey,
			model:      model,
			httpClient: &http.Client{Timeout: timeout},
		}, nil
	case "gemini":
		client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
		if err != nil {
			return nil, common.WrapError(common.ErrCodeAIProcessing, "Gemini 客户端初始化失败", err)
		}
		m := client.GenerativeModel(model)
		// 强制要求返回 JSON，降低解析错误的概率
		m.ResponseMIMEType = "application/json"
		return &geminiProvider{client: client, model: m}, nil
	default:
		return nil, common.NewError(common.ErrCodeConfig, fmt.Sprintf("未知的 AI provider: %q", name))
	}
}

// --- openai 形状 ---

type openaiProvider struct {
	apiURL      string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *openaiProvider) Complete(ctx context.Context, prompt string) (string, error) {
	body := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: "你是一个专业的GitHub项目分析助手，擅长对项目进行分类和生成摘要。"},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	}

	raw, err := postJSON(ctx, p.httpClient, p.apiURL, p.apiKey, body)
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", common.WrapError(common.ErrCodeAIProcessing, "解析 AI 响应失败", err)
	}
	if len(resp.Choices) == 0 {
		return "", common.NewError(common.ErrCodeAIProcessing, "AI 返回内容为空")
	}
	return resp.Choices[0].Message.Content, nil
}

// --- cloudflare workers-ai 形状 ---

type cloudflareProvider struct {
	accountID  string
	apiKey     string
	model      string
	httpClient *http.Client
}

type cloudflareRequest struct {
	Input string `json:"input"`
}

type cloudflareResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Response string `json:"response"`
	} `json:"result"`
}

func (p *cloudflareProvider) Complete(ctx context.Context, prompt string) (string, error) {
	url := fmt.Sprintf("https://api.cloudflare.com/client/v4/accounts/%s/ai/run/%s", p.accountID, p.model)

	raw, err := postJSON(ctx, p.httpClient, url, p.apiKey, cloudflareRequest{Input: prompt})
	if err != nil {
		return "", err
	}

	var resp cloudflareResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", common.WrapError(common.ErrCodeAIProcessing, "解析 AI 响应失败", err)
	}
	if !resp.Success || resp.Result.Response == "" {
		return "", common.NewError(common.ErrCodeAIProcessing, "AI 返回内容为空")
	}
	return resp.Result.Response, nil
}

// --- gemini (genai SDK) ---

type geminiProvider struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func (p *geminiProvider) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := p.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", common.WrapError(common.ErrCodeAIProcessing, "AI 调用失败", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", common.NewError(common.ErrCodeAIProcessing, "AI 返回内容为空")
	}
	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return "", common.NewError(common.ErrCodeAIProcessing, "AI 返回格式错误")
	}
	return string(text), nil
}

// postJSON 发送带 Bearer 认证的 JSON 请求，并把 HTTP 状态映射成重试策略:
// 429 携带 Retry-After、5xx 可重试、其余 4xx 永久失败
func postJSON(ctx context.Context, client *http.Client, url, apiKey string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, common.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, common.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		// 超时和连接错误都可以重试
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return raw, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		err := common.NewError(common.ErrCodeAIProcessing, fmt.Sprintf("API 限流 (429): %s", truncate(raw, 200)))
		if delay := parseRetryAfter(resp.Header.Get("Retry-After")); delay > 0 {
			return nil, common.RetryAfter(delay, err)
		}
		return nil, err
	case resp.StatusCode >= 500:
		return nil, common.NewError(common.ErrCodeAIProcessing, fmt.Sprintf("API 服务端错误 (%d): %s", resp.StatusCode, truncate(raw, 200)))
	default:
		return nil, common.Permanent(common.NewError(common.ErrCodeAIProcessing, fmt.Sprintf("API 调用失败 (%d): %s", resp.StatusCode, truncate(raw, 200))))
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func truncate(raw []byte, n int) string {
	s := string(raw)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
