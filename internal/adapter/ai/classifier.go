package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github-star-manager/internal/common"
	"github-star-manager/internal/domain"
)

// 摘要最短长度，低于这个长度视为无效回复
const minSummaryLength = 10

// 最多保留的特性条目数
const maxKeyFeatures = 5

// Classifier 实现了 port.Classifier 接口。
// AI 路径失败时总是回退到启发式分类，因此 Classify 不返回错误
type Classifier struct {
	provider   Provider
	categories []string
	fallback   string
	maxRetries int
	retryDelay time.Duration

	// 单次运行内的结果缓存，按仓库 id 去重
	mu     sync.Mutex
	cache  map[int64]*domain.ClassificationResult
	hits   int
	misses int
}

// NewClassifier 创建分类器。provider 为 nil 时只使用启发式分类
func NewClassifier(p Provider, categories []string, fallbackCategory string, maxRetries int, retryDelay time.Duration) *Classifier {
	return &Classifier{
		provider:   p,
		categories: categories,
		fallback:   fallbackCategory,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		cache:      make(map[int64]*domain.ClassificationResult),
	}
}

// Classify 对单个仓库进行分类和摘要生成
func (c *Classifier) Classify(ctx context.Context, repo *domain.Repo) *domain.ClassificationResult {
	c.mu.Lock()
	if cached, ok := c.cache[repo.ID]; ok {
		c.hits++
		c.mu.Unlock()
		return cached
	}
	c.misses++
	c.mu.Unlock()

	res := c.classifyOnce(ctx, repo)

	c.mu.Lock()
	c.cache[repo.ID] = res
	c.mu.Unlock()
	return res
}

// CacheStats 返回缓存命中/未命中计数
func (c *Classifier) CacheStats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *Classifier) classifyOnce(ctx context.Context, repo *domain.Repo) *domain.ClassificationResult {
	if c.provider == nil {
		return c.Heuristic(repo)
	}

	prompt := c.buildPrompt(repo)

	var reply string
	err := common.Do(ctx, func() error {
		var callErr error
		reply, callErr = c.provider.Complete(ctx, prompt)
		return callErr
	},
		common.WithMaxRetries(c.maxRetries),
		common.WithInitialDelay(c.retryDelay),
		common.WithMaxDelay(60*time.Second),
	)
	if err != nil {
		log.Printf("❌ AI 分类 %s 失败: %v，回退到启发式分类", repo.FullName, err)
		return c.Heuristic(repo)
	}

	parsed, err := ExtractJSON(reply)
	if err != nil {
		log.Printf("⚠️ 无法从 AI 回复中提取 JSON (%s): %v，回退到启发式分类", repo.FullName, err)
		return c.Heuristic(repo)
	}

	res, err := c.validate(parsed)
	if err != nil {
		log.Printf("⚠️ AI 回复未通过校验 (%s): %v，回退到启发式分类", repo.FullName, err)
		return c.Heuristic(repo)
	}
	return res
}

// buildPrompt 构造分类提示词 (要求返回固定 JSON 形状)
func (c *Classifier) buildPrompt(repo *domain.Repo) string {
	description := repo.Description
	if description == "" {
		description = "无描述"
	}
	language := repo.Language
	if language == "" {
		language = "未知"
	}
	topics := "无"
	if len(repo.Topics) > 0 {
		topics = strings.Join(repo.Topics, ", ")
	}

	return fmt.Sprintf(`请分析以下GitHub项目，并提供分类和摘要：

项目名称: %s
项目描述: %s
主要语言: %s
项目主题: %s
Star数量: %d
Fork数量: %d
项目URL: %s

请从以下类别中选择最合适的一个：%s

请以JSON格式返回以下内容：
1. category: 从上述类别中选择的最合适分类
2. summary: 项目的简短摘要（不超过100字）
3. key_features: 项目的主要特点（列出3-5点）

只返回JSON格式的结果，不要有其他文字。`,
		repo.Name, description, language, topics,
		repo.Stars, repo.Forks, repo.HTMLURL,
		strings.Join(c.categories, "、"))
}

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ExtractJSON 从 AI 回复中按三种策略依次提取 JSON 对象:
// 整体解析 → 围栏代码块 → 第一个 {...} 区间。第一个成功的策略生效
func ExtractJSON(text string) (map[string]json.RawMessage, error) {
	text = strings.TrimSpace(text)

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		return obj, nil
	}

	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		if err := json.Unmarshal([]byte(m[1]), &obj); err == nil {
			return obj, nil
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err == nil {
			return obj, nil
		}
	}

	return nil, common.NewError(common.ErrCodeAIProcessing, fmt.Sprintf("无法提取 JSON, AI 原文: %s", truncate([]byte(text), 200)))
}

// validate 校验解析出来的对象：三个字段齐全、分类在枚举内、摘要长度合理
func (c *Classifier) validate(obj map[string]json.RawMessage) (*domain.ClassificationResult, error) {
	rawCategory, ok := obj["category"]
	if !ok {
		return nil, fmt.Errorf("缺少 category 字段")
	}
	rawSummary, ok := obj["summary"]
	if !ok {
		return nil, fmt.Errorf("缺少 summary 字段")
	}
	rawFeatures, ok := obj["key_features"]
	if !ok {
		return nil, fmt.Errorf("缺少 key_features 字段")
	}

	var category, summary string
	if err := json.Unmarshal(rawCategory, &category); err != nil {
		return nil, fmt.Errorf("category 不是字符串: %w", err)
	}
	if err := json.Unmarshal(rawSummary, &summary); err != nil {
		return nil, fmt.Errorf("summary 不是字符串: %w", err)
	}
	var features []string
	if err := json.Unmarshal(rawFeatures, &features); err != nil {
		return nil, fmt.Errorf("key_features 不是字符串列表: %w", err)
	}

	summary = strings.TrimSpace(summary)
	if len([]rune(summary)) < minSummaryLength {
		return nil, fmt.Errorf("摘要过短: %q", summary)
	}

	matched, ok := c.matchCategory(category)
	if !ok {
		return nil, fmt.Errorf("分类 %q 不在配置的枚举内", category)
	}

	if len(features) > maxKeyFeatures {
		features = features[:maxKeyFeatures]
	}

	return &domain.ClassificationResult{
		Category:    matched,
		Summary:     summary,
		KeyFeatures: features,
	}, nil
}

// matchCategory 先精确匹配，失败再做子串模糊匹配
func (c *Classifier) matchCategory(category string) (string, bool) {
	category = strings.TrimSpace(category)
	if category == "" {
		return "", false
	}
	for _, cat := range c.categories {
		if cat == category {
			return cat, true
		}
	}
	for _, cat := range c.categories {
		if strings.Contains(category, cat) || strings.Contains(cat, category) {
			return cat, true
		}
	}
	return "", false
}
