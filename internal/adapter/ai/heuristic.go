package ai

import (
	"strings"

	"github-star-manager/internal/domain"
)

// categoryKeywords 启发式分类的关键词表，按顺序匹配，先命中先得
type categoryKeywords struct {
	category string
	keywords []string
}

var heuristicTable = []categoryKeywords{
	{"前端开发", []string{"frontend", "front-end", "react", "vue", "angular", "javascript", "typescript", "html", "css", "ui", "ux"}},
	{"后端开发", []string{"backend", "back-end", "api", "server", "database", "django", "flask", "express", "spring", "node.js"}},
	{"全栈开发", []string{"fullstack", "full-stack", "web app", "webapp"}},
	{"移动应用开发", []string{"mobile", "android", "ios", "flutter", "react native", "swift", "kotlin"}},
	{"人工智能/机器学习", []string{"ai", "artificial intelligence", "machine learning", "ml", "deep learning", "neural", "tensorflow", "pytorch", "nlp", "llm"}},
	{"数据科学/分析", []string{"data science", "data analysis", "analytics", "visualization", "pandas", "jupyter", "statistics"}},
	{"DevOps/基础设施", []string{"devops", "ci/cd", "pipeline", "docker", "kubernetes", "k8s", "infrastructure", "deploy", "aws", "cloud"}},
	{"安全工具", []string{"security", "pentest", "penetration", "hacking", "vulnerability", "encryption"}},
	{"开发工具", []string{"tool", "utility", "plugin", "extension", "ide", "editor", "cli", "development tool"}},
	{"学习资源", []string{"tutorial", "course", "learning", "education", "book", "guide", "example", "awesome"}},
	{"区块链/Web3", []string{"blockchain", "web3", "crypto", "nft", "token", "ethereum", "bitcoin", "solidity"}},
	{"游戏开发", []string{"game", "unity", "unreal", "gaming"}},
	{"物联网", []string{"iot", "internet of things", "embedded", "arduino", "raspberry pi"}},
}

// Heuristic 启发式分类：用描述+语言+主题拼出的文本做关键词匹配，
// 全部未命中时落到默认分类
func (c *Classifier) Heuristic(repo *domain.Repo) *domain.ClassificationResult {
	allText := strings.ToLower(strings.Join([]string{
		repo.Description,
		repo.Language,
		strings.Join(repo.Topics, " "),
	}, " "))

	category := c.fallback
	for _, entry := range heuristicTable {
		if !c.categoryAllowed(entry.category) {
			continue
		}
		for _, keyword := range entry.keywords {
			if strings.Contains(allText, keyword) {
				category = entry.category
				break
			}
		}
		if category != c.fallback {
			break
		}
	}

	summary := repo.Description
	if summary == "" {
		summary = repo.FullName + " (暂无描述)"
	}

	return &domain.ClassificationResult{
		Category:    category,
		Summary:     summary,
		KeyFeatures: []string{},
	}
}

func (c *Classifier) categoryAllowed(category string) bool {
	for _, cat := range c.categories {
		if cat == category {
			return true
		}
	}
	return false
}
