package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github-star-manager/internal/adapter/ai"
	"github-star-manager/internal/adapter/github"
	"github-star-manager/internal/config"
)

func main() {
	// 获取环境变量
	githubToken := os.Getenv("GH_PAT")
	if githubToken == "" {
		githubToken = os.Getenv("GITHUB_TOKEN")
	}
	username := os.Getenv("GITHUB_USERNAME")
	aiKey := os.Getenv("AI_API_KEY")

	if username == "" {
		log.Fatalf("❌ 请设置 GITHUB_USERNAME")
	}

	ctx := context.Background()
	cfg := config.Default()

	fmt.Println("🔍 调试模式：获取并分类 Star 项目")

	// 1. 抓一页 Star 列表
	fmt.Printf("📥 正在获取 %s 的 Star 项目...\n", username)
	fetcher := github.NewFetcher(githubToken, 100, 1, 2*time.Second)
	repos, err := fetcher.FetchStarred(ctx, username, "incremental", 30, nil)
	if err != nil {
		log.Printf("❌ 获取 Star 项目失败: %v", err)
	}
	fmt.Printf("✅ 成功获取 %d 个项目\n", len(repos))

	if len(repos) == 0 {
		fmt.Println("❌ 没有获取到任何项目")
		return
	}

	// 2. 对前几个项目试跑分类
	var provider ai.Provider
	if aiKey != "" {
		provider, err = ai.NewProvider(ctx, cfg.AI.Provider, cfg.AI.APIURL, aiKey, os.Getenv("AI_ACCOUNT_ID"),
			cfg.AI.Model, cfg.AI.MaxTokens, cfg.AI.Temperature, cfg.AITimeout())
		if err != nil {
			log.Printf("⚠️ AI 初始化失败: %v，使用启发式分类", err)
		}
	} else {
		fmt.Println("⚠️ 未设置 AI_API_KEY，使用启发式分类")
	}
	classifier := ai.NewClassifier(provider, cfg.Categories, config.DefaultCategory, 1, time.Second)

	n := len(repos)
	if n > 3 {
		n = 3
	}
	for _, repo := range repos[:n] {
		fmt.Printf("\n📦 %s (%s, ⭐%d)\n", repo.FullName, repo.Language, repo.Stars)
		result := classifier.Classify(ctx, repo)
		fmt.Printf("   分类: %s\n", result.Category)
		fmt.Printf("   简介: %s\n", result.Summary)
		for _, f := range result.KeyFeatures {
			fmt.Printf("   - %s\n", f)
		}
	}

	fmt.Println("\n✅ 调试运行完成")
}
