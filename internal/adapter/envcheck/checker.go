package envcheck

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github-star-manager/internal/config"

	"github.com/google/go-github/v53/github"
	"golang.org/x/oauth2"
)

// Checker 运行环境检查器：验证 secrets、远端连通性和本地数据状态
type Checker struct {
	cfg      *config.Config
	errors   []string
	warnings []string
}

// NewChecker 创建环境检查器
func NewChecker(cfg *config.Config) *Checker {
	return &Checker{cfg: cfg}
}

// Errors 返回已发现的致命问题
func (c *Checker) Errors() []string { return c.errors }

// CheckSecrets 检查必需的环境变量。skipClassification 为 true 时不校验 AI 相关变量
func (c *Checker) CheckSecrets(skipClassification bool) bool {
	fmt.Println("🔧 检查必需的环境变量...")
	ok := true

	if c.cfg.GitHubToken() == "" {
		fmt.Printf("❌ %s 未设置\n", c.cfg.GitHub.TokenEnv)
		fmt.Println("💡 请在仓库设置中添加对应的 secret")
		c.errors = append(c.errors, c.cfg.GitHub.TokenEnv+" 未设置")
		ok = false
	} else {
		fmt.Printf("✅ %s 已配置\n", c.cfg.GitHub.TokenEnv)
	}

	if c.cfg.GitHub.Username != "" {
		fmt.Printf("✅ GitHub 用户名: %s\n", c.cfg.GitHub.Username)
	} else {
		fmt.Println("⚠️ 未设置 GITHUB_USERNAME，将尝试从运行环境推断")
		c.warnings = append(c.warnings, "GITHUB_USERNAME 未设置")
	}

	if skipClassification {
		fmt.Println("⏭️ 跳过AI分类，无需验证AI相关secrets")
	} else {
		if c.cfg.AIAPIKey() == "" {
			fmt.Println("❌ AI_API_KEY 未设置")
			c.errors = append(c.errors, "AI_API_KEY 未设置")
			ok = false
		} else {
			fmt.Println("✅ AI_API_KEY 已配置")
		}
		if c.cfg.AI.Provider == "cloudflare" && c.cfg.AIAccountID() == "" {
			fmt.Println("❌ AI_ACCOUNT_ID 未设置 (cloudflare provider 必需)")
			c.errors = append(c.errors, "AI_ACCOUNT_ID 未设置")
			ok = false
		}
	}

	if ok {
		fmt.Println("✅ 环境变量验证通过")
	}
	return ok
}

// CheckHealth 检查 GitHub API 连通性和剩余配额
func (c *Checker) CheckHealth(ctx context.Context) bool {
	fmt.Println("🌐 检查 GitHub API 连通性...")

	var client *github.Client
	if token := c.cfg.GitHubToken(); token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		client = github.NewClient(oauth2.NewClient(ctx, ts))
	} else {
		client = github.NewClient(nil)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	limits, _, err := client.RateLimits(ctx)
	if err != nil {
		fmt.Printf("❌ GitHub API 无法访问: %v\n", err)
		c.errors = append(c.errors, "GitHub API 无法访问")
		return false
	}

	core := limits.GetCore()
	fmt.Printf("✅ GitHub API 可访问 (剩余配额 %d/%d，%s 重置)\n",
		core.Remaining, core.Limit, core.Reset.Format("15:04:05"))
	if core.Remaining < 100 {
		fmt.Println("⚠️ 剩余配额不足 100，可能影响本次抓取")
		c.warnings = append(c.warnings, "GitHub API 配额不足")
	}
	return true
}

// PrintSystemInfo 打印运行环境和本地数据状态
func (c *Checker) PrintSystemInfo() {
	fmt.Println("🖥 系统信息:")
	fmt.Printf("  - Go 版本: %s\n", strings.TrimPrefix(runtime.Version(), "go"))
	fmt.Printf("  - 平台: %s/%s\n", runtime.GOOS, runtime.GOARCH)

	dataFile := c.cfg.DataFilePath()
	if info, err := os.Stat(dataFile); err == nil {
		fmt.Printf("  - 数据文件: %s (%.1f KB)\n", dataFile, float64(info.Size())/1024)
	} else {
		fmt.Printf("  - 数据文件: %s (不存在)\n", dataFile)
	}

	docCount := 0
	entries, err := os.ReadDir(c.cfg.Docs.OutputDir)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() && filepath.Ext(e.Name()) == ".md" {
				docCount++
			}
		}
	}
	fmt.Printf("  - 已生成文档: %d 个\n", docCount)
}
