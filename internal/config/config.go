package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// GitHubConfig GitHub API 相关配置
type GitHubConfig struct {
	TokenEnv   string `yaml:"token_env"`  // 存放 token 的环境变量名
	Username   string `yaml:"username"`   // 为空时从环境变量获取
	PerPage    int    `yaml:"per_page"`   // 每页数量，GitHub 上限 100
	MaxRetries int    `yaml:"max_retries"`
	RetryDelay int    `yaml:"retry_delay"` // 秒
}

// AIConfig AI 分类相关配置
type AIConfig struct {
	Provider    string  `yaml:"provider"` // openai / cloudflare / gemini
	APIURL      string  `yaml:"api_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	Timeout     int     `yaml:"timeout"`     // 秒
	MaxRetries  int     `yaml:"max_retries"`
	RetryDelay  int     `yaml:"retry_delay"` // 秒
	// 每次请求之间的间隔 (毫秒)，避免触发远端限流
	RequestInterval int `yaml:"request_interval"`
}

// StorageConfig 数据存储配置
type StorageConfig struct {
	DataDir    string `yaml:"data_dir"`
	ReposFile  string `yaml:"repos_file"`
	BackupFile string `yaml:"backup_file"`
	AutoBackup bool   `yaml:"auto_backup"`
	// 运行历史快照数据库 (sqlite)
	HistoryFile string `yaml:"history_file"`
}

// DocsConfig 分类文档生成配置
type DocsConfig struct {
	OutputDir              string `yaml:"output_dir"`
	MaxProjectsPerCategory int    `yaml:"max_projects_per_category"`
}

// ReadmeConfig README 更新配置
type ReadmeConfig struct {
	OutputFile          string `yaml:"output_file"`
	SortBy              string `yaml:"sort_by"`    // stars / updated_at / added_date
	SortOrder           string `yaml:"sort_order"` // asc / desc
	MaxReposPerCategory int    `yaml:"max_repos_per_category"` // 0 表示不限制
}

// WorkflowConfig 工作流配置
type WorkflowConfig struct {
	FetchMode          string `yaml:"fetch_mode"` // full / incremental
	MaxItems           int    `yaml:"max_items"`  // 0 表示不限制
	Concurrency        int    `yaml:"concurrency"`
	SkipClassification bool   `yaml:"skip_classification"`
}

// Config 全部配置。进程启动时构造一次，显式传入各组件，不做包级单例
type Config struct {
	GitHub     GitHubConfig   `yaml:"github"`
	AI         AIConfig       `yaml:"ai"`
	Categories []string       `yaml:"categories"`
	Storage    StorageConfig  `yaml:"storage"`
	Docs       DocsConfig     `yaml:"docs"`
	Readme     ReadmeConfig   `yaml:"readme"`
	Workflow   WorkflowConfig `yaml:"workflow"`
}

// DefaultCategories 默认的分类枚举
var DefaultCategories = []string{
	"前端开发",
	"后端开发",
	"全栈开发",
	"移动应用开发",
	"人工智能/机器学习",
	"数据科学/分析",
	"DevOps/基础设施",
	"安全工具",
	"开发工具",
	"学习资源",
	"区块链/Web3",
	"游戏开发",
	"物联网",
	"其他",
}

// DefaultCategory 启发式分类兜底用的默认分类
const DefaultCategory = "其他"

// Default 返回内置默认配置
func Default() *Config {
	return &Config{
		GitHub: GitHubConfig{
			TokenEnv:   "GH_PAT",
			PerPage:    100,
			MaxRetries: 3,
			RetryDelay: 5,
		},
		AI: AIConfig{
			Provider:        "openai",
			APIURL:          "https://open.bigmodel.cn/api/paas/v4/chat/completions",
			Model:           "glm-4.5-flash",
			MaxTokens:       300,
			Temperature:     0.5,
			Timeout:         30,
			MaxRetries:      3,
			RetryDelay:      5,
			RequestInterval: 1000,
		},
		Categories: append([]string(nil), DefaultCategories...),
		Storage: StorageConfig{
			DataDir:     "data",
			ReposFile:   "stars_data.json",
			BackupFile:  "stars_data_backup.json",
			AutoBackup:  true,
			HistoryFile: "history.db",
		},
		Docs: DocsConfig{
			OutputDir:              "docs",
			MaxProjectsPerCategory: 50,
		},
		Readme: ReadmeConfig{
			OutputFile:          "README.md",
			SortBy:              "stars",
			SortOrder:           "desc",
			MaxReposPerCategory: 10,
		},
		Workflow: WorkflowConfig{
			FetchMode:   "incremental",
			Concurrency: 2,
		},
	}
}

// Load 读取配置文件并与默认值合并，再应用环境变量覆盖。
// 文件不存在时直接使用默认配置
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	} else {
		// yaml 按字段覆盖到默认值上，未出现的字段保持默认
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 环境变量优先级高于配置文件
func (c *Config) applyEnv() {
	if v := os.Getenv("GITHUB_USERNAME"); v != "" {
		c.GitHub.Username = v
	}
	// GitHub Actions 中可以从 GITHUB_REPOSITORY (owner/repo) 推断用户名
	if c.GitHub.Username == "" && os.Getenv("GITHUB_ACTIONS") == "true" {
		if repo := os.Getenv("GITHUB_REPOSITORY"); repo != "" {
			for i := 0; i < len(repo); i++ {
				if repo[i] == '/' {
					c.GitHub.Username = repo[:i]
					break
				}
			}
		}
	}
	if v := os.Getenv("FETCH_MODE"); v == "full" || v == "incremental" {
		c.Workflow.FetchMode = v
	}
	if v := os.Getenv("SKIP_CLASSIFICATION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Workflow.SkipClassification = b
		}
	}
	if v := os.Getenv("AI_API_URL"); v != "" {
		c.AI.APIURL = v
	}
	if v := os.Getenv("AI_PROVIDER"); v != "" {
		c.AI.Provider = v
	}
}

func (c *Config) validate() error {
	if c.GitHub.PerPage <= 0 || c.GitHub.PerPage > 100 {
		return fmt.Errorf("github.per_page 必须在 1-100 之间，当前为 %d", c.GitHub.PerPage)
	}
	if len(c.Categories) == 0 {
		return fmt.Errorf("categories 不能为空")
	}
	switch c.Workflow.FetchMode {
	case "full", "incremental":
	default:
		return fmt.Errorf("workflow.fetch_mode 必须是 full 或 incremental，当前为 %q", c.Workflow.FetchMode)
	}
	if c.Workflow.Concurrency <= 0 {
		c.Workflow.Concurrency = 2
	}
	return nil
}

// GitHubToken 从配置指定的环境变量读取 GitHub token
func (c *Config) GitHubToken() string {
	return os.Getenv(c.GitHub.TokenEnv)
}

// AIAPIKey AI 服务密钥
func (c *Config) AIAPIKey() string {
	return os.Getenv("AI_API_KEY")
}

// AIAccountID 部分 AI 服务商 (如 Cloudflare) 需要的账户 id
func (c *Config) AIAccountID() string {
	return os.Getenv("AI_ACCOUNT_ID")
}

// DataFilePath stars_data.json 的完整路径
func (c *Config) DataFilePath() string {
	return filepath.Join(c.Storage.DataDir, c.Storage.ReposFile)
}

// BackupFilePath 备份文件的完整路径
func (c *Config) BackupFilePath() string {
	return filepath.Join(c.Storage.DataDir, c.Storage.BackupFile)
}

// HistoryFilePath 运行历史数据库的完整路径
func (c *Config) HistoryFilePath() string {
	return filepath.Join(c.Storage.DataDir, c.Storage.HistoryFile)
}

// AITimeout AI 请求超时
func (c *Config) AITimeout() time.Duration {
	return time.Duration(c.AI.Timeout) * time.Second
}

// HasCategory 判断分类是否属于配置的枚举
func (c *Config) HasCategory(category string) bool {
	for _, cat := range c.Categories {
		if cat == category {
			return true
		}
	}
	return false
}
