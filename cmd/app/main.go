package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github-star-manager/internal/adapter/ai"
	"github-star-manager/internal/adapter/docs"
	"github-star-manager/internal/adapter/envcheck"
	gh "github-star-manager/internal/adapter/github"
	"github-star-manager/internal/adapter/gitops"
	"github-star-manager/internal/adapter/history"
	"github-star-manager/internal/adapter/readme"
	"github-star-manager/internal/adapter/store"
	"github-star-manager/internal/config"
	"github-star-manager/internal/domain"
	"github-star-manager/internal/port"
	"github-star-manager/internal/service"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

var CLI struct {
	Config string `short:"c" help:"配置文件路径" default:"config.yaml"`

	Run struct {
		Push bool `help:"完成后提交推送到 git 仓库"`
	} `cmd:"" help:"执行完整工作流: 获取 → 分类 → 文档 → README"`

	Fetch struct{} `cmd:"" help:"只执行 Star 列表获取和合并"`

	Classify struct{} `cmd:"" help:"只对未分类项目执行AI分类"`

	Docs struct {
		All struct {
			Force bool `help:"忽略变更检测，强制重新生成"`
		} `cmd:"" default:"1" help:"生成所有分类文档和索引"`
		Category struct {
			Name  string `arg:"" help:"分类名称"`
			Force bool   `help:"强制重新生成"`
		} `cmd:"" help:"生成指定分类的文档"`
		Index struct {
			Force bool `help:"强制重新生成"`
		} `cmd:"" help:"只生成索引文档"`
		Clean struct{} `cmd:"" help:"清理分类已不存在的旧文档"`
	} `cmd:"" help:"分类文档生成"`

	Readme struct {
		Update   struct{} `cmd:"" default:"1" help:"重写 README 的自动生成区域"`
		Validate struct{} `cmd:"" help:"检查 README 结构健康度"`
		Backup   struct{} `cmd:"" help:"备份当前 README"`
	} `cmd:"" help:"README 更新"`

	Check struct {
		SecretsOnly bool `help:"只检查环境变量"`
		HealthCheck bool `help:"只检查 GitHub API 连通性"`
		SystemInfo  bool `help:"只打印系统信息"`
	} `cmd:"" help:"运行环境检查"`

	Stats struct{} `cmd:"" help:"打印数据统计和最近运行记录"`
}

func main() {
	// 本地运行时从 .env 加载 secrets，文件不存在则忽略
	_ = godotenv.Load()

	kctx := kong.Parse(&CLI)

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		log.Fatalf("❌ 配置加载失败: %v", err)
	}

	ctx := context.Background()
	jsonStore := store.NewJSONStore(cfg.DataFilePath(), cfg.BackupFilePath(), cfg.Storage.AutoBackup)

	switch kctx.Command() {
	case "run":
		runWorkflow(ctx, cfg, jsonStore, CLI.Run.Push)

	case "fetch":
		w := newWorkflow(ctx, cfg, jsonStore, false, false)
		if _, _, _, err := w.Fetch(ctx); err != nil {
			log.Fatalf("❌ 获取失败: %v", err)
		}

	case "classify":
		w := newWorkflow(ctx, cfg, jsonStore, false, false)
		data := mustLoadData(jsonStore)
		w.ClassifyAll(ctx, data)

	case "docs all":
		gen := docs.NewGenerator(jsonStore, cfg.Docs.OutputDir, cfg.Docs.MaxProjectsPerCategory)
		data := mustLoadData(jsonStore)
		gen.GenerateAll(data, CLI.Docs.All.Force)
		if _, err := gen.GenerateIndex(data, CLI.Docs.All.Force); err != nil {
			log.Fatalf("❌ 生成索引失败: %v", err)
		}
		if err := gen.CleanObsolete(data); err != nil {
			log.Printf("⚠️ 清理过期文档失败: %v", err)
		}

	case "docs category <name>":
		gen := docs.NewGenerator(jsonStore, cfg.Docs.OutputDir, cfg.Docs.MaxProjectsPerCategory)
		data := mustLoadData(jsonStore)
		if _, err := gen.GenerateCategoryDocument(data, CLI.Docs.Category.Name, CLI.Docs.Category.Force); err != nil {
			log.Fatalf("❌ 生成分类文档失败: %v", err)
		}

	case "docs index":
		gen := docs.NewGenerator(jsonStore, cfg.Docs.OutputDir, cfg.Docs.MaxProjectsPerCategory)
		data := mustLoadData(jsonStore)
		if _, err := gen.GenerateIndex(data, CLI.Docs.Index.Force); err != nil {
			log.Fatalf("❌ 生成索引失败: %v", err)
		}

	case "docs clean":
		gen := docs.NewGenerator(jsonStore, cfg.Docs.OutputDir, cfg.Docs.MaxProjectsPerCategory)
		if err := gen.CleanObsolete(jsonStore.Load()); err != nil {
			log.Fatalf("❌ 清理失败: %v", err)
		}

	case "readme update":
		updater := newUpdater(cfg, jsonStore)
		if err := updater.Update(mustLoadData(jsonStore)); err != nil {
			log.Fatalf("❌ 更新 README 失败: %v", err)
		}

	case "readme validate":
		problems := newUpdater(cfg, jsonStore).Validate()
		if len(problems) == 0 {
			fmt.Println("✅ README 结构正常")
			return
		}
		for _, p := range problems {
			fmt.Printf("❌ %s\n", p)
		}
		os.Exit(1)

	case "readme backup":
		path, err := newUpdater(cfg, jsonStore).Backup()
		if err != nil {
			log.Fatalf("❌ 备份失败: %v", err)
		}
		fmt.Printf("✅ 已备份到 %s\n", path)

	case "check":
		runCheck(ctx, cfg)

	case "stats":
		printStats(ctx, cfg, jsonStore)

	default:
		kctx.Fatalf("未知命令: %s", kctx.Command())
	}
}

// newWorkflow 组装工作流的全部依赖。
// publisher 和 recorder 是可选依赖，关闭时传 nil 接口而不是 nil 指针
func newWorkflow(ctx context.Context, cfg *config.Config, jsonStore *store.JSONStore, withPublisher, withRecorder bool) *service.Workflow {
	fetcher := gh.NewFetcher(cfg.GitHubToken(), cfg.GitHub.PerPage, cfg.GitHub.MaxRetries, time.Duration(cfg.GitHub.RetryDelay)*time.Second)

	var provider ai.Provider
	if !cfg.Workflow.SkipClassification {
		var err error
		provider, err = ai.NewProvider(ctx, cfg.AI.Provider, cfg.AI.APIURL, cfg.AIAPIKey(), cfg.AIAccountID(),
			cfg.AI.Model, cfg.AI.MaxTokens, cfg.AI.Temperature, cfg.AITimeout())
		if err != nil {
			log.Printf("⚠️ AI 初始化失败: %v，将只使用启发式分类", err)
			provider = nil
		}
	}
	classifier := ai.NewClassifier(provider, cfg.Categories, config.DefaultCategory,
		cfg.AI.MaxRetries, time.Duration(cfg.AI.RetryDelay)*time.Second)

	generator := docs.NewGenerator(jsonStore, cfg.Docs.OutputDir, cfg.Docs.MaxProjectsPerCategory)
	updater := newUpdater(cfg, jsonStore)

	var publisher port.Publisher
	if withPublisher {
		publisher = gitops.NewPublisher(".", cfg.GitHubToken(), nil)
	}

	var recorder service.SnapshotRecorder
	if withRecorder {
		r, err := history.NewRecorder(cfg.HistoryFilePath())
		if err != nil {
			log.Printf("⚠️ 历史数据库不可用: %v", err)
		} else {
			recorder = r
		}
	}

	return service.NewWorkflow(cfg, fetcher, classifier, jsonStore, generator, updater, publisher, recorder)
}

func newUpdater(cfg *config.Config, jsonStore *store.JSONStore) *readme.Updater {
	return readme.NewUpdater(jsonStore, cfg.Readme.OutputFile, cfg.Docs.OutputDir,
		cfg.Readme.MaxReposPerCategory, cfg.Readme.SortBy, cfg.Readme.SortOrder)
}

func runWorkflow(ctx context.Context, cfg *config.Config, jsonStore *store.JSONStore, push bool) {
	checker := envcheck.NewChecker(cfg)
	if !checker.CheckSecrets(cfg.Workflow.SkipClassification) {
		os.Exit(1)
	}

	w := newWorkflow(ctx, cfg, jsonStore, push, true)
	if err := w.Run(ctx); err != nil {
		log.Fatalf("❌ 工作流失败: %v", err)
	}
}

func runCheck(ctx context.Context, cfg *config.Config) {
	checker := envcheck.NewChecker(cfg)

	// 未指定具体检查项时全部执行
	all := !CLI.Check.SecretsOnly && !CLI.Check.HealthCheck && !CLI.Check.SystemInfo
	ok := true

	if all || CLI.Check.SecretsOnly {
		ok = checker.CheckSecrets(cfg.Workflow.SkipClassification) && ok
	}
	if all || CLI.Check.HealthCheck {
		ok = checker.CheckHealth(ctx) && ok
	}
	if all || CLI.Check.SystemInfo {
		checker.PrintSystemInfo()
	}

	if !ok {
		os.Exit(1)
	}
}

func printStats(ctx context.Context, cfg *config.Config, jsonStore *store.JSONStore) {
	data := jsonStore.Load()
	stats := jsonStore.Statistics(data)

	fmt.Printf("📊 当前总项目数: %d\n", stats.TotalRepositories)
	fmt.Printf("📊 已分类项目: %d/%d (%.1f%%)\n",
		stats.ClassifiedRepositories, stats.TotalRepositories, stats.ClassificationRate)
	fmt.Printf("⭐ Star 总数: %d (平均 %.1f，最高 %d)\n",
		stats.TotalStars, stats.AverageStars, stats.MaxStars)

	if recorder, err := history.NewRecorder(cfg.HistoryFilePath()); err == nil {
		recorder.PrintTrend(ctx, 5)
	}
}

func mustLoadData(jsonStore *store.JSONStore) *domain.StarsData {
	data := jsonStore.Load()
	if len(data.Repositories) == 0 {
		log.Fatalf("❌ 数据文件为空，请先执行 fetch")
	}
	return data
}
