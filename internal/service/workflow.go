package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github-star-manager/internal/common"
	"github-star-manager/internal/config"
	"github-star-manager/internal/domain"
	"github-star-manager/internal/port"
)

// DocGenerator 文档生成阶段需要的能力 (由 adapter/docs 提供)
type DocGenerator interface {
	GenerateAll(data *domain.StarsData, force bool) map[string]bool
	GenerateIndex(data *domain.StarsData, force bool) (bool, error)
	CleanObsolete(data *domain.StarsData) error
}

// ReadmeUpdater README 更新阶段需要的能力 (由 adapter/readme 提供)
type ReadmeUpdater interface {
	Update(data *domain.StarsData) error
}

// SnapshotRecorder 运行历史记录 (由 adapter/history 提供，可为 nil)
type SnapshotRecorder interface {
	Record(ctx context.Context, stats *domain.Statistics, fetchMode string) error
}

// cacheStater 分类器可选暴露的缓存计数
type cacheStater interface {
	CacheStats() (hits, misses int)
}

// Workflow 按顺序执行 获取 → 分类 → 文档 → README → 推送 的完整流程
type Workflow struct {
	cfg        *config.Config
	scouter    port.Scouter
	classifier port.Classifier
	store      port.Store
	docs       DocGenerator
	readme     ReadmeUpdater
	publisher  port.Publisher
	recorder   SnapshotRecorder

	startTime time.Time
}

// NewWorkflow 创建工作流。publisher 和 recorder 允许为 nil (本地运行时跳过对应阶段)
func NewWorkflow(
	cfg *config.Config,
	scouter port.Scouter,
	classifier port.Classifier,
	store port.Store,
	docs DocGenerator,
	readme ReadmeUpdater,
	publisher port.Publisher,
	recorder SnapshotRecorder,
) *Workflow {
	return &Workflow{
		cfg:        cfg,
		scouter:    scouter,
		classifier: classifier,
		store:      store,
		docs:       docs,
		readme:     readme,
		publisher:  publisher,
		recorder:   recorder,
		startTime:  time.Now(),
	}
}

// Fetch 执行抓取阶段：加载存量数据，分页抓取，合并后保存
func (w *Workflow) Fetch(ctx context.Context) (*domain.StarsData, int, int, error) {
	mode := w.cfg.Workflow.FetchMode
	fmt.Printf("🚀 开始获取 Star 项目 (模式: %s)...\n", mode)

	data := w.store.Load()

	known := make(map[int64]bool, len(data.Repositories))
	for _, repo := range data.Repositories {
		known[repo.ID] = true
	}

	repos, err := w.scouter.FetchStarred(ctx, w.cfg.GitHub.Username, mode, w.cfg.Workflow.MaxItems, known)
	if err != nil && len(repos) == 0 {
		return data, 0, 0, common.WrapError(common.ErrCodeGitHubAPI, "获取 Star 列表失败", err)
	}
	if err != nil {
		// 部分结果可以接受，合并已抓到的内容
		log.Printf("⚠️ 抓取部分失败: %v，继续合并 %d 个项目", err, len(repos))
	}

	newCount, updatedCount := w.store.Merge(data, repos)

	data.Metadata.Username = w.cfg.GitHub.Username
	data.Metadata.FetchMode = mode
	data.Metadata.LastFetchTime = time.Now().UTC()

	if !w.store.Save(data) {
		log.Printf("⚠️ 保存数据失败，内存中的数据不受影响")
	}

	fmt.Printf("✅ 获取完成: 新增 %d 个，更新 %d 个，总计 %d 个\n",
		newCount, updatedCount, len(data.Repositories))
	return data, newCount, updatedCount, nil
}

// classifyJob 分类任务，idx 记录原始输入顺序
type classifyJob struct {
	idx  int
	repo *domain.Repo
}

type classifyOutcome struct {
	idx    int
	id     int64
	result *domain.ClassificationResult
}

// ClassifyAll 用有界 worker 池对所有未分类仓库执行分类。
// worker 只做网络调用并把结果发回 channel，所有 Store 写入由收集方统一执行，
// 并按原始输入顺序回放，保证最终结果与完成顺序无关
func (w *Workflow) ClassifyAll(ctx context.Context, data *domain.StarsData) (classified int) {
	pending := w.store.Unclassified(data)
	if len(pending) == 0 {
		fmt.Println("✅ 没有待分类的项目")
		return 0
	}

	concurrency := w.cfg.Workflow.Concurrency
	interval := time.Duration(w.cfg.AI.RequestInterval) * time.Millisecond
	fmt.Printf("🤖 开始AI分类，共 %d 个项目，最大并发数: %d\n", len(pending), concurrency)

	jobs := make(chan classifyJob, len(pending))
	results := make(chan classifyOutcome, len(pending))

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for job := range jobs {
				fmt.Printf("   [Worker-%d] 正在分类 %s...\n", workerID, job.repo.FullName)
				res := w.classifier.Classify(ctx, job.repo)
				results <- classifyOutcome{idx: job.idx, id: job.repo.ID, result: res}

				// 请求间隔，避免触发远端限流
				select {
				case <-ctx.Done():
					return
				case <-time.After(interval):
				}
			}
		}(i + 1)
	}

	for i, repo := range pending {
		jobs <- classifyJob{idx: i, repo: repo}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	// 收集全部结果后按输入顺序回放，Store 写入只发生在这里
	outcomes := make([]classifyOutcome, 0, len(pending))
	for outcome := range results {
		outcomes = append(outcomes, outcome)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].idx < outcomes[j].idx })

	for _, outcome := range outcomes {
		if w.store.UpdateClassification(data, outcome.id, outcome.result) {
			classified++
		}
	}

	if !w.store.Save(data) {
		log.Printf("⚠️ 保存分类结果失败，内存中的数据不受影响")
	}

	if cs, ok := w.classifier.(cacheStater); ok {
		hits, misses := cs.CacheStats()
		fmt.Printf("📦 分类缓存: 命中 %d 次，未命中 %d 次\n", hits, misses)
	}
	fmt.Printf("✅ 分类完成: %d/%d 个项目\n", classified, len(pending))
	return classified
}

// Run 执行完整工作流。返回 error 表示不可恢复的前置条件失败
func (w *Workflow) Run(ctx context.Context) error {
	// 1. 获取
	data, _, _, err := w.Fetch(ctx)
	if err != nil {
		if len(data.Repositories) == 0 {
			return common.WrapError(common.ErrCodeGitHubAPI, "没有可用的存量数据，工作流终止", err)
		}
		log.Printf("⚠️ 获取阶段失败，使用存量数据继续: %v", err)
	}

	// 2. 分类
	if w.cfg.Workflow.SkipClassification {
		fmt.Println("⏭️ 按配置跳过AI分类")
	} else {
		w.ClassifyAll(ctx, data)
	}

	// 3. 文档
	fmt.Println("📚 开始生成分类文档...")
	results := w.docs.GenerateAll(data, false)
	if _, err := w.docs.GenerateIndex(data, false); err != nil {
		log.Printf("❌ 生成索引失败: %v", err)
	}
	if err := w.docs.CleanObsolete(data); err != nil {
		log.Printf("⚠️ 清理过期文档失败: %v", err)
	}
	written := 0
	for _, ok := range results {
		if ok {
			written++
		}
	}
	fmt.Printf("✅ 文档生成完成: %d/%d 个分类有更新\n", written, len(results))

	// 4. README
	if err := w.readme.Update(data); err != nil {
		log.Printf("❌ 更新 README 失败: %v", err)
	}

	// 5. 运行快照
	stats := w.store.Statistics(data)
	if w.recorder != nil {
		if err := w.recorder.Record(ctx, stats, w.cfg.Workflow.FetchMode); err != nil {
			log.Printf("⚠️ 记录运行快照失败: %v", err)
		}
	}

	// 6. 推送
	if w.publisher != nil {
		if err := w.publisher.CommitAndPush(ctx, w.CommitMessage(stats)); err != nil {
			log.Printf("❌ 提交推送失败: %v", err)
		}
	}

	w.printSummary(stats)
	return nil
}

// CommitMessage 生成提交信息
func (w *Workflow) CommitMessage(stats *domain.Statistics) string {
	msg := "🤖 自动更新GitHub Star项目数据"
	if w.cfg.Workflow.FetchMode == "full" {
		msg += " (全量更新)"
	} else {
		msg += " (增量更新)"
	}
	msg += fmt.Sprintf("\n\n📊 统计信息: %d 个项目，%d 个已分类",
		stats.TotalRepositories, stats.ClassifiedRepositories)
	msg += fmt.Sprintf("\n- 获取模式: %s", w.cfg.Workflow.FetchMode)
	msg += fmt.Sprintf("\n- 更新时间: %s", time.Now().UTC().Format("2006-01-02 15:04:05 UTC"))
	if w.cfg.Workflow.SkipClassification {
		msg += "\n- 跳过AI分类: 是"
	}
	return msg
}

func (w *Workflow) printSummary(stats *domain.Statistics) {
	fmt.Println("📊 ===== 执行摘要 =====")
	fmt.Printf("⏱️ 执行时长: %.1f 秒\n", time.Since(w.startTime).Seconds())
	fmt.Printf("🔧 获取模式: %s\n", w.cfg.Workflow.FetchMode)
	fmt.Printf("📦 总项目数: %d\n", stats.TotalRepositories)
	fmt.Printf("🏷 已分类: %d (%.1f%%)\n", stats.ClassifiedRepositories, stats.ClassificationRate)
	fmt.Printf("❓ 未分类: %d\n", stats.UnclassifiedRepositories)
	fmt.Println("========================")
}
