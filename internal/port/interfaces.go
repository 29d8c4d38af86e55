package port

import (
	"context"

	"github-star-manager/internal/domain"
)

// Scouter (侦察兵): 负责分页抓取用户的 Star 列表
type Scouter interface {
	// known 是已入库的仓库 id 集合，增量模式下遇到已知仓库即提前停止翻页
	FetchStarred(ctx context.Context, username, mode string, maxItems int, known map[int64]bool) ([]*domain.Repo, error)
}

// Classifier (鉴定师): 负责调用 LLM 对仓库进行分类和摘要
// 任何失败都在内部回退到启发式分类，永远返回一个可用的结果
type Classifier interface {
	Classify(ctx context.Context, repo *domain.Repo) *domain.ClassificationResult
}

// Store (仓库管理员): 负责 stars_data.json 的加载、保存和合并
type Store interface {
	// 读失败时返回全新的空数据结构，永远不向调用方抛错
	Load() *domain.StarsData

	// 保存失败只记日志并返回 false，不回滚内存中的数据
	Save(data *domain.StarsData) bool

	// 按 id 合并，incoming 覆盖描述字段但保留 existing 的分类字段
	Merge(data *domain.StarsData, incoming []*domain.Repo) (newCount, updatedCount int)

	Unclassified(data *domain.StarsData) []*domain.Repo
	Classified(data *domain.StarsData) []*domain.Repo
	ByCategory(data *domain.StarsData, category string) []*domain.Repo
	Statistics(data *domain.StarsData) *domain.Statistics

	// 可以被多个分类 worker 并发调用
	UpdateClassification(data *domain.StarsData, id int64, res *domain.ClassificationResult) bool
}

// Publisher (信使): 负责把数据和文档变更提交推送到 git 仓库
type Publisher interface {
	HasChanges() (bool, error)
	CommitAndPush(ctx context.Context, message string) error
}
