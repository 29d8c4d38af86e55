package history

import (
	"context"
	"fmt"
	"time"

	"github-star-manager/internal/common"
	"github-star-manager/internal/domain"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Snapshot 一次工作流运行后的数据快照，用于观察长期趋势
type Snapshot struct {
	ID           uint      `gorm:"primaryKey"`
	RunTime      time.Time `gorm:"index"`
	FetchMode    string
	TotalCount   int
	Classified   int
	Unclassified int
	TotalStars   int
}

// Recorder 把每次运行的统计信息追加到 sqlite 数据库
type Recorder struct {
	db *gorm.DB
}

// NewRecorder 打开 (或创建) 历史数据库并迁移表结构
func NewRecorder(path string) (*Recorder, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, common.WrapError(common.ErrCodeStorage, "打开历史数据库失败", err)
	}
	if err := db.AutoMigrate(&Snapshot{}); err != nil {
		return nil, common.WrapError(common.ErrCodeStorage, "历史数据库迁移失败", err)
	}
	return &Recorder{db: db}, nil
}

// Record 追加一条运行快照
func (r *Recorder) Record(ctx context.Context, stats *domain.Statistics, fetchMode string) error {
	snap := &Snapshot{
		RunTime:      time.Now().UTC(),
		FetchMode:    fetchMode,
		TotalCount:   stats.TotalRepositories,
		Classified:   stats.ClassifiedRepositories,
		Unclassified: stats.UnclassifiedRepositories,
		TotalStars:   stats.TotalStars,
	}
	if err := r.db.WithContext(ctx).Create(snap).Error; err != nil {
		return common.WrapError(common.ErrCodeStorage, "写入运行快照失败", err)
	}
	return nil
}

// Recent 返回最近的 n 条快照，按时间倒序
func (r *Recorder) Recent(ctx context.Context, n int) ([]*Snapshot, error) {
	var snaps []*Snapshot
	err := r.db.WithContext(ctx).
		Order("run_time desc").
		Limit(n).
		Find(&snaps).Error
	if err != nil {
		return nil, common.WrapError(common.ErrCodeStorage, "读取运行快照失败", err)
	}
	return snaps, nil
}

// PrintTrend 打印最近几次运行的趋势
func (r *Recorder) PrintTrend(ctx context.Context, n int) {
	snaps, err := r.Recent(ctx, n)
	if err != nil || len(snaps) == 0 {
		return
	}
	fmt.Println("📈 最近运行记录:")
	for _, snap := range snaps {
		fmt.Printf("  - %s [%s] 总计 %d，已分类 %d，Star 总数 %d\n",
			snap.RunTime.Format("2006-01-02 15:04"), snap.FetchMode,
			snap.TotalCount, snap.Classified, snap.TotalStars)
	}
}
