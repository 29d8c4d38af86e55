package store

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github-star-manager/internal/domain"
)

const dataVersion = "1.0.0"

// JSONStore 实现了 port.Store 接口，数据落在单个 JSON 文件里
type JSONStore struct {
	dataFile   string
	backupFile string
	autoBackup bool

	mu      sync.Mutex
	nowFunc func() time.Time // 便于测试注入当前时间
}

// NewJSONStore 创建 JSON 文件存储
func NewJSONStore(dataFile, backupFile string, autoBackup bool) *JSONStore {
	return &JSONStore{
		dataFile:   dataFile,
		backupFile: backupFile,
		autoBackup: autoBackup,
		nowFunc:    time.Now,
	}
}

// Load 加载数据文件。文件缺失返回空结构；文件损坏尝试备份；备份也不行就返回空结构。
// 永远不向调用方抛错
func (s *JSONStore) Load() *domain.StarsData {
	data, err := s.loadFile(s.dataFile)
	if err == nil {
		return data
	}
	if os.IsNotExist(err) {
		fmt.Println("📭 数据文件不存在，创建新的数据结构")
		return s.emptyData()
	}

	log.Printf("❌ 加载数据文件失败: %v，尝试从备份恢复", err)
	data, err = s.loadFile(s.backupFile)
	if err == nil {
		fmt.Printf("✅ 已从备份恢复数据: %s\n", s.backupFile)
		return data
	}

	log.Printf("⚠️ 备份也无法加载: %v，使用空数据结构", err)
	return s.emptyData()
}

func (s *JSONStore) loadFile(path string) (*domain.StarsData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	var data domain.StarsData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("JSON 解析失败: %w", err)
	}
	return &data, nil
}

func (s *JSONStore) emptyData() *domain.StarsData {
	return &domain.StarsData{
		Metadata: domain.Metadata{
			FetchMode: "incremental",
			Version:   dataVersion,
		},
		Repositories: []*domain.Repo{},
	}
}

// Save 保存数据。先按需备份旧文件，重算元数据，再整体原子写入。
// 失败只记日志并返回 false
func (s *JSONStore) Save(data *domain.StarsData) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.dataFile), 0o755); err != nil {
		log.Printf("❌ 创建数据目录失败: %v", err)
		return false
	}

	if s.autoBackup {
		if _, err := os.Stat(s.dataFile); err == nil {
			if err := copyFile(s.dataFile, s.backupFile); err != nil {
				log.Printf("⚠️ 创建备份失败: %v", err)
			}
		}
	}

	s.recomputeMetadata(data)

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		log.Printf("❌ 序列化数据失败: %v", err)
		return false
	}

	// 先写临时文件再重命名，避免写一半留下损坏的数据文件
	tmp := s.dataFile + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		log.Printf("❌ 写入数据文件失败: %v", err)
		return false
	}
	if err := os.Rename(tmp, s.dataFile); err != nil {
		log.Printf("❌ 替换数据文件失败: %v", err)
		return false
	}

	fmt.Printf("💾 数据已保存到 %s (%d 个项目)\n", s.dataFile, len(data.Repositories))
	return true
}

func (s *JSONStore) recomputeMetadata(data *domain.StarsData) {
	classified := 0
	for _, repo := range data.Repositories {
		if repo.IsClassified {
			classified++
		}
	}
	data.Metadata.TotalCount = len(data.Repositories)
	data.Metadata.ClassifiedCount = classified
	data.Metadata.UnclassifiedCount = len(data.Repositories) - classified
	data.Metadata.LastUpdateTime = s.nowFunc().UTC()
	if data.Metadata.Version == "" {
		data.Metadata.Version = dataVersion
	}
}

// Merge 按 id 合并新抓取的仓库列表。
// 已存在的仓库：描述字段用新数据覆盖，分类字段保留旧值；新仓库追加到末尾
func (s *JSONStore) Merge(data *domain.StarsData, incoming []*domain.Repo) (newCount, updatedCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := make(map[int64]int, len(data.Repositories))
	for i, repo := range data.Repositories {
		index[repo.ID] = i
	}

	now := s.nowFunc().UTC()
	for _, in := range incoming {
		if i, ok := index[in.ID]; ok {
			existing := data.Repositories[i]
			merged := *in
			// 保留分类相关字段和首次入库时间
			merged.IsClassified = existing.IsClassified
			merged.Category = existing.Category
			merged.Summary = existing.Summary
			merged.KeyFeatures = existing.KeyFeatures
			merged.AddedDate = existing.AddedDate
			merged.LastUpdated = now
			data.Repositories[i] = &merged
			updatedCount++
		} else {
			added := *in
			if added.AddedDate.IsZero() {
				added.AddedDate = now
			}
			added.LastUpdated = now
			data.Repositories = append(data.Repositories, &added)
			index[added.ID] = len(data.Repositories) - 1
			newCount++
		}
	}

	fmt.Printf("🔀 合并完成: 新增 %d 个，更新 %d 个\n", newCount, updatedCount)
	return newCount, updatedCount
}

// Unclassified 返回未分类的仓库，纯内存过滤
func (s *JSONStore) Unclassified(data *domain.StarsData) []*domain.Repo {
	var out []*domain.Repo
	for _, repo := range data.Repositories {
		if !repo.IsClassified {
			out = append(out, repo)
		}
	}
	return out
}

// Classified 返回已分类的仓库
func (s *JSONStore) Classified(data *domain.StarsData) []*domain.Repo {
	var out []*domain.Repo
	for _, repo := range data.Repositories {
		if repo.IsClassified {
			out = append(out, repo)
		}
	}
	return out
}

// ByCategory 返回指定分类下已分类的仓库
func (s *JSONStore) ByCategory(data *domain.StarsData, category string) []*domain.Repo {
	var out []*domain.Repo
	for _, repo := range data.Repositories {
		if repo.IsClassified && repo.Category == category {
			out = append(out, repo)
		}
	}
	return out
}

// Statistics 计算派生统计信息
func (s *JSONStore) Statistics(data *domain.StarsData) *domain.Statistics {
	stats := &domain.Statistics{
		Categories: map[string]int{},
		Languages:  map[string]int{},
	}

	for _, repo := range data.Repositories {
		stats.TotalRepositories++
		if repo.IsClassified {
			stats.ClassifiedRepositories++
			stats.Categories[repo.Category]++
		}
		lang := repo.Language
		if lang == "" {
			lang = "未知"
		}
		stats.Languages[lang]++
		stats.TotalStars += repo.Stars
		if repo.Stars > stats.MaxStars {
			stats.MaxStars = repo.Stars
		}
	}

	stats.UnclassifiedRepositories = stats.TotalRepositories - stats.ClassifiedRepositories
	if stats.TotalRepositories > 0 {
		stats.ClassificationRate = float64(stats.ClassifiedRepositories) / float64(stats.TotalRepositories) * 100
		stats.AverageStars = float64(stats.TotalStars) / float64(stats.TotalRepositories)
	}

	// 语言直方图只保留前 10 名
	if len(stats.Languages) > 10 {
		type langCount struct {
			name  string
			count int
		}
		all := make([]langCount, 0, len(stats.Languages))
		for name, count := range stats.Languages {
			all = append(all, langCount{name, count})
		}
		sort.Slice(all, func(i, j int) bool {
			if all[i].count != all[j].count {
				return all[i].count > all[j].count
			}
			return all[i].name < all[j].name
		})
		top := map[string]int{}
		for _, lc := range all[:10] {
			top[lc.name] = lc.count
		}
		stats.Languages = top
	}

	return stats
}

// UpdateClassification 更新单个仓库的分类信息，可被多个 worker 并发调用
func (s *JSONStore) UpdateClassification(data *domain.StarsData, id int64, res *domain.ClassificationResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc().UTC()
	for _, repo := range data.Repositories {
		if repo.ID == id {
			repo.ApplyClassification(res, now)
			data.Metadata.LastClassificationTime = now
			return true
		}
	}

	log.Printf("⚠️ 未找到仓库 %d，无法更新分类", id)
	return false
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
