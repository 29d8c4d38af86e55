package domain

import "time"

// Repo 代表一个被 Star 的 GitHub 仓库
type Repo struct {
	// 基础信息 (来自 GitHub API)
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	FullName    string    `json:"full_name"` // 例如 "gohugoio/hugo"
	Description string    `json:"description"`
	HTMLURL     string    `json:"html_url"`
	Language    string    `json:"language"`
	Stars       int       `json:"stargazers_count"`
	Forks       int       `json:"forks_count"`
	Topics      []string  `json:"topics"`
	License     string    `json:"license"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	PushedAt    time.Time `json:"pushed_at"`

	// --- AI 分类维度 ---

	// 是否已经完成分类
	IsClassified bool `json:"is_classified"`

	// 所属分类 (必须是配置里的分类枚举之一)
	Category string `json:"category"`

	// AI 摘要：一句话告诉我这个项目是干什么的
	Summary string `json:"summary"`

	// 主要特点 (最多5条)
	KeyFeatures []string `json:"key_features"`

	// 记账时间戳
	AddedDate   time.Time `json:"added_date"`
	LastUpdated time.Time `json:"last_updated"`
}

// ApplyClassification 将分类结果回填到仓库记录
func (r *Repo) ApplyClassification(res *ClassificationResult, now time.Time) {
	r.IsClassified = true
	r.Category = res.Category
	r.Summary = res.Summary
	r.KeyFeatures = res.KeyFeatures
	r.LastUpdated = now
}

// Metadata 数据文件的元信息，每次保存时重新计算，不手工编辑
type Metadata struct {
	TotalCount             int       `json:"total_count"`
	ClassifiedCount        int       `json:"classified_count"`
	UnclassifiedCount      int       `json:"unclassified_count"`
	LastFetchTime          time.Time `json:"last_fetch_time"`
	LastClassificationTime time.Time `json:"last_classification_time"`
	LastUpdateTime         time.Time `json:"last_update_time"`
	FetchMode              string    `json:"fetch_mode"`
	Username               string    `json:"username"`
	Version                string    `json:"version"`
}

// StarsData 完整的数据文件结构 (data/stars_data.json)
type StarsData struct {
	Metadata     Metadata `json:"metadata"`
	Repositories []*Repo  `json:"repositories"`
}

// ClassificationResult AI 分类的临时结果，合并回 Repo 后即丢弃
type ClassificationResult struct {
	Category    string   `json:"category"`
	Summary     string   `json:"summary"`
	KeyFeatures []string `json:"key_features"`
}

// Statistics 数据的派生统计信息
type Statistics struct {
	TotalRepositories        int
	ClassifiedRepositories   int
	UnclassifiedRepositories int
	ClassificationRate       float64
	Categories               map[string]int
	Languages                map[string]int
	TotalStars               int
	AverageStars             float64
	MaxStars                 int
}
