package docs

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github-star-manager/internal/domain"
	"github-star-manager/internal/port"
)

const manifestFile = ".manifest.json"

// Generator 分类文档生成器。
// 变更检测不反向解析生成的 Markdown，而是对比 manifest 里记录的条目集合
type Generator struct {
	store       port.Store
	outputDir   string
	maxProjects int
	nowFunc     func() time.Time
}

// NewGenerator 创建文档生成器
func NewGenerator(store port.Store, outputDir string, maxProjects int) *Generator {
	return &Generator{
		store:       store,
		outputDir:   outputDir,
		maxProjects: maxProjects,
		nowFunc:     time.Now,
	}
}

// manifest 记录上次渲染的条目集合，是变更检测的唯一依据
type manifest struct {
	Categories map[string]categoryEntry `json:"categories"`
	Index      indexEntry               `json:"index"`
}

type categoryEntry struct {
	Total int        `json:"total"`
	Items []itemPair `json:"items"`
}

type itemPair struct {
	Name  string `json:"name"`
	Stars int    `json:"stars"`
}

type indexEntry struct {
	CategoryCount int         `json:"category_count"`
	RepoCount     int         `json:"repo_count"`
	Rate          float64     `json:"classification_rate"`
	Categories    []countPair `json:"categories"`
	Languages     []countPair `json:"languages"`
}

type countPair struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// GenerateCategoryDocument 生成单个分类的文档。
// 条目集合与上次渲染一致时跳过写入并返回 false (no-op)
func (g *Generator) GenerateCategoryDocument(data *domain.StarsData, category string, force bool) (bool, error) {
	repos := g.store.ByCategory(data, category)
	if len(repos) == 0 {
		return false, fmt.Errorf("分类 %q 下没有项目", category)
	}

	display := sortAndTruncate(repos, g.maxProjects)
	entry := categoryEntry{Total: len(repos), Items: toPairs(display)}

	path := filepath.Join(g.outputDir, categoryFilename(category))
	m := g.loadManifest()
	if !force && fileExists(path) && manifestMatches(m.Categories[category], entry) {
		fmt.Printf("⏭️ 分类 %s 无变化，跳过生成\n", category)
		return false, nil
	}

	content := g.renderCategory(category, display, len(repos))
	if err := g.writeFile(path, content); err != nil {
		return false, err
	}

	if m.Categories == nil {
		m.Categories = map[string]categoryEntry{}
	}
	m.Categories[category] = entry
	g.saveManifest(m)

	fmt.Printf("📝 已生成分类文档: %s (%d/%d 个项目)\n", path, len(display), len(repos))
	return true, nil
}

// GenerateAll 为所有有项目的分类生成文档，返回每个分类是否实际写入
func (g *Generator) GenerateAll(data *domain.StarsData, force bool) map[string]bool {
	stats := g.store.Statistics(data)
	results := make(map[string]bool, len(stats.Categories))

	for category := range stats.Categories {
		written, err := g.GenerateCategoryDocument(data, category, force)
		if err != nil {
			log.Printf("❌ 生成分类 %s 的文档失败: %v", category, err)
			results[category] = false
			continue
		}
		results[category] = written
	}
	return results
}

// GenerateIndex 生成分类索引文档 docs/index.md
func (g *Generator) GenerateIndex(data *domain.StarsData, force bool) (bool, error) {
	stats := g.store.Statistics(data)

	// 索引展示各分类和各语言的数量，manifest 条目必须携带同等粒度，
	// 否则项目在分类间迁移而总数不变时会漏检
	entry := indexEntry{
		CategoryCount: len(stats.Categories),
		RepoCount:     stats.TotalRepositories,
		Rate:          stats.ClassificationRate,
		Categories:    toCountPairs(stats.Categories),
		Languages:     toCountPairs(stats.Languages),
	}

	path := filepath.Join(g.outputDir, "index.md")
	m := g.loadManifest()
	if !force && fileExists(path) && indexMatches(m.Index, entry) {
		fmt.Println("⏭️ 索引无变化，跳过生成")
		return false, nil
	}

	content := g.renderIndex(stats)
	if err := g.writeFile(path, content); err != nil {
		return false, err
	}

	m.Index = entry
	g.saveManifest(m)

	fmt.Printf("📝 已生成索引文档: %s\n", path)
	return true, nil
}

// CleanObsolete 删除分类已不存在的旧文档
func (g *Generator) CleanObsolete(data *domain.StarsData) error {
	entries, err := os.ReadDir(g.outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	stats := g.store.Statistics(data)
	current := make(map[string]bool, len(stats.Categories))
	for category := range stats.Categories {
		current[categoryFilename(category)] = true
	}

	m := g.loadManifest()
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".md") || name == "index.md" {
			continue
		}
		if !current[name] {
			path := filepath.Join(g.outputDir, name)
			if err := os.Remove(path); err != nil {
				log.Printf("⚠️ 删除过期文档 %s 失败: %v", path, err)
				continue
			}
			fmt.Printf("🧹 已删除过期文档: %s\n", path)
			for category := range m.Categories {
				if categoryFilename(category) == name {
					delete(m.Categories, category)
				}
			}
		}
	}
	g.saveManifest(m)
	return nil
}

// --- 渲染 ---

func (g *Generator) renderCategory(category string, display []*domain.Repo, total int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", category)
	fmt.Fprintf(&b, "本分类共有 **%d** 个项目", total)
	if len(display) < total {
		fmt.Fprintf(&b, "，当前显示前 **%d** 个项目", len(display))
	}
	b.WriteString("。\n\n")
	fmt.Fprintf(&b, "*最后更新时间: %s*\n\n", g.nowFunc().Format("2006-01-02 15:04:05"))

	// 目录
	b.WriteString("## 目录\n\n")
	for i, repo := range display {
		anchor := strings.ToLower(strings.NewReplacer(" ", "-", "_", "-", ".", "").Replace(repo.Name))
		fmt.Fprintf(&b, "%d. [%s](#%s)\n", i+1, repo.Name, anchor)
	}
	b.WriteString("\n---\n\n")

	b.WriteString("## 项目列表\n\n")
	for _, repo := range display {
		b.WriteString(formatRepoEntry(repo))
	}

	// 页脚
	b.WriteString("## 统计信息\n\n")
	fmt.Fprintf(&b, "- **分类**: %s\n", category)
	fmt.Fprintf(&b, "- **总项目数**: %d\n", total)
	fmt.Fprintf(&b, "- **显示项目数**: %d\n", len(display))
	if len(display) < total {
		fmt.Fprintf(&b, "- **未显示项目数**: %d\n", total-len(display))
	}
	fmt.Fprintf(&b, "- **生成时间**: %s\n\n", g.nowFunc().Format("2006-01-02 15:04:05"))
	b.WriteString("---\n\n*本文档由 github-star-manager 自动生成*\n")

	return b.String()
}

func formatRepoEntry(repo *domain.Repo) string {
	var b strings.Builder

	description := repo.Description
	if description == "" {
		description = "暂无描述"
	}
	language := repo.Language
	if language == "" {
		language = "未知"
	}

	fmt.Fprintf(&b, "### [%s](%s)\n\n", repo.Name, repo.HTMLURL)
	fmt.Fprintf(&b, "**仓库**: %s\n\n", repo.FullName)
	fmt.Fprintf(&b, "**描述**: %s\n\n", description)

	if repo.Summary != "" && repo.Summary != description {
		fmt.Fprintf(&b, "**AI摘要**: %s\n\n", repo.Summary)
	}
	if len(repo.KeyFeatures) > 0 {
		b.WriteString("**关键特性**:\n")
		for _, feature := range repo.KeyFeatures {
			fmt.Fprintf(&b, "- %s\n", feature)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "**语言**: %s | **星数**: ⭐ %d\n\n", language, repo.Stars)
	b.WriteString("---\n\n")
	return b.String()
}

func (g *Generator) renderIndex(stats *domain.Statistics) string {
	var b strings.Builder

	b.WriteString("# 项目分类索引\n\n")
	fmt.Fprintf(&b, "总共有 **%d** 个分类，包含 **%d** 个项目。\n\n",
		len(stats.Categories), stats.TotalRepositories)
	fmt.Fprintf(&b, "*最后更新时间: %s*\n\n", g.nowFunc().Format("2006-01-02 15:04:05"))

	b.WriteString("## 分类列表\n\n")
	b.WriteString("| 分类 | 项目数量 | 文档链接 |\n")
	b.WriteString("|------|----------|----------|\n")
	for _, cat := range sortedCategories(stats.Categories) {
		count := stats.Categories[cat]
		if count > 0 {
			fmt.Fprintf(&b, "| %s | %d | [%s](%s) |\n", cat, count, cat, categoryFilename(cat))
		}
	}
	b.WriteString("\n## 统计概览\n\n")
	fmt.Fprintf(&b, "- **总项目数**: %d\n", stats.TotalRepositories)
	fmt.Fprintf(&b, "- **已分类项目**: %d\n", stats.ClassifiedRepositories)
	fmt.Fprintf(&b, "- **未分类项目**: %d\n", stats.UnclassifiedRepositories)
	fmt.Fprintf(&b, "- **分类完成率**: %.1f%%\n\n", stats.ClassificationRate)

	if len(stats.Languages) > 0 {
		b.WriteString("## 主要编程语言\n\n")
		b.WriteString("| 语言 | 项目数量 |\n")
		b.WriteString("|------|----------|\n")
		for _, lang := range sortedCategories(stats.Languages) {
			fmt.Fprintf(&b, "| %s | %d |\n", lang, stats.Languages[lang])
		}
		b.WriteString("\n")
	}

	return b.String()
}

// --- manifest 读写 ---

func (g *Generator) loadManifest() manifest {
	m := manifest{Categories: map[string]categoryEntry{}}
	raw, err := os.ReadFile(filepath.Join(g.outputDir, manifestFile))
	if err != nil {
		return m
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		log.Printf("⚠️ manifest 损坏，将全量重新生成: %v", err)
		return manifest{Categories: map[string]categoryEntry{}}
	}
	if m.Categories == nil {
		m.Categories = map[string]categoryEntry{}
	}
	return m
}

func (g *Generator) saveManifest(m manifest) {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		log.Printf("⚠️ 序列化 manifest 失败: %v", err)
		return
	}
	if err := os.MkdirAll(g.outputDir, 0o755); err != nil {
		log.Printf("⚠️ 创建文档目录失败: %v", err)
		return
	}
	if err := os.WriteFile(filepath.Join(g.outputDir, manifestFile), raw, 0o644); err != nil {
		log.Printf("⚠️ 写入 manifest 失败: %v", err)
	}
}

func (g *Generator) writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// --- 辅助 ---

func sortAndTruncate(repos []*domain.Repo, max int) []*domain.Repo {
	sorted := append([]*domain.Repo(nil), repos...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Stars > sorted[j].Stars
	})
	if max > 0 && len(sorted) > max {
		sorted = sorted[:max]
	}
	return sorted
}

func toPairs(repos []*domain.Repo) []itemPair {
	pairs := make([]itemPair, len(repos))
	for i, repo := range repos {
		pairs[i] = itemPair{Name: repo.Name, Stars: repo.Stars}
	}
	return pairs
}

// toCountPairs 按 sortedCategories 的顺序展开计数表，保证条目可比较
func toCountPairs(counts map[string]int) []countPair {
	pairs := make([]countPair, 0, len(counts))
	for _, name := range sortedCategories(counts) {
		pairs = append(pairs, countPair{Name: name, Count: counts[name]})
	}
	return pairs
}

func indexMatches(old, fresh indexEntry) bool {
	if old.CategoryCount != fresh.CategoryCount ||
		old.RepoCount != fresh.RepoCount ||
		old.Rate != fresh.Rate {
		return false
	}
	return samePairs(old.Categories, fresh.Categories) && samePairs(old.Languages, fresh.Languages)
}

func samePairs(old, fresh []countPair) bool {
	if len(old) != len(fresh) {
		return false
	}
	for i := range old {
		if old[i] != fresh[i] {
			return false
		}
	}
	return true
}

func manifestMatches(old, fresh categoryEntry) bool {
	if old.Total != fresh.Total || len(old.Items) != len(fresh.Items) {
		return false
	}
	for i := range old.Items {
		if old.Items[i] != fresh.Items[i] {
			return false
		}
	}
	return true
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// categoryFilename 分类名转文件名，"/" 替换成 "_"
func categoryFilename(category string) string {
	return strings.ReplaceAll(category, "/", "_") + ".md"
}

// sortedCategories 按数量降序、名称升序排列，保证渲染结果确定
func sortedCategories(counts map[string]int) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}
