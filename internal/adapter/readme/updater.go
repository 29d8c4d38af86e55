package readme

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github-star-manager/internal/common"
	"github-star-manager/internal/domain"
	"github-star-manager/internal/port"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

const (
	// 自动生成区域的哨兵标记
	MarkerStart = "<!-- STAR-MANAGER:START -->"
	MarkerEnd   = "<!-- STAR-MANAGER:END -->"

	// 结构检查认为低于这个长度的 README 不正常
	minReadmeLength = 100
)

// Updater 实现 README Updater：重写哨兵标记之间的自动生成区域
type Updater struct {
	store       port.Store
	outputFile  string
	docsDir     string
	maxPerCat   int
	sortBy      string
	sortOrder   string
	recentLimit int
	nowFunc     func() time.Time
}

// NewUpdater 创建 README 更新器。
// sortBy 取 stars / updated_at / added_date，sortOrder 取 asc / desc，
// 不认识的值回退为 stars 降序
func NewUpdater(store port.Store, outputFile, docsDir string, maxPerCategory int, sortBy, sortOrder string) *Updater {
	return &Updater{
		store:       store,
		outputFile:  outputFile,
		docsDir:     docsDir,
		maxPerCat:   maxPerCategory,
		sortBy:      sortBy,
		sortOrder:   sortOrder,
		recentLimit: 10,
		nowFunc:     time.Now,
	}
}

// Update 重写 README 的自动生成区域。
// README 不存在时合成默认模板；标记缺失时在末尾追加带标记的区块
func (u *Updater) Update(data *domain.StarsData) error {
	existing, err := os.ReadFile(u.outputFile)
	if err != nil {
		if !os.IsNotExist(err) {
			return common.WrapError(common.ErrCodeDocs, "读取 README 失败", err)
		}
		existing = []byte(u.defaultTemplate(data.Metadata.Username))
		fmt.Println("📄 README 不存在，使用默认模板")
	}

	block := u.renderBlock(data)
	content := string(existing)

	start := strings.Index(content, MarkerStart)
	end := strings.Index(content, MarkerEnd)

	if start != -1 && end != -1 && end > start {
		content = content[:start] + MarkerStart + "\n" + block + "\n" + MarkerEnd + content[end+len(MarkerEnd):]
	} else {
		// 标记缺失，在末尾追加一个完整的标记区块
		if !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		content += "\n" + MarkerStart + "\n" + block + "\n" + MarkerEnd + "\n"
	}

	if err := os.WriteFile(u.outputFile, []byte(content), 0o644); err != nil {
		return common.WrapError(common.ErrCodeDocs, "写入 README 失败", err)
	}
	fmt.Printf("📄 已更新 README: %s\n", u.outputFile)
	return nil
}

// Validate 只读检查 README 的结构健康度：标记成对、长度合理、存在一级标题
func (u *Updater) Validate() []string {
	var problems []string

	raw, err := os.ReadFile(u.outputFile)
	if err != nil {
		return []string{fmt.Sprintf("README 不存在或无法读取: %v", err)}
	}
	content := string(raw)

	if len(content) < minReadmeLength {
		problems = append(problems, fmt.Sprintf("README 过短 (%d 字节)", len(content)))
	}
	if !strings.Contains(content, MarkerStart) || !strings.Contains(content, MarkerEnd) {
		problems = append(problems, "缺少自动生成区域的哨兵标记")
	}
	if !hasTopLevelHeading(raw) {
		problems = append(problems, "缺少一级标题")
	}

	return problems
}

// hasTopLevelHeading 用 goldmark 解析 Markdown，检查是否存在 H1
func hasTopLevelHeading(source []byte) bool {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(source))

	found := false
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok && h.Level == 1 {
			found = true
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return found
}

// Backup 在破坏性更新之前把当前 README 复制到带时间戳的文件
func (u *Updater) Backup() (string, error) {
	in, err := os.Open(u.outputFile)
	if err != nil {
		return "", common.WrapError(common.ErrCodeDocs, "打开 README 失败", err)
	}
	defer in.Close()

	backupPath := fmt.Sprintf("%s.%s.bak", u.outputFile, u.nowFunc().Format("20060102-150405"))
	out, err := os.Create(backupPath)
	if err != nil {
		return "", common.WrapError(common.ErrCodeDocs, "创建备份文件失败", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return "", common.WrapError(common.ErrCodeDocs, "复制 README 失败", err)
	}
	fmt.Printf("🗂 已备份 README 到 %s\n", backupPath)
	return backupPath, nil
}

// renderBlock 渲染自动生成区域的内容：统计、分类表、语言分布、最近新增
func (u *Updater) renderBlock(data *domain.StarsData) string {
	stats := u.store.Statistics(data)
	var b strings.Builder

	b.WriteString("## 📊 Star 项目统计\n\n")
	fmt.Fprintf(&b, "*最后更新时间: %s*\n\n", u.nowFunc().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "- **总项目数**: %d\n", stats.TotalRepositories)
	fmt.Fprintf(&b, "- **已分类项目**: %d\n", stats.ClassifiedRepositories)
	fmt.Fprintf(&b, "- **分类完成率**: %.1f%%\n", stats.ClassificationRate)
	fmt.Fprintf(&b, "- **Star 总数**: %d\n\n", stats.TotalStars)

	if len(stats.Categories) > 0 {
		b.WriteString("### 分类一览\n\n")
		b.WriteString("| 分类 | 项目数量 | 精选 | 文档 |\n")
		b.WriteString("|------|----------|------|------|\n")
		for _, cat := range sortedByCount(stats.Categories) {
			file := strings.ReplaceAll(cat, "/", "_") + ".md"
			fmt.Fprintf(&b, "| %s | %d | %s | [查看](%s/%s) |\n",
				cat, stats.Categories[cat], u.topRepoLinks(data, cat), u.docsDir, file)
		}
		b.WriteString("\n")
	}

	if len(stats.Languages) > 0 {
		b.WriteString("### 语言分布\n\n")
		for _, lang := range sortedByCount(stats.Languages) {
			fmt.Fprintf(&b, "- %s: %d\n", lang, stats.Languages[lang])
		}
		b.WriteString("\n")
	}

	recent := recentAdditions(data.Repositories, u.recentLimit)
	if len(recent) > 0 {
		b.WriteString("### 最近新增\n\n")
		for _, repo := range recent {
			desc := repo.Summary
			if desc == "" {
				desc = repo.Description
			}
			fmt.Fprintf(&b, "- [%s](%s) ⭐ %d — %s\n", repo.FullName, repo.HTMLURL, repo.Stars, desc)
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// topRepoLinks 每个分类按配置的排序规则取前 N 个项目，渲染成内联链接
func (u *Updater) topRepoLinks(data *domain.StarsData, category string) string {
	repos := u.store.ByCategory(data, category)
	sortRepos(repos, u.sortBy, u.sortOrder)
	limit := u.maxPerCat
	if limit <= 0 || limit > len(repos) {
		limit = len(repos)
	}
	links := make([]string, 0, limit)
	for _, repo := range repos[:limit] {
		links = append(links, fmt.Sprintf("[%s](%s)", repo.Name, repo.HTMLURL))
	}
	return strings.Join(links, "、")
}

func (u *Updater) defaultTemplate(username string) string {
	title := "# 我的 GitHub Star 项目\n\n"
	body := "自动化管理和分类 GitHub Star 项目，通过 AI 生成摘要和分类。\n\n" +
		"项目数据每日自动更新，分类文档见 docs/ 目录。\n"
	if username != "" {
		body += fmt.Sprintf("\n用户: [%s](https://github.com/%s)\n", username, username)
	}
	return title + body
}

// sortRepos 按指定字段排序，sortBy 不认识时按星数，sortOrder 默认降序
func sortRepos(repos []*domain.Repo, sortBy, sortOrder string) {
	var less func(i, j int) bool
	switch sortBy {
	case "updated_at":
		less = func(i, j int) bool { return repos[i].UpdatedAt.Before(repos[j].UpdatedAt) }
	case "added_date":
		less = func(i, j int) bool { return repos[i].AddedDate.Before(repos[j].AddedDate) }
	default:
		less = func(i, j int) bool { return repos[i].Stars < repos[j].Stars }
	}
	if sortOrder == "asc" {
		sort.SliceStable(repos, less)
		return
	}
	sort.SliceStable(repos, func(i, j int) bool { return less(j, i) })
}

func recentAdditions(repos []*domain.Repo, limit int) []*domain.Repo {
	sorted := append([]*domain.Repo(nil), repos...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].AddedDate.After(sorted[j].AddedDate)
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

func sortedByCount(counts map[string]int) []string {
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
