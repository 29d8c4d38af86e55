package gitops

import (
	"context"
	"fmt"
	"time"

	"github-star-manager/internal/common"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
)

// Publisher 实现 port.Publisher：把数据和文档变更提交推送到当前 git 仓库
type Publisher struct {
	repoPath string
	token    string
	// 只纳入这些路径的变更
	paths   []string
	nowFunc func() time.Time
}

// NewPublisher 创建推送器。paths 为空时默认提交 data/、docs/ 和 README.md
func NewPublisher(repoPath, token string, paths []string) *Publisher {
	if len(paths) == 0 {
		paths = []string{"data", "docs", "README.md"}
	}
	return &Publisher{
		repoPath: repoPath,
		token:    token,
		paths:    paths,
		nowFunc:  time.Now,
	}
}

// HasChanges 检查工作区是否有待提交的变更
func (p *Publisher) HasChanges() (bool, error) {
	repo, err := git.PlainOpen(p.repoPath)
	if err != nil {
		return false, common.WrapError(common.ErrCodeGit, "打开 git 仓库失败", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return false, common.WrapError(common.ErrCodeGit, "获取工作区失败", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return false, common.WrapError(common.ErrCodeGit, "获取工作区状态失败", err)
	}
	return !status.IsClean(), nil
}

// CommitAndPush 添加配置的路径、提交并推送。工作区干净时直接返回
func (p *Publisher) CommitAndPush(ctx context.Context, message string) error {
	repo, err := git.PlainOpen(p.repoPath)
	if err != nil {
		return common.WrapError(common.ErrCodeGit, "打开 git 仓库失败", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return common.WrapError(common.ErrCodeGit, "获取工作区失败", err)
	}

	for _, path := range p.paths {
		// 路径可能尚未生成，忽略单个 add 失败
		if err := worktree.AddWithOptions(&git.AddOptions{Path: path}); err != nil {
			continue
		}
	}

	status, err := worktree.Status()
	if err != nil {
		return common.WrapError(common.ErrCodeGit, "获取工作区状态失败", err)
	}
	if status.IsClean() {
		fmt.Println("📝 没有文件变更，跳过提交")
		return nil
	}

	now := p.nowFunc()
	_, err = worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "GitHub Action",
			Email: "action@github.com",
			When:  now,
		},
	})
	if err != nil {
		return common.WrapError(common.ErrCodeGit, "提交失败", err)
	}
	fmt.Println("✅ 变更提交成功")

	pushOpts := &git.PushOptions{}
	if p.token != "" {
		pushOpts.Auth = &githttp.BasicAuth{
			Username: "x-access-token",
			Password: p.token,
		}
	}

	fmt.Println("🚀 推送变更到远程仓库...")
	if err := repo.PushContext(ctx, pushOpts); err != nil {
		if err == git.NoErrAlreadyUpToDate {
			fmt.Println("📝 远程已是最新")
			return nil
		}
		return common.WrapError(common.ErrCodeGit, "推送失败", err)
	}
	fmt.Println("✅ 变更推送成功")
	return nil
}
