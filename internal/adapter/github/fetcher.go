package github

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github-star-manager/internal/common"
	"github-star-manager/internal/domain"

	"github.com/google/go-github/v53/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// 主动限速约 1.2 次/秒，用不满认证配额 (5000/小时) 但足够礼貌
const proactiveRate = 1.2

// Fetcher 实现了 port.Scouter 接口
type Fetcher struct {
	client     *github.Client
	limiter    *rate.Limiter
	perPage    int
	maxRetries int
	retryDelay time.Duration
}

// NewFetcher 初始化 GitHub 客户端。perPage 不在 1~100 范围内时按上限 100 处理
func NewFetcher(token string, perPage, maxRetries int, retryDelay time.Duration) *Fetcher {
	var client *github.Client

	if token == "" {
		client = github.NewClient(nil)
	} else {
		ctx := context.Background()
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc := oauth2.NewClient(ctx, ts)
		client = github.NewClient(tc)
	}

	if perPage <= 0 || perPage > 100 {
		perPage = 100
	}

	return &Fetcher{
		client:     client,
		limiter:    rate.NewLimiter(rate.Limit(proactiveRate), 1),
		perPage:    perPage,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// SetBaseURL 覆盖 API 地址，测试时指向 httptest 服务
func (f *Fetcher) SetBaseURL(raw string) error {
	u, err := f.client.BaseURL.Parse(raw)
	if err != nil {
		return err
	}
	f.client.BaseURL = u
	return nil
}

// FetchStarred 分页抓取用户的 Star 列表。
// incremental 模式下，遇到第一个已入库的仓库就停止翻页。
// 依赖 GitHub 按 Star 时间倒序返回——如果上游顺序变化，增量模式可能漏项，
// 这是已知风险，与原始行为保持一致。
// 某一页重试耗尽或遇到不可重试错误时，返回已经累积的部分结果
func (f *Fetcher) FetchStarred(ctx context.Context, username, mode string, maxItems int, known map[int64]bool) ([]*domain.Repo, error) {
	opts := &github.ActivityListStarredOptions{
		Sort:      "created",
		Direction: "desc",
		ListOptions: github.ListOptions{
			PerPage: f.perPage,
		},
	}

	var all []*domain.Repo
	page := 1

	for {
		opts.Page = page

		var starred []*github.StarredRepository
		var resp *github.Response
		err := common.Do(ctx, func() error {
			if err := f.limiter.Wait(ctx); err != nil {
				return common.Permanent(err)
			}
			var apiErr error
			starred, resp, apiErr = f.client.Activity.ListStarred(ctx, username, opts)
			return classifyAPIError(apiErr)
		},
			common.WithMaxRetries(f.maxRetries),
			common.WithInitialDelay(f.retryDelay),
		)
		if err != nil {
			// 部分结果可以接受，直接合并已抓到的内容
			log.Printf("❌ 获取第 %d 页失败: %v，返回已累积的 %d 个项目", page, err, len(all))
			return all, common.WrapError(common.ErrCodeGitHubAPI, fmt.Sprintf("第 %d 页抓取失败", page), err)
		}

		if len(starred) == 0 {
			break
		}

		stop := false
		for _, item := range starred {
			repo := normalize(item)
			if mode == "incremental" && known[repo.ID] {
				fmt.Printf("⏭️ 遇到已知项目 %s，增量模式提前结束\n", repo.FullName)
				stop = true
				break
			}
			all = append(all, repo)
			if maxItems > 0 && len(all) >= maxItems {
				stop = true
				break
			}
		}

		fmt.Printf("📥 第 %d 页获取 %d 个项目，累计 %d 个\n", page, len(starred), len(all))

		if stop || resp.NextPage == 0 {
			break
		}
		page = resp.NextPage
	}

	return all, nil
}

// classifyAPIError 把 go-github 的错误映射成重试策略:
// 限流等到重置时间、5xx 退避重试、其余 4xx 直接放弃
func classifyAPIError(err error) error {
	if err == nil {
		return nil
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		wait := time.Until(rateErr.Rate.Reset.Time)
		if wait < 0 {
			wait = time.Second
		}
		log.Printf("⏳ 触发 GitHub 限流，等待 %s 后重试", wait.Round(time.Second))
		return common.RetryAfter(wait, err)
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		wait := time.Minute
		if abuseErr.RetryAfter != nil {
			wait = *abuseErr.RetryAfter
		}
		return common.RetryAfter(wait, err)
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		code := respErr.Response.StatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return common.Permanent(err)
		}
	}

	return err
}

// normalize 把 GitHub API 返回的原始对象转换成存储记录
func normalize(item *github.StarredRepository) *domain.Repo {
	r := item.GetRepository()

	repo := &domain.Repo{
		ID:          r.GetID(),
		Name:        r.GetName(),
		FullName:    r.GetFullName(),
		Description: r.GetDescription(),
		HTMLURL:     r.GetHTMLURL(),
		Language:    r.GetLanguage(),
		Stars:       r.GetStargazersCount(),
		Forks:       r.GetForksCount(),
		Topics:      r.Topics,
		License:     r.GetLicense().GetName(),
		CreatedAt:   r.GetCreatedAt().Time,
		UpdatedAt:   r.GetUpdatedAt().Time,
		PushedAt:    r.GetPushedAt().Time,
	}
	if repo.Topics == nil {
		repo.Topics = []string{}
	}
	return repo
}
