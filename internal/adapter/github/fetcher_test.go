package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github-star-manager/internal/common"

	"github.com/google/go-github/v53/github"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

// setupMockGitHubServer 创建一个模拟的 GitHub API 服务器
func setupMockGitHubServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Fetcher) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := github.NewClient(nil)
	baseURL, _ := url.Parse(server.URL + "/")
	client.BaseURL = baseURL

	fetcher := &Fetcher{
		client:  client,
		limiter: rate.NewLimiter(rate.Inf, 1),
		perPage: 100,
		// 测试里不等真实退避
		maxRetries: 1,
		retryDelay: time.Millisecond,
	}
	return server, fetcher
}

// mockStarred 构造 starred 列表接口的单个条目
func mockStarred(id int64, fullName, description, language string, stars int, topics []string) map[string]any {
	repo := map[string]any{
		"id":               id,
		"name":             fullName[len("owner/"):],
		"full_name":        fullName,
		"description":      description,
		"html_url":         "https://github.com/" + fullName,
		"language":         language,
		"stargazers_count": stars,
		"forks_count":      3,
		"license":          map[string]any{"key": "mit", "name": "MIT License"},
	}
	if topics != nil {
		repo["topics"] = topics
	}
	return map[string]any{
		"starred_at": "2025-06-01T00:00:00Z",
		"repo":       repo,
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestFetchStarred_SinglePage(t *testing.T) {
	_, fetcher := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/octocat/starred", r.URL.Path)
		assert.Equal(t, "created", r.URL.Query().Get("sort"))
		assert.Equal(t, "desc", r.URL.Query().Get("direction"))
		writeJSON(t, w, []map[string]any{
			mockStarred(1, "owner/hugo", "static site generator", "Go", 70000, []string{"ssg"}),
			mockStarred(2, "owner/gin", "web framework", "Go", 75000, nil),
		})
	})

	repos, err := fetcher.FetchStarred(context.Background(), "octocat", "full", 0, nil)
	assert.NoError(t, err)
	assert.Len(t, repos, 2)

	assert.Equal(t, int64(1), repos[0].ID)
	assert.Equal(t, "owner/hugo", repos[0].FullName)
	assert.Equal(t, 70000, repos[0].Stars)
	assert.Equal(t, "MIT License", repos[0].License)
	assert.Equal(t, []string{"ssg"}, repos[0].Topics)
	// topics 缺失时归一成空切片而不是 nil
	assert.NotNil(t, repos[1].Topics)
	assert.Empty(t, repos[1].Topics)
}

func TestFetchStarred_PerPageFromConfig(t *testing.T) {
	_, fetcher := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "30", r.URL.Query().Get("per_page"))
		writeJSON(t, w, []map[string]any{
			mockStarred(1, "owner/a", "", "Go", 1, nil),
		})
	})
	fetcher.perPage = 30

	_, err := fetcher.FetchStarred(context.Background(), "octocat", "full", 0, nil)
	assert.NoError(t, err)
}

func TestNewFetcher_PerPageClamped(t *testing.T) {
	tests := []struct {
		name    string
		perPage int
		want    int
	}{
		{"合法值保留", 30, 30},
		{"零值回退上限", 0, 100},
		{"超出上限回退", 500, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := NewFetcher("", tt.perPage, 1, time.Millisecond)
			assert.Equal(t, tt.want, fetcher.perPage)
		})
	}
}

func TestFetchStarred_Pagination(t *testing.T) {
	server, fetcher := setupMockGitHubServer(t, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/users/octocat/starred", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		switch page {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<%s/users/octocat/starred?page=2>; rel="next"`, server.URL))
			writeJSON(t, w, []map[string]any{
				mockStarred(1, "owner/a", "", "Go", 1, nil),
			})
		case "2":
			writeJSON(t, w, []map[string]any{
				mockStarred(2, "owner/b", "", "Go", 2, nil),
			})
		default:
			t.Errorf("unexpected page %q", page)
		}
	})
	server.Config.Handler = mux

	repos, err := fetcher.FetchStarred(context.Background(), "octocat", "full", 0, nil)
	assert.NoError(t, err)
	assert.Len(t, repos, 2)
	assert.Equal(t, int64(2), repos[1].ID)
}

func TestFetchStarred_IncrementalEarlyExit(t *testing.T) {
	pagesServed := 0
	server, fetcher := setupMockGitHubServer(t, nil)
	server.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pagesServed++
		w.Header().Set("Link", fmt.Sprintf(`<%s/users/octocat/starred?page=2>; rel="next"`, server.URL))
		writeJSON(t, w, []map[string]any{
			mockStarred(10, "owner/new", "", "Go", 5, nil),
			mockStarred(3, "owner/known", "", "Go", 5, nil),
			mockStarred(2, "owner/older", "", "Go", 5, nil),
		})
	})

	known := map[int64]bool{3: true, 2: true}
	repos, err := fetcher.FetchStarred(context.Background(), "octocat", "incremental", 0, known)
	assert.NoError(t, err)
	// 遇到第一个已知仓库停止，后面的不再收集，也不翻下一页
	assert.Len(t, repos, 1)
	assert.Equal(t, int64(10), repos[0].ID)
	assert.Equal(t, 1, pagesServed)
}

func TestFetchStarred_FullModeIgnoresKnown(t *testing.T) {
	_, fetcher := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []map[string]any{
			mockStarred(1, "owner/a", "", "Go", 1, nil),
			mockStarred(2, "owner/b", "", "Go", 2, nil),
		})
	})

	repos, err := fetcher.FetchStarred(context.Background(), "octocat", "full", 0, map[int64]bool{1: true, 2: true})
	assert.NoError(t, err)
	assert.Len(t, repos, 2)
}

func TestFetchStarred_MaxItemsCap(t *testing.T) {
	_, fetcher := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		var items []map[string]any
		for i := int64(1); i <= 10; i++ {
			items = append(items, mockStarred(i, fmt.Sprintf("owner/repo%d", i), "", "Go", 1, nil))
		}
		writeJSON(t, w, items)
	})

	repos, err := fetcher.FetchStarred(context.Background(), "octocat", "full", 3, nil)
	assert.NoError(t, err)
	assert.Len(t, repos, 3)
}

func TestFetchStarred_PartialResultOnPageFailure(t *testing.T) {
	server, fetcher := setupMockGitHubServer(t, nil)
	server.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			// 非 429 的 4xx 立即放弃，不消耗重试
			w.WriteHeader(http.StatusForbidden)
			writeJSON(t, w, map[string]any{"message": "forbidden"})
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/users/octocat/starred?page=2>; rel="next"`, server.URL))
		writeJSON(t, w, []map[string]any{
			mockStarred(1, "owner/a", "", "Go", 1, nil),
		})
	})

	repos, err := fetcher.FetchStarred(context.Background(), "octocat", "full", 0, nil)
	// 第一页的内容作为部分结果返回，同时带上错误
	assert.Error(t, err)
	assert.Len(t, repos, 1)
}

func TestFetchStarred_NotFoundIsPermanent(t *testing.T) {
	calls := 0
	_, fetcher := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
		writeJSON(t, w, map[string]any{"message": "Not Found"})
	})

	repos, err := fetcher.FetchStarred(context.Background(), "ghost", "full", 0, nil)
	assert.Error(t, err)
	assert.Empty(t, repos)
	assert.Equal(t, 1, calls, "404 should not be retried")
}

func TestFetchStarred_ServerErrorRetries(t *testing.T) {
	calls := 0
	_, fetcher := setupMockGitHubServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(t, w, []map[string]any{
			mockStarred(1, "owner/a", "", "Go", 1, nil),
		})
	})

	repos, err := fetcher.FetchStarred(context.Background(), "octocat", "full", 0, nil)
	assert.NoError(t, err)
	assert.Len(t, repos, 1)
	assert.Equal(t, 2, calls)
}

func TestClassifyAPIError(t *testing.T) {
	assert.Nil(t, classifyAPIError(nil))

	notFound := &github.ErrorResponse{
		Response: &http.Response{StatusCode: http.StatusNotFound},
	}
	assert.True(t, common.IsPermanent(classifyAPIError(notFound)))

	serverErr := &github.ErrorResponse{
		Response: &http.Response{StatusCode: http.StatusInternalServerError},
	}
	assert.False(t, common.IsPermanent(classifyAPIError(serverErr)))
}
