package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github-star-manager/internal/adapter/store"
	"github-star-manager/internal/config"
	"github-star-manager/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockScouter 模拟 Scouter 接口
type MockScouter struct {
	mock.Mock
}

func (m *MockScouter) FetchStarred(ctx context.Context, username, mode string, maxItems int, known map[int64]bool) ([]*domain.Repo, error) {
	args := m.Called(ctx, username, mode, maxItems, known)
	return args.Get(0).([]*domain.Repo), args.Error(1)
}

// MockClassifier 模拟 Classifier 接口
type MockClassifier struct {
	mock.Mock
}

func (m *MockClassifier) Classify(ctx context.Context, repo *domain.Repo) *domain.ClassificationResult {
	args := m.Called(ctx, repo)
	return args.Get(0).(*domain.ClassificationResult)
}

// MockDocGenerator 模拟文档生成器
type MockDocGenerator struct {
	mock.Mock
}

func (m *MockDocGenerator) GenerateAll(data *domain.StarsData, force bool) map[string]bool {
	args := m.Called(data, force)
	return args.Get(0).(map[string]bool)
}

func (m *MockDocGenerator) GenerateIndex(data *domain.StarsData, force bool) (bool, error) {
	args := m.Called(data, force)
	return args.Bool(0), args.Error(1)
}

func (m *MockDocGenerator) CleanObsolete(data *domain.StarsData) error {
	args := m.Called(data)
	return args.Error(0)
}

// MockReadmeUpdater 模拟 README 更新器
type MockReadmeUpdater struct {
	mock.Mock
}

func (m *MockReadmeUpdater) Update(data *domain.StarsData) error {
	args := m.Called(data)
	return args.Error(0)
}

// MockPublisher 模拟 git 推送
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) HasChanges() (bool, error) {
	args := m.Called()
	return args.Bool(0), args.Error(1)
}

func (m *MockPublisher) CommitAndPush(ctx context.Context, message string) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.GitHub.Username = "octocat"
	cfg.AI.RequestInterval = 0
	return cfg
}

func newTestStore(t *testing.T) *store.JSONStore {
	t.Helper()
	dir := t.TempDir()
	return store.NewJSONStore(
		filepath.Join(dir, "data", "stars_data.json"),
		filepath.Join(dir, "data", "backup.json"),
		false,
	)
}

func sampleRepos() []*domain.Repo {
	return []*domain.Repo{
		{ID: 1, Name: "hugo", FullName: "owner/hugo", Description: "static site generator", Language: "Go", Stars: 100},
		{ID: 2, Name: "gin", FullName: "owner/gin", Description: "web framework", Language: "Go", Stars: 200},
		{ID: 3, Name: "delve", FullName: "owner/delve", Description: "debugger", Language: "Go", Stars: 300},
	}
}

func TestFetch_MergesAndSaves(t *testing.T) {
	cfg := testConfig()
	s := newTestStore(t)
	scouter := new(MockScouter)
	scouter.On("FetchStarred", mock.Anything, "octocat", "incremental", 0, mock.Anything).
		Return(sampleRepos(), nil)

	w := NewWorkflow(cfg, scouter, nil, s, nil, nil, nil, nil)

	data, newCount, updatedCount, err := w.Fetch(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 3, newCount)
	assert.Equal(t, 0, updatedCount)
	assert.Len(t, data.Repositories, 3)
	assert.Equal(t, "octocat", data.Metadata.Username)
	assert.False(t, data.Metadata.LastFetchTime.IsZero())

	// 落盘后重新加载能读到同样的数据
	reloaded := s.Load()
	assert.Len(t, reloaded.Repositories, 3)
	scouter.AssertExpectations(t)
}

func TestFetch_PassesKnownIDs(t *testing.T) {
	cfg := testConfig()
	s := newTestStore(t)

	// 预置一条存量数据
	data := s.Load()
	s.Merge(data, sampleRepos()[:1])
	s.Save(data)

	scouter := new(MockScouter)
	scouter.On("FetchStarred", mock.Anything, "octocat", "incremental", 0,
		mock.MatchedBy(func(known map[int64]bool) bool { return known[1] })).
		Return([]*domain.Repo{}, nil)

	w := NewWorkflow(cfg, scouter, nil, s, nil, nil, nil, nil)
	_, _, _, err := w.Fetch(context.Background())
	assert.NoError(t, err)
	scouter.AssertExpectations(t)
}

func TestFetch_TotalFailureReturnsError(t *testing.T) {
	cfg := testConfig()
	s := newTestStore(t)
	scouter := new(MockScouter)
	scouter.On("FetchStarred", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]*domain.Repo{}, errors.New("network down"))

	w := NewWorkflow(cfg, scouter, nil, s, nil, nil, nil, nil)
	_, _, _, err := w.Fetch(context.Background())
	assert.Error(t, err)
}

func TestFetch_PartialResultIsMerged(t *testing.T) {
	cfg := testConfig()
	s := newTestStore(t)
	scouter := new(MockScouter)
	scouter.On("FetchStarred", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(sampleRepos()[:2], errors.New("page 3 failed"))

	w := NewWorkflow(cfg, scouter, nil, s, nil, nil, nil, nil)
	data, newCount, _, err := w.Fetch(context.Background())
	// 部分结果不算失败
	assert.NoError(t, err)
	assert.Equal(t, 2, newCount)
	assert.Len(t, data.Repositories, 2)
}

func TestClassifyAll(t *testing.T) {
	cfg := testConfig()
	s := newTestStore(t)
	data := s.Load()
	s.Merge(data, sampleRepos())

	classifier := new(MockClassifier)
	for _, repo := range data.Repositories {
		repo := repo
		classifier.On("Classify", mock.Anything, mock.MatchedBy(func(r *domain.Repo) bool { return r.ID == repo.ID })).
			Return(&domain.ClassificationResult{
				Category:    "开发工具",
				Summary:     repo.Description,
				KeyFeatures: []string{},
			})
	}

	w := NewWorkflow(cfg, nil, classifier, s, nil, nil, nil, nil)
	classified := w.ClassifyAll(context.Background(), data)

	assert.Equal(t, 3, classified)
	for _, repo := range data.Repositories {
		assert.True(t, repo.IsClassified)
		assert.Equal(t, "开发工具", repo.Category)
	}
	classifier.AssertExpectations(t)
}

func TestClassifyAll_NothingPending(t *testing.T) {
	cfg := testConfig()
	s := newTestStore(t)
	data := s.Load()

	w := NewWorkflow(cfg, nil, new(MockClassifier), s, nil, nil, nil, nil)
	assert.Equal(t, 0, w.ClassifyAll(context.Background(), data))
}

func TestClassifyAll_SkipsAlreadyClassified(t *testing.T) {
	cfg := testConfig()
	s := newTestStore(t)
	data := s.Load()
	s.Merge(data, sampleRepos())
	s.UpdateClassification(data, 1, &domain.ClassificationResult{Category: "其他", Summary: "x"})

	classifier := new(MockClassifier)
	classifier.On("Classify", mock.Anything, mock.Anything).
		Return(&domain.ClassificationResult{Category: "开发工具", Summary: "y", KeyFeatures: []string{}}).
		Times(2)

	w := NewWorkflow(cfg, nil, classifier, s, nil, nil, nil, nil)
	classified := w.ClassifyAll(context.Background(), data)

	assert.Equal(t, 2, classified)
	// 已分类的不被重新分类
	assert.Equal(t, "其他", data.Repositories[0].Category)
	classifier.AssertExpectations(t)
}

func TestRun_FullPipeline(t *testing.T) {
	cfg := testConfig()
	s := newTestStore(t)

	scouter := new(MockScouter)
	scouter.On("FetchStarred", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(sampleRepos(), nil)

	classifier := new(MockClassifier)
	classifier.On("Classify", mock.Anything, mock.Anything).
		Return(&domain.ClassificationResult{Category: "开发工具", Summary: "摘要", KeyFeatures: []string{}})

	docs := new(MockDocGenerator)
	docs.On("GenerateAll", mock.Anything, false).Return(map[string]bool{"开发工具": true})
	docs.On("GenerateIndex", mock.Anything, false).Return(true, nil)
	docs.On("CleanObsolete", mock.Anything).Return(nil)

	readme := new(MockReadmeUpdater)
	readme.On("Update", mock.Anything).Return(nil)

	publisher := new(MockPublisher)
	publisher.On("CommitAndPush", mock.Anything, mock.MatchedBy(func(msg string) bool {
		return len(msg) > 0
	})).Return(nil)

	w := NewWorkflow(cfg, scouter, classifier, s, docs, readme, publisher, nil)
	assert.NoError(t, w.Run(context.Background()))

	scouter.AssertExpectations(t)
	docs.AssertExpectations(t)
	readme.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestRun_FetchFailedNoStaleDataAborts(t *testing.T) {
	cfg := testConfig()
	s := newTestStore(t)

	scouter := new(MockScouter)
	scouter.On("FetchStarred", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]*domain.Repo{}, errors.New("api down"))

	w := NewWorkflow(cfg, scouter, nil, s, nil, nil, nil, nil)
	assert.Error(t, w.Run(context.Background()))
}

func TestRun_FetchFailedWithStaleDataContinues(t *testing.T) {
	cfg := testConfig()
	cfg.Workflow.SkipClassification = true
	s := newTestStore(t)

	// 存量数据
	data := s.Load()
	s.Merge(data, sampleRepos())
	s.Save(data)

	scouter := new(MockScouter)
	scouter.On("FetchStarred", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]*domain.Repo{}, errors.New("api down"))

	docs := new(MockDocGenerator)
	docs.On("GenerateAll", mock.Anything, false).Return(map[string]bool{})
	docs.On("GenerateIndex", mock.Anything, false).Return(false, nil)
	docs.On("CleanObsolete", mock.Anything).Return(nil)

	readme := new(MockReadmeUpdater)
	readme.On("Update", mock.Anything).Return(nil)

	w := NewWorkflow(cfg, scouter, nil, s, docs, readme, nil, nil)
	assert.NoError(t, w.Run(context.Background()))
	docs.AssertExpectations(t)
}

func TestRun_NonFatalPhaseErrorsDoNotAbort(t *testing.T) {
	cfg := testConfig()
	cfg.Workflow.SkipClassification = true
	s := newTestStore(t)

	scouter := new(MockScouter)
	scouter.On("FetchStarred", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(sampleRepos(), nil)

	docs := new(MockDocGenerator)
	docs.On("GenerateAll", mock.Anything, false).Return(map[string]bool{})
	docs.On("GenerateIndex", mock.Anything, false).Return(false, errors.New("index failed"))
	docs.On("CleanObsolete", mock.Anything).Return(errors.New("clean failed"))

	readme := new(MockReadmeUpdater)
	readme.On("Update", mock.Anything).Return(errors.New("readme failed"))

	publisher := new(MockPublisher)
	publisher.On("CommitAndPush", mock.Anything, mock.Anything).Return(errors.New("push failed"))

	w := NewWorkflow(cfg, scouter, nil, s, docs, readme, publisher, nil)
	assert.NoError(t, w.Run(context.Background()))
}

func TestCommitMessage(t *testing.T) {
	cfg := testConfig()
	w := NewWorkflow(cfg, nil, nil, nil, nil, nil, nil, nil)

	stats := &domain.Statistics{TotalRepositories: 10, ClassifiedRepositories: 8}
	msg := w.CommitMessage(stats)

	assert.Contains(t, msg, "🤖 自动更新GitHub Star项目数据")
	assert.Contains(t, msg, "(增量更新)")
	assert.Contains(t, msg, "10 个项目，8 个已分类")

	cfg.Workflow.FetchMode = "full"
	assert.Contains(t, w.CommitMessage(stats), "(全量更新)")

	cfg.Workflow.SkipClassification = true
	assert.Contains(t, w.CommitMessage(stats), "跳过AI分类: 是")
}

func TestClassifyAll_ConcurrencyRespected(t *testing.T) {
	cfg := testConfig()
	cfg.Workflow.Concurrency = 2
	s := newTestStore(t)
	data := s.Load()

	var repos []*domain.Repo
	for i := int64(1); i <= 20; i++ {
		repos = append(repos, &domain.Repo{ID: i, Name: "r", FullName: "o/r"})
	}
	s.Merge(data, repos)

	// 用计数器观察同时在跑的 worker 数
	var mu = make(chan struct{}, 1)
	active, maxActive := 0, 0
	classifier := new(MockClassifier)
	classifier.On("Classify", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			mu <- struct{}{}
			active++
			if active > maxActive {
				maxActive = active
			}
			<-mu
			time.Sleep(5 * time.Millisecond)
			mu <- struct{}{}
			active--
			<-mu
		}).
		Return(&domain.ClassificationResult{Category: "其他", Summary: "x", KeyFeatures: []string{}})

	w := NewWorkflow(cfg, nil, classifier, s, nil, nil, nil, nil)
	classified := w.ClassifyAll(context.Background(), data)

	assert.Equal(t, 20, classified)
	assert.LessOrEqual(t, maxActive, 2)
}
