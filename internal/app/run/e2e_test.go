package run

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/corpusrun/internal/config"
	"github.com/John-Robertt/corpusrun/internal/corpus"
	"github.com/John-Robertt/corpusrun/internal/domain"
	"github.com/John-Robertt/corpusrun/internal/fetch"
	"github.com/John-Robertt/corpusrun/internal/logging"
	"github.com/John-Robertt/corpusrun/internal/workspace"
)

// recorder 记录阶段事件；onDone 在阶段结束时被调用（用于在 cleanup 前观察 texts/）。
type recorder struct {
	started []string
	done    []string
	fields  map[string]map[string]any
	onDone  func(name string)
}

func (r *recorder) OnStageStart(name string) { r.started = append(r.started, name) }

func (r *recorder) OnStageDone(name string, fields map[string]any, _ time.Duration) {
	r.done = append(r.done, name)
	if r.fields == nil {
		r.fields = map[string]map[string]any{}
	}
	r.fields[name] = fields
	if r.onDone != nil {
		r.onDone(name)
	}
}

func textServer(t *testing.T, files map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newPipeline(t *testing.T, root string, urls []string, mutate func(*config.EffectiveConfig)) (*Pipeline, *recorder) {
	t.Helper()
	cfg := config.EffectiveConfig{
		WorkDir:        root,
		URLs:           urls,
		Strategy:       domain.StrategyConcurrent,
		IOWorkers:      config.DefaultIOWorkers,
		CPUWorkers:     config.DefaultCPUWorkers,
		Seed:           7,
		PersistMode:    config.DefaultPersistMode,
		DistancePolicy: config.DefaultDistancePolicy,
		TextsDir:       config.DefaultTextsDir,
		AggregateName:  config.DefaultAggregateName,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	ws, err := workspace.Open(root, cfg.TextsDir, cfg.AggregateName)
	require.NoError(t, err)

	rec := &recorder{}
	return &Pipeline{
		Config:    cfg,
		Fetcher:   fetch.HTTPFetcher{Client: http.DefaultClient, Dir: ws.TextsDir},
		Workspace: ws,
		Logger:    logging.Discard(),
		Observer:  rec,
	}, rec
}

// captureAggregate 在 aggregate 阶段结束时读取合并文件内容。
func captureAggregate(t *testing.T, p *Pipeline, rec *recorder) *string {
	t.Helper()
	var got string
	rec.onDone = func(name string) {
		if name != StageAggregate {
			return
		}
		b, err := os.ReadFile(p.Workspace.AggregatePath())
		require.NoError(t, err)
		got = string(b)
	}
	return &got
}

func TestExecute_Concurrent_EndToEnd(t *testing.T) {
	t.Parallel()
	srv := textServer(t, map[string]string{"/a/hello.txt": "hello\n", "/b/world.txt": "world\n"})
	root := t.TempDir()
	p, rec := newPipeline(t, root, []string{srv.URL + "/a/hello.txt", srv.URL + "/b/world.txt"}, nil)
	agg := captureAggregate(t, p, rec)

	rr, err := p.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "hello\nworld\n", *agg, "合并顺序应与规划顺序一致")
	corpusFile := filepath.Join(t.TempDir(), "all.txt")
	require.NoError(t, os.WriteFile(corpusFile, []byte(*agg), 0o644))
	lines, err := corpus.Tokenize(context.Background(), corpusFile, 2)
	require.NoError(t, err)
	assert.Equal(t, []domain.TokenLine{{"hello"}, {"world"}}, lines)

	assert.NotEmpty(t, rr.RunID)
	assert.Equal(t, root, rr.WorkDir)
	assert.Equal(t, []domain.SourceResult{
		{URL: srv.URL + "/a/hello.txt", Name: "hello.txt", Bytes: 6, Status: domain.SourceStatusSaved},
		{URL: srv.URL + "/b/world.txt", Name: "world.txt", Bytes: 6, Status: domain.SourceStatusSaved},
	}, rr.Sources)
	assert.Equal(t, int64(12), rr.Corpus.Bytes)
	assert.Equal(t, 2, rr.Corpus.Lines)
	assert.Equal(t, 2, rr.Corpus.Tokens)
	assert.Equal(t, 2, rr.Scores.Pairs)
	assert.Equal(t, "last-pair", rr.Scores.Policy)

	want := []string{StagePlan, StageFetch, StagePersist, StageAggregate, StageTokenize, StageShuffle, StageScore, StageCleanup}
	assert.Equal(t, want, rec.started)
	assert.Equal(t, want, rec.done)
	names := make([]string, 0, len(rr.Stages))
	for _, s := range rr.Stages {
		names = append(names, s.Name)
	}
	assert.Equal(t, want, names)
	assert.Equal(t, 2, rec.fields[StageTokenize]["tokens"])

	entries, err := p.Workspace.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries, "成功后 texts/ 应被清空")
	assert.DirExists(t, filepath.Join(root, "texts"))
	assert.True(t, rr.FinishedAt.Location() == time.UTC)
}

func TestExecute_Sequential_SameCorpus(t *testing.T) {
	t.Parallel()
	srv := textServer(t, map[string]string{"/a/hello.txt": "hello\n", "/b/world.txt": "world\n"})
	p, rec := newPipeline(t, t.TempDir(), []string{srv.URL + "/a/hello.txt", srv.URL + "/b/world.txt"}, func(c *config.EffectiveConfig) {
		c.Strategy = domain.StrategySequential
	})
	agg := captureAggregate(t, p, rec)

	rr, err := p.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "hello\nworld\n", *agg)
	assert.Equal(t, []string{StagePlan, StageFetch, StageAggregate, StageTokenize, StageShuffle, StageScore, StageCleanup}, rec.done)
	assert.Equal(t, 2, rr.Corpus.Tokens)
	assert.Equal(t, domain.StrategySequential, rr.Strategy)
}

func TestExecute_TokenizesNormalizedWords(t *testing.T) {
	t.Parallel()
	srv := textServer(t, map[string]string{"/c.txt": "Héllo  WORLD\n\n  ¿qué?  \nlast"})
	p, rec := newPipeline(t, t.TempDir(), []string{srv.URL + "/c.txt"}, nil)

	rr, err := p.Execute(context.Background())
	require.NoError(t, err)

	// 四行：hllo world / 空 / qu? / last
	assert.Equal(t, 4, rr.Corpus.Lines)
	assert.Equal(t, 4, rr.Corpus.Tokens)
	assert.Equal(t, 4, rec.fields[StageScore]["pairs"])
}

func TestExecute_SameSeedSameScores(t *testing.T) {
	t.Parallel()
	words := strings.Repeat("alpha beta gamma delta epsilon zeta eta theta\n", 50)
	srv := textServer(t, map[string]string{"/w.txt": words})

	run := func() domain.ScoreSummary {
		p, _ := newPipeline(t, t.TempDir(), []string{srv.URL + "/w.txt"}, func(c *config.EffectiveConfig) {
			c.Seed = 42
			c.CPUWorkers = 3
		})
		rr, err := p.Execute(context.Background())
		require.NoError(t, err)
		return rr.Scores
	}

	first := run()
	assert.Equal(t, 400, first.Pairs)
	assert.Equal(t, first, run())
}

func TestExecute_DuplicateBasenames(t *testing.T) {
	t.Parallel()
	srv := textServer(t, map[string]string{"/x/a.txt": "one\n", "/y/a.txt": "two\n"})
	p, rec := newPipeline(t, t.TempDir(), []string{srv.URL + "/x/a.txt", srv.URL + "/y/a.txt"}, nil)
	agg := captureAggregate(t, p, rec)

	rr, err := p.Execute(context.Background())
	require.NoError(t, err)

	require.Len(t, rr.Sources, 2)
	assert.Equal(t, "a.txt", rr.Sources[0].Name)
	assert.Equal(t, "a__2.txt", rr.Sources[1].Name)
	assert.Equal(t, "one\ntwo\n", *agg)
}

func TestExecute_StaleAggregateIsTruncated(t *testing.T) {
	t.Parallel()
	srv := textServer(t, map[string]string{"/a/hello.txt": "hello\n"})
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "texts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "texts", "all.txt"), []byte("stale\n"), 0o644))

	p, rec := newPipeline(t, root, []string{srv.URL + "/a/hello.txt"}, nil)
	agg := captureAggregate(t, p, rec)

	rr, err := p.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello\n", *agg)
	assert.Equal(t, int64(6), rr.Corpus.Bytes)
}

func TestExecute_FetchFailureAbortsRun(t *testing.T) {
	t.Parallel()
	srv := textServer(t, map[string]string{"/a/hello.txt": "hello\n"})
	root := t.TempDir()
	p, rec := newPipeline(t, root, []string{srv.URL + "/a/hello.txt", srv.URL + "/missing.txt"}, nil)

	rr, err := p.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeFetchFailed, CodeOf(err))
	assert.Equal(t, StageFetch, StageOf(err))

	var se *fetch.HTTPStatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)

	assert.Equal(t, []string{StagePlan}, rec.done, "失败阶段不应发出 OnStageDone")
	assert.Equal(t, []string{StagePlan, StageFetch}, rec.started, "失败之后不应再有阶段开始")
	assert.Empty(t, rr.Sources)
	assert.NoFileExists(t, filepath.Join(root, "texts", "all.txt"))
}

func TestExecute_SequentialFetchFailure(t *testing.T) {
	t.Parallel()
	srv := textServer(t, map[string]string{"/a/hello.txt": "hello\n"})
	root := t.TempDir()
	p, _ := newPipeline(t, root, []string{srv.URL + "/a/hello.txt", srv.URL + "/missing.txt"}, func(c *config.EffectiveConfig) {
		c.Strategy = domain.StrategySequential
	})

	_, err := p.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeFetchFailed, CodeOf(err))
	// 顺序模式下第一个来源已经落盘；失败时保留现场。
	assert.FileExists(t, filepath.Join(root, "texts", "hello.txt"))
}

func TestExecute_KeepModeDropsExisting(t *testing.T) {
	t.Parallel()
	srv := textServer(t, map[string]string{"/a/hello.txt": "hello\n", "/b/world.txt": "world\n"})
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "texts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "texts", "hello.txt"), []byte("old\n"), 0o644))

	p, rec := newPipeline(t, root, []string{srv.URL + "/a/hello.txt", srv.URL + "/b/world.txt"}, func(c *config.EffectiveConfig) {
		c.PersistMode = "keep"
	})
	agg := captureAggregate(t, p, rec)

	rr, err := p.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.SourceStatusDropped, rr.Sources[0].Status)
	assert.Equal(t, domain.SourceStatusSaved, rr.Sources[1].Status)
	assert.Equal(t, 1, rr.Dropped())
	assert.Equal(t, "old\nworld\n", *agg)
	assert.Equal(t, 1, rec.fields[StagePersist]["dropped"])
}

func TestExecute_PersistFailure(t *testing.T) {
	t.Parallel()
	srv := textServer(t, map[string]string{"/a/hello.txt": "hello\n"})
	root := t.TempDir()
	// 目标路径被一个非空目录占用。
	require.NoError(t, os.MkdirAll(filepath.Join(root, "texts", "hello.txt", "x"), 0o755))

	p, _ := newPipeline(t, root, []string{srv.URL + "/a/hello.txt"}, nil)
	_, err := p.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeIOFailed, CodeOf(err))
	assert.Equal(t, StagePersist, StageOf(err))
}

func TestExecute_LockedWorkspace(t *testing.T) {
	t.Parallel()
	srv := textServer(t, map[string]string{"/a/hello.txt": "hello\n"})
	root := t.TempDir()
	p, rec := newPipeline(t, root, []string{srv.URL + "/a/hello.txt"}, nil)

	other := flock.New(filepath.Join(root, ".corpusrun.lock"))
	ok, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	t.Cleanup(func() { _ = other.Unlock() })

	_, err = p.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeLocked, CodeOf(err))
	assert.ErrorIs(t, err, workspace.ErrLocked)
	assert.Empty(t, rec.started)
}

func TestExecute_InvalidConfig(t *testing.T) {
	t.Parallel()
	cases := []func(*config.EffectiveConfig){
		func(c *config.EffectiveConfig) { c.DistancePolicy = "avg" },
		func(c *config.EffectiveConfig) { c.PersistMode = "append" },
		func(c *config.EffectiveConfig) { c.URLs = []string{"https://example.test/dir/"} },
		func(c *config.EffectiveConfig) { c.URLs = nil },
	}
	for i, mutate := range cases {
		p, _ := newPipeline(t, t.TempDir(), []string{"https://example.test/a.txt"}, mutate)
		_, err := p.Execute(context.Background())
		require.Error(t, err, "case %d", i)
		assert.Equal(t, domain.ErrCodeConfigInvalid, CodeOf(err), "case %d", i)
	}
}

func TestExecute_MissingWorkspace(t *testing.T) {
	p := &Pipeline{Config: config.EffectiveConfig{DistancePolicy: "last-pair"}}
	_, err := p.Execute(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.ErrCodeConfigInvalid, CodeOf(err))
}
