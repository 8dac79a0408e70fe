// Package run 编排一次完整的语料流水线：
// plan → fetch → persist → aggregate →（屏障）→ tokenize → shuffle → score → cleanup。
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/John-Robertt/corpusrun/internal/app/planner"
	"github.com/John-Robertt/corpusrun/internal/config"
	"github.com/John-Robertt/corpusrun/internal/corpus"
	"github.com/John-Robertt/corpusrun/internal/distance"
	"github.com/John-Robertt/corpusrun/internal/domain"
	"github.com/John-Robertt/corpusrun/internal/fetch"
	"github.com/John-Robertt/corpusrun/internal/pool"
	"github.com/John-Robertt/corpusrun/internal/workspace"
)

// scoreChunk 是评分阶段单个任务处理的 token 对数量。
const scoreChunk = 4096

// Pipeline 持有一次 run 所需的全部依赖；一个 Pipeline 对应一个工作目录。
type Pipeline struct {
	Config    config.EffectiveConfig
	Fetcher   fetch.Fetcher
	Workspace *workspace.Workspace
	Logger    *slog.Logger
	Observer  Observer
	// Rand 为空时按 Config.Seed 创建（0 表示按当前时间）。
	Rand *rand.Rand
}

// Execute 执行一次 run，返回 RunReport。
//
// 任何阶段失败都会中止整个 run（没有部分成功），返回 *Error；
// 唯一的例外是 keep 模式下目标文件已存在：记录告警后继续。
// 失败时 texts/ 保留现场，不做清理。
func (p *Pipeline) Execute(ctx context.Context) (rr domain.RunReport, err error) {
	rr = domain.RunReport{
		RunID:     uuid.NewString(),
		Strategy:  p.Config.Strategy,
		StartedAt: time.Now(),
	}
	defer func() {
		rr.FinishedAt = time.Now()
		rr.Finalize()
	}()

	ws := p.Workspace
	if ws == nil {
		return rr, stageErr(StagePlan, domain.ErrCodeConfigInvalid, errors.New("缺少 workspace"))
	}
	rr.WorkDir = ws.Root

	policy, err := distance.ParsePolicy(p.Config.DistancePolicy)
	if err != nil {
		return rr, stageErr(StagePlan, domain.ErrCodeConfigInvalid, err)
	}
	mode, err := corpus.ParseMode(p.Config.PersistMode)
	if err != nil {
		return rr, stageErr(StagePlan, domain.ErrCodeConfigInvalid, err)
	}

	log := p.logger().With("run_id", rr.RunID)
	fetcher := p.Fetcher
	if fetcher == nil {
		fetcher = fetch.HTTPFetcher{Client: http.DefaultClient, Dir: ws.TextsDir}
	}
	persister := corpus.Persister{Mode: mode, Logger: log}

	if err := ws.Lock(); err != nil {
		code := domain.ErrCodeIOFailed
		if errors.Is(err, workspace.ErrLocked) {
			code = domain.ErrCodeLocked
		}
		return rr, stageErr(StagePlan, code, err)
	}
	defer func() {
		if uerr := ws.Unlock(); uerr != nil {
			log.Warn("释放工作目录锁失败", "error", uerr)
		}
	}()

	log.Info("run 开始",
		"workdir", ws.Root,
		"strategy", p.Config.Strategy,
		"io_workers", p.Config.IOWorkers,
		"cpu_workers", p.Config.CPUWorkers,
		"persist_mode", mode,
		"distance_policy", string(policy),
	)

	// plan
	var sources []domain.Source
	err = p.stage(&rr, log, StagePlan, func() (map[string]any, error) {
		s, err := planner.PlanSources(p.Config.URLs, ws.AggregateName)
		if err != nil {
			return nil, stageErr(StagePlan, domain.ErrCodeConfigInvalid, err)
		}
		sources = s
		return map[string]any{"sources": len(s)}, nil
	})
	if err != nil {
		return rr, err
	}

	// I/O 阶段
	if p.Config.Strategy == domain.StrategySequential {
		err = p.stage(&rr, log, StageFetch, func() (map[string]any, error) {
			res, err := p.fetchSequential(ctx, log, fetcher, persister, sources)
			if err != nil {
				return nil, err
			}
			rr.Sources = res
			return ioFields(res), nil
		})
		if err != nil {
			return rr, err
		}
	} else {
		var docs []domain.Document
		err = p.stage(&rr, log, StageFetch, func() (map[string]any, error) {
			d, err := pool.Map(ctx, p.Config.IOWorkers, sources, func(ctx context.Context, _ int, src domain.Source) (domain.Document, error) {
				return p.fetchOne(ctx, log, fetcher, src)
			})
			if err != nil {
				return nil, stageErr(StageFetch, domain.ErrCodeFetchFailed, err)
			}
			docs = d
			return map[string]any{"sources": len(d), "workers": min(p.Config.IOWorkers, len(d))}, nil
		})
		if err != nil {
			return rr, err
		}

		err = p.stage(&rr, log, StagePersist, func() (map[string]any, error) {
			res, err := pool.Map(ctx, p.Config.IOWorkers, docs, func(_ context.Context, _ int, doc domain.Document) (domain.SourceResult, error) {
				return persistOne(persister, doc)
			})
			if err != nil {
				return nil, stageErr(StagePersist, domain.ErrCodeIOFailed, err)
			}
			rr.Sources = res
			return ioFields(res), nil
		})
		if err != nil {
			return rr, err
		}
	}

	// aggregate：按规划顺序合并；返回前文件已关闭，构成 I/O 与 CPU 阶段之间的屏障。
	aggPath := ws.AggregatePath()
	err = p.stage(&rr, log, StageAggregate, func() (map[string]any, error) {
		files := make([]string, 0, len(sources))
		for _, s := range sources {
			files = append(files, ws.SourcePath(s.Name))
		}
		n, err := corpus.Aggregate(ctx, files, aggPath)
		if err != nil {
			return nil, stageErr(StageAggregate, domain.ErrCodeIOFailed, err)
		}
		rr.Corpus.Path = aggPath
		rr.Corpus.Bytes = n
		return map[string]any{"files": len(files), "bytes": n}, nil
	})
	if err != nil {
		return rr, err
	}

	// CPU 阶段
	var tokens []domain.Token
	err = p.stage(&rr, log, StageTokenize, func() (map[string]any, error) {
		lines, err := corpus.Tokenize(ctx, aggPath, p.Config.CPUWorkers)
		if err != nil {
			return nil, stageErr(StageTokenize, domain.ErrCodeTokenizeFailed, err)
		}
		tokens = domain.Flatten(lines)
		rr.Corpus.Lines = len(lines)
		rr.Corpus.Tokens = len(tokens)
		return map[string]any{"lines": len(lines), "tokens": len(tokens)}, nil
	})
	if err != nil {
		return rr, err
	}

	var a, b []domain.Token
	err = p.stage(&rr, log, StageShuffle, func() (map[string]any, error) {
		rng, seed := p.rng()
		a = slices.Clone(tokens)
		b = slices.Clone(tokens)
		rng.Shuffle(len(a), func(i, j int) { a[i], a[j] = a[j], a[i] })
		rng.Shuffle(len(b), func(i, j int) { b[i], b[j] = b[j], b[i] })
		fields := map[string]any{"tokens": len(a)}
		if seed != 0 {
			fields["seed"] = seed
		}
		return fields, nil
	})
	if err != nil {
		return rr, err
	}

	err = p.stage(&rr, log, StageScore, func() (map[string]any, error) {
		scores, err := scorePairs(ctx, p.Config.CPUWorkers, policy, a, b)
		if err != nil {
			return nil, stageErr(StageScore, domain.ErrCodeScoreFailed, err)
		}
		rr.Scores = domain.Summarize(string(policy), scores)
		return map[string]any{
			"pairs":   rr.Scores.Pairs,
			"mean":    rr.Scores.Mean,
			"max":     rr.Scores.Max,
			"workers": p.Config.CPUWorkers,
		}, nil
	})
	if err != nil {
		return rr, err
	}

	err = p.stage(&rr, log, StageCleanup, func() (map[string]any, error) {
		n, err := ws.Cleanup()
		if err != nil {
			return nil, stageErr(StageCleanup, domain.ErrCodeIOFailed, err)
		}
		return map[string]any{"removed": n}, nil
	})
	if err != nil {
		return rr, err
	}

	log.Info("run 完成",
		"sources", len(rr.Sources),
		"dropped", rr.Dropped(),
		"tokens", rr.Corpus.Tokens,
		"took", time.Since(rr.StartedAt),
	)
	return rr, nil
}

// stage 发出 Observer 事件并记录耗时；fn 返回的错误原样上抛。
func (p *Pipeline) stage(rr *domain.RunReport, log *slog.Logger, name string, fn func() (map[string]any, error)) error {
	obs := p.observer()
	obs.OnStageStart(name)

	started := time.Now()
	fields, err := fn()
	dur := time.Since(started)
	if err != nil {
		log.Error("阶段失败", "stage", name, "error", err, "took", dur)
		return err
	}

	rr.Stages = append(rr.Stages, domain.StageTiming{Name: name, Duration: dur})
	obs.OnStageDone(name, fields, dur)
	return nil
}

func (p *Pipeline) fetchOne(ctx context.Context, log *slog.Logger, f fetch.Fetcher, src domain.Source) (domain.Document, error) {
	started := time.Now()
	doc, err := f.Fetch(ctx, src)
	if err != nil {
		return domain.Document{}, err
	}
	// 目标路径由 workspace 决定，与 Fetcher 的实现无关。
	doc.Path = p.Workspace.SourcePath(src.Name)
	log.Debug("下载完成", "url", src.URL, "name", src.Name, "bytes", len(doc.Text), "took", time.Since(started))
	return doc, nil
}

// fetchSequential 逐个来源执行 fetch → persist。
func (p *Pipeline) fetchSequential(ctx context.Context, log *slog.Logger, f fetch.Fetcher, persister corpus.Persister, sources []domain.Source) ([]domain.SourceResult, error) {
	out := make([]domain.SourceResult, 0, len(sources))
	for _, src := range sources {
		doc, err := p.fetchOne(ctx, log, f, src)
		if err != nil {
			return nil, stageErr(StageFetch, domain.ErrCodeFetchFailed, err)
		}
		res, err := persistOne(persister, doc)
		if err != nil {
			return nil, stageErr(StagePersist, domain.ErrCodeIOFailed, err)
		}
		out = append(out, res)
	}
	return out, nil
}

func persistOne(persister corpus.Persister, doc domain.Document) (domain.SourceResult, error) {
	res := domain.SourceResult{
		URL:    doc.Source.URL,
		Name:   doc.Source.Name,
		Bytes:  len(doc.Text),
		Status: domain.SourceStatusSaved,
	}
	saved, err := persister.Save(doc)
	if err != nil {
		return domain.SourceResult{}, err
	}
	if !saved {
		res.Status = domain.SourceStatusDropped
	}
	return res, nil
}

func ioFields(res []domain.SourceResult) map[string]any {
	var bytes, dropped int
	for _, r := range res {
		bytes += r.Bytes
		if r.Status == domain.SourceStatusDropped {
			dropped++
		}
	}
	return map[string]any{"sources": len(res), "bytes": bytes, "dropped": dropped}
}

// scorePairs 按位置对 a[i]、b[i] 计算距离；结果顺序与输入一致。
func scorePairs(ctx context.Context, workers int, policy distance.Policy, a, b []domain.Token) ([]float64, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("token 列表长度不一致：%d != %d", len(a), len(b))
	}
	spans := make([][2]int, 0, len(a)/scoreChunk+1)
	for lo := 0; lo < len(a); lo += scoreChunk {
		spans = append(spans, [2]int{lo, min(lo+scoreChunk, len(a))})
	}

	parts, err := pool.Map(ctx, workers, spans, func(ctx context.Context, _ int, s [2]int) ([]float64, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out := make([]float64, 0, s[1]-s[0])
		for i := s[0]; i < s[1]; i++ {
			out = append(out, distance.Tokens(policy, a[i], b[i]))
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	scores := make([]float64, 0, len(a))
	for _, part := range parts {
		scores = append(scores, part...)
	}
	return scores, nil
}

// rng 返回本次 run 使用的随机源；第二个返回值是实际使用的种子（外部注入 Rand 时为 0）。
func (p *Pipeline) rng() (*rand.Rand, int64) {
	if p.Rand != nil {
		return p.Rand, 0
	}
	seed := p.Config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed)), seed
}

func (p *Pipeline) observer() Observer {
	if p.Observer != nil {
		return p.Observer
	}
	return nopObserver{}
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
