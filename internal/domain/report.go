package domain

import (
	"encoding/json"
	"time"
)

const (
	StrategySequential = "sequential"
	StrategyConcurrent = "concurrent"
)

const (
	SourceStatusSaved   = "saved"
	SourceStatusDropped = "dropped" // keep 模式下目标文件已存在
)

const (
	ErrCodeConfigInvalid  = "config_invalid"
	ErrCodeFetchFailed    = "fetch_failed"
	ErrCodeIOFailed       = "io_failed"
	ErrCodeTokenizeFailed = "tokenize_failed"
	ErrCodeScoreFailed    = "score_failed"
	ErrCodeLocked         = "locked"
)

// RunReport 是一次 run 的聚合结果（也是 --report 的 JSON 输出）。
type RunReport struct {
	RunID    string `json:"run_id"`
	WorkDir  string `json:"work_dir"`
	Strategy string `json:"strategy"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Sources []SourceResult `json:"sources"`
	Corpus  CorpusStats    `json:"corpus"`
	Scores  ScoreSummary   `json:"scores"`
	Stages  []StageTiming  `json:"stages"`
}

type SourceResult struct {
	URL    string `json:"url"`
	Name   string `json:"name"`
	Bytes  int    `json:"bytes"`
	Status string `json:"status"`
}

type CorpusStats struct {
	Path   string `json:"path"`
	Bytes  int64  `json:"bytes"`
	Lines  int    `json:"lines"`
	Tokens int    `json:"tokens"`
}

type ScoreSummary struct {
	Policy string  `json:"policy"`
	Pairs  int     `json:"pairs"`
	Mean   float64 `json:"mean"`
	Max    float64 `json:"max"`
	Zero   int     `json:"zero"`
}

// StageTiming 记录单个阶段的耗时；Stages 按执行顺序排列。
type StageTiming struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration_ns"`
}

// Summarize 由逐对得分计算汇总值。
func Summarize(policy string, scores []float64) ScoreSummary {
	s := ScoreSummary{Policy: policy, Pairs: len(scores)}
	if len(scores) == 0 {
		return s
	}
	var sum float64
	for _, v := range scores {
		sum += v
		if v > s.Max {
			s.Max = v
		}
		if v == 0 {
			s.Zero++
		}
	}
	s.Mean = sum / float64(len(scores))
	return s
}

// Dropped 返回 keep 模式下被丢弃（未写入）的来源数量。
func (r *RunReport) Dropped() int {
	n := 0
	for _, s := range r.Sources {
		if s.Status == SourceStatusDropped {
			n++
		}
	}
	return n
}

// Finalize 统一时间为 UTC，并保证切片字段输出为 [] 而不是 null。
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	if r.Sources == nil {
		r.Sources = []SourceResult{}
	}
	if r.Stages == nil {
		r.Stages = []StageTiming{}
	}
}

// MarshalJSON 仅用于集中约束输出的稳定性。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	return json.Marshal(Alias(r))
}
