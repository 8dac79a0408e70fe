package run

import "time"

// Observer 把阶段进度从执行流程中解耦出来。
//
// 约束：
//   - run 包只发事件，不做任何输出（stdout 只留给 "done!" 与 --report）。
//   - 事件只在编排 goroutine 上发出，按阶段顺序排列。
//   - 阶段成功时 OnStageStart 与 OnStageDone 成对出现；阶段失败时只有 OnStageStart，
//     失败原因由 Execute 的返回错误给出，之后不再有任何事件。
type Observer interface {
	// OnStageStart 在阶段开始前调用。
	OnStageStart(name string)
	// OnStageDone 只在阶段成功结束后调用；fields 是该阶段的统计。
	OnStageDone(name string, fields map[string]any, dur time.Duration)
}

// Stage 名称按执行顺序排列。
const (
	StagePlan      = "plan"
	StageFetch     = "fetch"
	StagePersist   = "persist"
	StageAggregate = "aggregate"
	StageTokenize  = "tokenize"
	StageShuffle   = "shuffle"
	StageScore     = "score"
	StageCleanup   = "cleanup"
)

type nopObserver struct{}

func (nopObserver) OnStageStart(string)                               {}
func (nopObserver) OnStageDone(string, map[string]any, time.Duration) {}
