// Package pool 提供有界 worker 池：固定数量的 goroutine 从任务通道取下标执行，
// 结果按提交顺序返回。
package pool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Map 用 workers 个 goroutine 对 in 的每个元素执行 fn，返回与 in 等长、同序的结果。
//
// - workers < 1 视为 1；大于 len(in) 时截断为 len(in)
// - 任一 fn 返回错误：取消 ctx，停止派发剩余任务，返回第一个错误
// - 执行顺序不确定，但 out[i] 一定对应 in[i]
func Map[T, R any](ctx context.Context, workers int, in []T, fn func(ctx context.Context, i int, v T) (R, error)) ([]R, error) {
	out := make([]R, len(in))
	if len(in) == 0 {
		return out, ctx.Err()
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(in) {
		workers = len(in)
	}

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan int)

	g.Go(func() error {
		defer close(jobs)
		for i := range in {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := range jobs {
				r, err := fn(gctx, i, in[i])
				if err != nil {
					return err
				}
				// 每个下标只由一个 worker 写入，无需加锁。
				out[i] = r
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Each 与 Map 相同，但不收集结果。
func Each[T any](ctx context.Context, workers int, in []T, fn func(ctx context.Context, i int, v T) error) error {
	_, err := Map(ctx, workers, in, func(ctx context.Context, i int, v T) (struct{}, error) {
		return struct{}{}, fn(ctx, i, v)
	})
	return err
}
