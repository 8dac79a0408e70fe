package corpus

import (
	"context"
	"fmt"

	"github.com/John-Robertt/corpusrun/internal/infra/fsx"
)

// Combine 把 src 的完整内容追加到 dst（dst 不存在则创建），返回追加的字节数。
func Combine(src, dst string) (int64, error) {
	n, err := fsx.AppendFile(src, dst)
	if err != nil {
		return n, fmt.Errorf("合并 %s -> %s 失败：%w", src, dst, err)
	}
	return n, nil
}

// Aggregate 先把 dst 截断为空，再按 files 的顺序逐个 Combine。
//
// 顺序由调用方给出（来源的计划顺序），因此结果是确定的；
// 重复执行得到的字节数恒等于各输入文件长度之和。
// 返回时 dst 已完整写入并关闭。
func Aggregate(ctx context.Context, files []string, dst string) (int64, error) {
	if err := fsx.Truncate(dst); err != nil {
		return 0, fmt.Errorf("重置 %s 失败：%w", dst, err)
	}
	var total int64
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := Combine(f, dst)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
