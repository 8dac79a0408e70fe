package planner

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/John-Robertt/corpusrun/internal/domain"
	"github.com/John-Robertt/corpusrun/internal/fetch"
)

// PlanSources 把 URL 列表变成有序的 Source 列表（不做任何网络/磁盘操作）。
//
// - 顺序与输入一致；该顺序也是后续合并语料的顺序
// - 文件名取 URL 路径最后一段；重名时分配 name__2.ext、name__3.ext ...
// - reserved 中的名字（例如合并文件 all.txt）不会分配给任何来源
func PlanSources(urls []string, reserved ...string) ([]domain.Source, error) {
	used := make(map[string]struct{}, len(urls)+len(reserved))
	for _, r := range reserved {
		used[r] = struct{}{}
	}

	out := make([]domain.Source, 0, len(urls))
	for _, raw := range urls {
		u := strings.TrimSpace(raw)
		if u == "" {
			continue
		}
		name, err := fetch.TargetName(u)
		if err != nil {
			return nil, fmt.Errorf("非法 URL：%w", err)
		}
		name = allocName(name, used)
		used[name] = struct{}{}
		out = append(out, domain.Source{URL: u, Name: name})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("没有可下载的 URL")
	}
	return out, nil
}

func allocName(name string, used map[string]struct{}) string {
	if _, ok := used[name]; !ok {
		return name
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	for n := 2; ; n++ {
		cand := fmt.Sprintf("%s__%d%s", base, n, ext)
		if _, ok := used[cand]; !ok {
			return cand
		}
	}
}
