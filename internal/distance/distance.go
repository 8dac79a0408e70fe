// Package distance 计算两个 token 之间基于字符编码的差异分数。
package distance

import (
	"fmt"
	"strings"

	"github.com/John-Robertt/corpusrun/internal/domain"
)

// Policy 决定逐位差值如何累积为最终分数。
type Policy string

const (
	// PolicyLastPair 只保留最后一对字符的差值（默认，保持历史行为）。
	PolicyLastPair Policy = "last-pair"
	// PolicySum 为差值之和除以每对较大编码之和。
	PolicySum Policy = "sum"
	// PolicyMax 为所有配对中最大的归一化差值。
	PolicyMax Policy = "max"
)

// ParsePolicy 解析配置值；空串视为默认策略。
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyLastPair, nil
	case PolicyLastPair, PolicySum, PolicyMax:
		return p, nil
	default:
		return "", fmt.Errorf("未知 distance policy：%q（可选 last-pair|sum|max）", s)
	}
}

// Score 按 last-pair 策略计算 a、b 的距离：
//
//   - 都为空：0
//   - 只有一个为空：非空者的字符数
//   - 否则按位配对到较短者的长度，只保留最后一对的 |a-b|，再除以这一对中较大的编码
//
// 前面各对的差值会被覆盖，这是刻意保留的历史行为；需要累积语义时用 ScoreWith。
func Score(a, b string) float64 {
	return ScoreWith(PolicyLastPair, a, b)
}

// ScoreWith 按指定策略计算距离；空串规则对所有策略一致。
func ScoreWith(p Policy, a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	switch {
	case len(ra) == 0 && len(rb) == 0:
		return 0
	case len(ra) == 0:
		return float64(len(rb))
	case len(rb) == 0:
		return float64(len(ra))
	}

	n := len(ra)
	if len(rb) < n {
		n = len(rb)
	}

	switch p {
	case PolicySum:
		var diff, denom int
		for i := 0; i < n; i++ {
			diff += absDiff(ra[i], rb[i])
			denom += maxRune(ra[i], rb[i])
		}
		return ratio(diff, denom)
	case PolicyMax:
		var best float64
		for i := 0; i < n; i++ {
			if v := ratio(absDiff(ra[i], rb[i]), maxRune(ra[i], rb[i])); v > best {
				best = v
			}
		}
		return best
	default:
		var diff int
		var x, y rune
		for i := 0; i < n; i++ {
			x, y = ra[i], rb[i]
			diff = absDiff(x, y)
		}
		return ratio(diff, maxRune(x, y))
	}
}

// Tokens 是 ScoreWith 的 token 版本，供流水线直接使用。
func Tokens(p Policy, a, b domain.Token) float64 {
	return ScoreWith(p, string(a), string(b))
}

func absDiff(x, y rune) int {
	d := int(x) - int(y)
	if d < 0 {
		return -d
	}
	return d
}

func maxRune(x, y rune) int {
	if x > y {
		return int(x)
	}
	return int(y)
}

// ratio 在分母为 0（两个 NUL 字符）时返回 0，避免 NaN。
func ratio(num, denom int) float64 {
	if denom == 0 {
		return 0
	}
	return float64(num) / float64(denom)
}
