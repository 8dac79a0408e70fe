// Package text 负责把语料中的单词规范化为 token。
package text

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"

	"github.com/John-Robertt/corpusrun/internal/domain"
)

var nonASCII = runes.Predicate(func(r rune) bool { return r > unicode.MaxASCII })

// Normalize 把单词转为小写、去掉所有非 ASCII 码点，并去掉首尾空白。
//
// 非法 UTF-8 字节按 U+FFFD 处理，同样会被去掉。
// 去空白放在过滤之后：过滤可能把 "é x" 变成 " x"，结果必须仍然没有首尾空白。
func Normalize(word string) string {
	// cases.Caser 有状态，不能跨 goroutine 共享：每次调用新建一条 transform 链。
	t := transform.Chain(cases.Lower(language.Und), runes.Remove(nonASCII))
	out, _, err := transform.String(t, word)
	if err != nil {
		// 只有 transformer 内部错误才会走到这里；退化为逐 rune 过滤。
		out = strings.Map(func(r rune) rune {
			if r > unicode.MaxASCII {
				return -1
			}
			return unicode.ToLower(r)
		}, word)
	}
	return strings.TrimSpace(out)
}

// Line 把一行文本按空白切词并逐个规范化；规范化后为空的词会被丢弃。
func Line(line string) domain.TokenLine {
	words := strings.Fields(line)
	out := make(domain.TokenLine, 0, len(words))
	for _, w := range words {
		if n := Normalize(w); n != "" {
			out = append(out, domain.Token(n))
		}
	}
	return out
}
