package domain

// Token 是规范化后的单词：小写、仅 ASCII、无首尾空白。
type Token string

// TokenLine 是语料中一行对应的 token 序列（可能为空）。
type TokenLine []Token

// Flatten 按行序把所有行的 token 拼成一个 token 列表。
func Flatten(lines []TokenLine) []Token {
	n := 0
	for _, l := range lines {
		n += len(l)
	}
	out := make([]Token, 0, n)
	for _, l := range lines {
		out = append(out, l...)
	}
	return out
}
