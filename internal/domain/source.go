package domain

// Source 是一个待下载的文本来源。
//
// Name 由 planner 分配（URL 路径的最后一段，重名时追加 __N），
// 同一次 run 内唯一，直接作为 texts/ 下的文件名。
type Source struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// Document 是 Fetcher 的产物：已解码为 UTF-8 的正文 + 目标文件路径。
type Document struct {
	Source Source
	Path   string
	Text   string
}
