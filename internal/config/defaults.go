package config

import "time"

const (
	// FileName 是工作目录下的可选配置文件名。
	FileName = "corpusrun.toml"
	// EnvPrefix 是环境变量覆盖项的前缀。
	EnvPrefix = "CORPUSRUN_"
)

const (
	DefaultStrategy       = "concurrent"
	DefaultIOWorkers      = 20
	DefaultCPUWorkers     = 4
	DefaultPersistMode    = "replace"
	DefaultDistancePolicy = "last-pair"
	DefaultTextsDir       = "texts"
	DefaultAggregateName  = "all.txt"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "console"

	// DefaultFetchTimeout 为 0：不设总超时。
	DefaultFetchTimeout time.Duration = 0
)

// DefaultURLs 是未配置 urls 时使用的公版文本列表。
func DefaultURLs() []string {
	return []string{
		"https://www.gutenberg.org/cache/epub/376/pg376.txt",
		"https://www.gutenberg.org/files/84/84-0.txt",
		"https://www.gutenberg.org/cache/epub/844/pg844.txt",
		"https://www.gutenberg.org/files/43/43-0.txt",
		"https://www.gutenberg.org/files/1080/1080-0.txt",
		"https://www.gutenberg.org/cache/epub/17855/pg17855.txt",
		"https://www.gutenberg.org/cache/epub/23700/pg23700.txt",
		"https://www.gutenberg.org/cache/epub/1635/pg1635.txt",
		"https://www.gutenberg.org/cache/epub/19392/pg19392.txt",
		"https://www.gutenberg.org/cache/epub/25525/pg25525.txt",
	}
}
