package global

const (
	ConfigFlag         = "config"
	GitHubURLFlag      = "github-url"
	TimeoutFlag        = "timeout"
	MaxAttemptsFlag    = "max-attempts"
	RetryBackoffFlag   = "retry-backoff"
	NoCacheFlag        = "no-cache"
	ScopeFlag          = "scope"
	SortOrderFlag      = "sort-order"
	DryRunFlag         = "dry-run"
	OutputFlag         = "output"
	OutputFlagShort    = "o"
	MaxConcurrencyFlag = "max-concurrency"
)
