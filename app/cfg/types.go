package cfg

import "time"

type Cfg struct {
	// Storage
	DBPath string

	// Application configuration
	TasksDir     string
	Port         string
	APIAccessKey string

	// Scheduling
	FetchTimeout         time.Duration
	MaxConcurrentFetches int
	OverlapPolicy        string
	HostInterval         time.Duration

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
