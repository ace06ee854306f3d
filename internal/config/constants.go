package config

// Constants defining default values for application configuration
const (
	DefaultConfigPath = "./config.yaml"
	DefaultDBPath     = "./scout.db"

	DefaultServerPort = 9000
	DefaultServerHost = "" // Empty string means all interfaces
	DefaultWebBaseURL = "http://127.0.0.1:9000"

	DefaultInterval    = 0 // Minutes between runs, 0 for one-shot mode
	DefaultWorkerCount = 4

	DefaultMinScore     = 7.0
	DefaultDedupChannel = "feishu_recent_24h"
	DefaultTimezone     = "Asia/Shanghai"
	DefaultPushMinute   = 0

	DefaultLLMModel         = "gpt-4o-mini"
	DefaultLLMAPIBase       = "https://api.openai.com/v1"
	DefaultLLMAPIKeyEnv     = "OPENAI_API_KEY"
	DefaultLLMTemperature   = 0.7
	DefaultLLMTimeoutSec    = 60
	DefaultNotifyTimeoutSec = 20

	DefaultLogLevel = "info"
)

// DefaultPushHours are the local hours at which a run may push the channel digest.
var DefaultPushHours = []int{8, 12, 16, 20}
