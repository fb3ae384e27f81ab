// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。
package config

import (
	"github.com/multi-agent/runview/pkg/util"
)

// Config 应用全局配置，字段名与环境变量一一对应。
type Config struct {
	// Agent 后端
	AgentBaseURL      string `env:"RUNVIEW_AGENT_URL" default:"http://127.0.0.1:8848"`
	StreamURL         string `env:"RUNVIEW_STREAM_URL" default:"ws://127.0.0.1:8848/events"`
	WorkspaceID       string `env:"RUNVIEW_WORKSPACE" default:"default"`
	RequestTimeoutSec int    `env:"RUNVIEW_REQUEST_TIMEOUT_SEC" default:"30" min:"1"`

	// 事件流
	StreamMaxRetries int `env:"RUNVIEW_STREAM_MAX_RETRIES" default:"10" min:"1"`
	SnapshotPollSec  int `env:"RUNVIEW_SNAPSHOT_POLL_SEC" default:"10" min:"1"`

	// 本地状态
	CursorDBPath string `env:"RUNVIEW_CURSOR_DB" default:".runview/cursors.db"`
	LogDir       string `env:"RUNVIEW_LOG_DIR" default:".runview/logs"`

	// 批量刷新
	FlushDelayMS int `env:"RUNVIEW_FLUSH_DELAY_MS" default:"16" min:"1"`

	// Inspector (为空则不启动)
	InspectorAddr string `env:"RUNVIEW_INSPECTOR_ADDR"`

	// 日志
	LogLevel string `env:"LOG_LEVEL" default:"INFO"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	return &cfg
}
