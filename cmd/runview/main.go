// runview — agent run 实时转写查看器。
//
// 装配线: config → logger → cursor store → agentd client → 调和引擎
// → 事件流订阅 → (可选) inspector → 终端界面。
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/multi-agent/runview/internal/agentd"
	"github.com/multi-agent/runview/internal/config"
	"github.com/multi-agent/runview/internal/cursor"
	"github.com/multi-agent/runview/internal/engine"
	"github.com/multi-agent/runview/internal/inspector"
	"github.com/multi-agent/runview/internal/stream"
	"github.com/multi-agent/runview/pkg/logger"
	"github.com/multi-agent/runview/pkg/util"
)

func main() {
	cfg := config.Load()

	if err := logger.InitWithFile(cfg.LogLevel, cfg.LogDir); err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.ShutdownFileHandler()
	logger.Info("runview starting", logger.FieldWorkspace, cfg.WorkspaceID)

	cursors := cursor.Open(cfg.CursorDBPath)
	defer cursors.Close()

	client := agentd.NewClient(cfg.AgentBaseURL, time.Duration(cfg.RequestTimeoutSec)*time.Second)
	sched := engine.NewTimerScheduler(time.Duration(cfg.FlushDelayMS) * time.Millisecond)
	eng := engine.New(cfg.WorkspaceID, client, client, sched)

	consumer := stream.NewConsumer(cfg.StreamURL, cfg.WorkspaceID, cursors, cfg.StreamMaxRetries, eng.HandleEnvelope)
	consumer.Start()
	defer consumer.Stop()

	var insp *inspector.Server
	if cfg.InspectorAddr != "" {
		insp = inspector.NewServer(eng)
		insp.Start(cfg.InspectorAddr)
	}

	p := tea.NewProgram(newUIModel(eng), tea.WithAltScreen(), tea.WithMouseCellMotion())

	// 引擎任何变更都唤醒界面重绘; inspector 共享同一个信号
	eng.SetOnChange(func() {
		p.Send(viewChangedMsg{})
		if insp != nil {
			insp.NotifyChanged()
		}
	})

	// 首载 + 周期性快照对账 (流是主通道, 快照兜底校准)
	util.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := eng.LoadCurrent(ctx); err != nil {
			logger.Warn("initial snapshot load failed", logger.FieldError, err)
		}
		cancel()
	})
	stopPoll := startSnapshotPoll(eng, time.Duration(cfg.SnapshotPollSec)*time.Second)
	defer stopPoll()

	if _, err := p.Run(); err != nil {
		logger.Error("ui exited with error", logger.FieldError, err)
		os.Exit(1)
	}
	logger.Info("runview exiting")
}

// startSnapshotPoll 周期性拉取权威快照走标准合并, 返回停止函数。
func startSnapshotPoll(eng *engine.Engine, interval time.Duration) func() {
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	util.SafeGo(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				if err := eng.Refresh(ctx); err != nil {
					logger.Debug("snapshot poll failed", logger.FieldError, err)
				}
				cancel()
			}
		}
	})
	return func() { close(done) }
}
