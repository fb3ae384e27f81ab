// activity.go — 活动状态分类与计时格式化。
package view

import (
	"fmt"

	"github.com/multi-agent/runview/internal/protocol"
)

// Activity 面向用户的活动状态分类。
type Activity string

const (
	ActivityIdle       Activity = "idle"
	ActivityThinking   Activity = "thinking"
	ActivityResponding Activity = "responding"
	ActivityStopped    Activity = "stopped"
)

// ClassifyActivity 纯函数: 由已有状态推导活动分类, 不引入新的可变标志。
//
//   - run 被取消或出错, 且界面上有内容 → Stopped (空 run 被停掉直接回 Idle)
//   - 有流式文本在累积 → Responding
//   - 请求在途或 run 在跑 → Thinking
//   - 其余 (含 completed, 等待下一条指令) → Idle
func ClassifyActivity(status protocol.RunStatus, sendInFlight, streaming, hasRows bool) Activity {
	switch {
	case status == protocol.StatusCanceled || status == protocol.StatusError:
		if hasRows {
			return ActivityStopped
		}
		return ActivityIdle
	case streaming:
		return ActivityResponding
	case sendInFlight || status.Active():
		return ActivityThinking
	default:
		return ActivityIdle
	}
}

// FormatElapsed 把已流逝秒数格式化为 "mm:ss"。超过一小时分钟数继续涨
// (61 分钟显示 "61:09"), 不进位到小时。
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
