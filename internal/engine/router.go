// router.go — run 级事件路由: 纯过滤, 每条事件独立判定。
package engine

// ResolveTarget 判定一条入站事件归属哪个 run、是否应被接收。
//
// 事件未携带 run id 时回落到当前活跃 run。丢弃条件:
//   - 归属 run 已被标记忽略 (stop 竞态窗口内的残余事件);
//   - 设置了活跃 run 且与事件归属不一致 (过期/被替换的 run)。
//
// 必须逐事件重新判定, 不得缓存 — 同一 burst 内活跃 run 可能改变。
func ResolveTarget(activeRunID string, ignored map[string]struct{}, eventRunID string) (string, bool) {
	runID := eventRunID
	if runID == "" {
		runID = activeRunID
	}
	if runID == "" {
		return "", false
	}
	if _, skip := ignored[runID]; skip {
		return "", false
	}
	if activeRunID != "" && runID != activeRunID {
		return "", false
	}
	return runID, true
}
