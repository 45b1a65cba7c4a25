package chain

import (
	"context"
	"errors"
	"net"
	"strings"
)

var (
	// ErrNotFound 表示链上查询不到目标对象（签名或交易）。
	ErrNotFound = errors.New("chain: 目标不存在")
	// ErrSimulationFailed 表示交易在模拟执行阶段失败。
	ErrSimulationFailed = errors.New("chain: 交易模拟失败")
)

// classifyError 判断 RPC 错误是否值得重试。
// 上下文取消与确定性失败不重试，网络类错误与限流重试。
func classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrSimulationFailed) {
		return err, false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, true
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range []string{
		"429",
		"too many requests",
		"rate limit",
		"timeout",
		"timed out",
		"connection reset",
		"connection refused",
		"temporarily",
		"unavailable",
		"node is behind",
	} {
		if strings.Contains(msg, hint) {
			return err, true
		}
	}

	return err, false
}
