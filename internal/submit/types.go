package submit

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// Route 表示交易的出口路径。
type Route string

const (
	// RouteRelay 经防抢跑中继打包提交。
	RouteRelay Route = "relay"
	// RouteDirect 直接向 RPC 节点广播，是中继不可用时的降级路径。
	RouteDirect Route = "direct"
)

// Status 是交易在提交生命周期中的状态。
// Built 与 Submitted 为中间态，其余为终态；
// 终态只能由确认追踪器裁定，提交器至多推进到 Submitted。
type Status string

const (
	StatusBuilt     Status = "built"
	StatusSubmitted Status = "submitted"
	StatusLanded    Status = "landed"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
)

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	return s == StatusLanded || s == StatusRejected || s == StatusExpired
}

// Attempt 记录一次提交动作，无论成败都会留痕。
type Attempt struct {
	Signature   solana.Signature
	Route       Route
	BundleID    string
	SubmittedAt time.Time
	Accepted    bool
	Note        string
}

// Result 是提交器的输出。Status 为 Submitted 时交易已交付出口，
// 为 Rejected 时所有出口都拒绝了交付，为 Expired 时未及交付即过期。
type Result struct {
	Signature solana.Signature
	Route     Route
	Status    Status
	Attempts  []Attempt
}
