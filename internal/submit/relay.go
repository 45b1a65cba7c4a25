package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// BundleStatus 是中继对一个 bundle 的确认状态。
type BundleStatus struct {
	Found              bool
	ConfirmationStatus string
	Landed             bool
}

// Relay 是防抢跑中继的 JSON-RPC 客户端。
type Relay struct {
	url    string
	http   *http.Client
	logger *zap.Logger
}

// NewRelay 创建中继客户端。
func NewRelay(url string, logger *zap.Logger) (*Relay, error) {
	if url == "" {
		return nil, errors.New("submit: relay url 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		url:    url,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("中继返回错误 %d: %s", e.Code, e.Message)
}

// SendBundle 提交一组 base58 编码的已签名交易，返回 bundle ID。
func (r *Relay) SendBundle(ctx context.Context, txs []string) (string, error) {
	var result string
	if err := r.call(ctx, "sendBundle", []any{txs}, &result); err != nil {
		return "", err
	}
	if result == "" {
		return "", errors.New("中继未返回 bundle id")
	}
	return result, nil
}

type bundleStatusValue struct {
	BundleID           string   `json:"bundle_id"`
	Transactions       []string `json:"transactions"`
	Slot               uint64   `json:"slot"`
	ConfirmationStatus string   `json:"confirmation_status"`
	Err                any      `json:"err"`
}

// BundleStatuses 查询单个 bundle 的落块状态。
// 中继尚未见到该 bundle 时返回 Found=false。
func (r *Relay) BundleStatuses(ctx context.Context, bundleID string) (BundleStatus, error) {
	var result struct {
		Value []bundleStatusValue `json:"value"`
	}
	if err := r.call(ctx, "getBundleStatuses", []any{[]string{bundleID}}, &result); err != nil {
		return BundleStatus{}, err
	}

	if len(result.Value) == 0 || result.Value[0].BundleID == "" {
		return BundleStatus{}, nil
	}

	v := result.Value[0]
	status := BundleStatus{
		Found:              true,
		ConfirmationStatus: v.ConfirmationStatus,
	}
	status.Landed = v.Err == nil &&
		(v.ConfirmationStatus == "confirmed" || v.ConfirmationStatus == "finalized")
	return status, nil
}

func (r *Relay) call(ctx context.Context, method string, params []any, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("序列化中继请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("创建中继请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("调用中继失败: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("读取中继响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("中继返回状态码 %d: %s", resp.StatusCode, raw)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("解析中继响应失败: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("解析中继结果失败: %w", err)
		}
	}
	return nil
}
