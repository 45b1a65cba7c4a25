package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"pump-trader/internal/quote"
	"pump-trader/internal/submit"
)

// Ledger 是本地账本：持仓、尝试流水与意图审计的唯一落点。
// 所有写入都经由单一写者串行化，一次尝试恰好产生一次提交。
type Ledger struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
}

// New 创建账本并初始化表结构。
func New(db *sql.DB, logger *zap.Logger) (*Ledger, error) {
	if db == nil {
		return nil, errors.New("ledger: 数据库实例不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Ledger{db: db, logger: logger}
	if err := l.initSchema(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS assets (
			mint TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			decimals INTEGER NOT NULL,
			bonding_curve TEXT NOT NULL,
			associated_bonding_curve TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_assets_symbol ON assets(symbol);`,
		`CREATE TABLE IF NOT EXISTS positions (
			wallet TEXT NOT NULL,
			mint TEXT NOT NULL,
			quantity INTEGER NOT NULL CHECK (quantity >= 0),
			cost_lamports INTEGER NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (wallet, mint)
		);`,
		`CREATE TABLE IF NOT EXISTS attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			signature TEXT NOT NULL UNIQUE,
			mint TEXT NOT NULL,
			side TEXT NOT NULL,
			status TEXT NOT NULL,
			route TEXT NOT NULL,
			amount_in INTEGER NOT NULL,
			expected_out INTEGER NOT NULL,
			executed_out INTEGER NOT NULL,
			fee_lamports INTEGER NOT NULL,
			tip_lamports INTEGER NOT NULL,
			reconcile_ok INTEGER NOT NULL,
			note TEXT,
			submitted_at TEXT NOT NULL,
			finalized_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_mint ON attempts(mint);`,
		`CREATE TABLE IF NOT EXISTS intents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			attempt_signature TEXT NOT NULL,
			mint TEXT NOT NULL,
			side TEXT NOT NULL,
			amount INTEGER NOT NULL,
			max_slippage_bps INTEGER NOT NULL,
			max_spend_lamports INTEGER NOT NULL,
			caller TEXT NOT NULL,
			issued_at TEXT NOT NULL
		);`,
	}

	for _, stmt := range schema {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("ledger: 初始化表结构失败: %w", err)
		}
	}
	return nil
}

// RegisterAsset 把一个币登记进注册表，重复登记覆盖旧记录。
func (l *Ledger) RegisterAsset(ctx context.Context, a Asset) error {
	if a.Mint == "" || a.BondingCurve == "" || a.AssociatedBondingCurve == "" {
		return errors.New("ledger: 资产登记缺少账户字段")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO assets (mint, symbol, decimals, bonding_curve, associated_bonding_curve, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(mint) DO UPDATE SET
			symbol = excluded.symbol,
			decimals = excluded.decimals,
			bonding_curve = excluded.bonding_curve,
			associated_bonding_curve = excluded.associated_bonding_curve`,
		a.Mint, strings.ToLower(a.Symbol), a.Decimals, a.BondingCurve, a.AssociatedBondingCurve,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("ledger: 登记资产失败: %w", err)
	}
	return nil
}

// LookupAsset 按 mint 或币名查找注册表。
func (l *Ledger) LookupAsset(ctx context.Context, ref string) (Asset, error) {
	var a Asset
	row := l.db.QueryRowContext(ctx,
		`SELECT mint, symbol, decimals, bonding_curve, associated_bonding_curve
		 FROM assets WHERE mint = ? OR symbol = ? LIMIT 1`,
		ref, strings.ToLower(ref),
	)
	if err := row.Scan(&a.Mint, &a.Symbol, &a.Decimals, &a.BondingCurve, &a.AssociatedBondingCurve); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Asset{}, fmt.Errorf("%w: %s", ErrAssetNotFound, ref)
		}
		return Asset{}, fmt.Errorf("ledger: 查询资产失败: %w", err)
	}
	return a, nil
}

// Resolve 把币名或 mint 解析为 mint 地址与精度，供 AI 指令层使用。
func (l *Ledger) Resolve(ctx context.Context, ref string) (string, uint8, error) {
	a, err := l.LookupAsset(ctx, ref)
	if err != nil {
		return "", 0, err
	}
	return a.Mint, a.Decimals, nil
}

// Apply 把一次尝试的终态入账。持仓增量、尝试流水与意图审计
// 在同一事务内提交：要么全部生效，要么全部不生效。
// 只有 Landed 改变持仓，Rejected 与 Expired 仅留痕。
func (l *Ledger) Apply(ctx context.Context, r Record) error {
	if !r.Status.Terminal() {
		return fmt.Errorf("ledger: 非终态不可入账: %s", r.Status)
	}
	if r.Signature == "" {
		return errors.New("ledger: 签名不能为空")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger: 开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	row := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM attempts WHERE signature = ?`, r.Signature)
	if err = row.Scan(&exists); err != nil {
		return fmt.Errorf("ledger: 查询尝试记录失败: %w", err)
	}
	if exists > 0 {
		err = fmt.Errorf("%w: %s", ErrDuplicateAttempt, r.Signature)
		return err
	}

	if r.Status == submit.StatusLanded {
		if r.Wallet == "" {
			err = errors.New("ledger: 落块账目缺少钱包地址")
			return err
		}
		var posNote string
		if posNote, err = l.applyPosition(ctx, tx, r); err != nil {
			return err
		}
		if posNote != "" {
			r.ReconcileOK = false
			if r.Note == "" {
				r.Note = posNote
			} else {
				r.Note = r.Note + "; " + posNote
			}
		}
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO attempts (signature, mint, side, status, route, amount_in, expected_out,
			executed_out, fee_lamports, tip_lamports, reconcile_ok, note, submitted_at, finalized_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Signature, r.Quote.Mint, string(r.Quote.Side), string(r.Status), string(r.Route),
		r.Quote.AmountIn, r.Quote.ExpectedOut, r.ExecutedOut, r.Quote.FeeLamports, r.TipLamports,
		boolToInt(r.ReconcileOK), r.Note,
		r.SubmittedAt.UTC().Format(time.RFC3339), r.FinalizedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("ledger: 写入尝试流水失败: %w", err)
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO intents (attempt_signature, mint, side, amount, max_slippage_bps,
			max_spend_lamports, caller, issued_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Signature, r.Intent.Mint, string(r.Intent.Side), r.Intent.Amount,
		r.Intent.MaxSlippageBps, r.Intent.MaxSpendLamports, r.Intent.Caller,
		r.Intent.IssuedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("ledger: 写入意图审计失败: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ledger: 提交事务失败: %w", err)
	}

	l.logger.Info("账本已更新",
		zap.String("signature", r.Signature),
		zap.String("mint", r.Quote.Mint),
		zap.String("status", string(r.Status)),
	)
	return nil
}

// applyPosition 在事务内更新持仓。买入累加数量与成本，
// 卖出扣减数量并按比例摊销成本。链上已落块的卖出即便超过本地
// 持仓也必须留痕：持仓清零并返回差异说明，由调用方写进账目。
func (l *Ledger) applyPosition(ctx context.Context, tx *sql.Tx, r Record) (string, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	var (
		quantity uint64
		cost     uint64
		note     string
	)
	row := tx.QueryRowContext(ctx,
		`SELECT quantity, cost_lamports FROM positions WHERE wallet = ? AND mint = ?`,
		r.Wallet, r.Quote.Mint)
	switch scanErr := row.Scan(&quantity, &cost); {
	case scanErr == nil:
	case errors.Is(scanErr, sql.ErrNoRows):
	default:
		return "", fmt.Errorf("ledger: 查询持仓失败: %w", scanErr)
	}

	switch r.Quote.Side {
	case quote.SideBuy:
		quantity += r.ExecutedOut
		cost += r.Quote.AmountIn + r.Quote.FeeLamports + r.TipLamports
	case quote.SideSell:
		sold := r.Quote.AmountIn
		if sold > quantity {
			note = fmt.Sprintf("%v: 持有 %d 卖出 %d，持仓已清零", ErrInsufficientPosition, quantity, sold)
			l.logger.Warn("卖出超过本地持仓",
				zap.String("wallet", r.Wallet),
				zap.String("mint", r.Quote.Mint),
				zap.Uint64("quantity", quantity),
				zap.Uint64("sold", sold),
			)
			quantity = 0
			cost = 0
		} else {
			released := proportionalCost(cost, sold, quantity)
			quantity -= sold
			cost -= released
		}
	default:
		return "", fmt.Errorf("ledger: 未知方向 %s", r.Quote.Side)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO positions (wallet, mint, quantity, cost_lamports, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(wallet, mint) DO UPDATE SET
			quantity = excluded.quantity,
			cost_lamports = excluded.cost_lamports,
			updated_at = excluded.updated_at`,
		r.Wallet, r.Quote.Mint, quantity, cost, now,
	); err != nil {
		return "", fmt.Errorf("ledger: 更新持仓失败: %w", err)
	}
	return note, nil
}

// Position 返回某个钱包在单个币上的当前持仓，无持仓时返回零值。
func (l *Ledger) Position(ctx context.Context, wallet, mint string) (Position, error) {
	p := Position{Wallet: wallet, Mint: mint}
	var updated string

	row := l.db.QueryRowContext(ctx,
		`SELECT quantity, cost_lamports, updated_at FROM positions WHERE wallet = ? AND mint = ?`,
		wallet, mint)
	switch err := row.Scan(&p.Quantity, &p.CostLamports, &updated); {
	case err == nil:
		if ts, parseErr := time.Parse(time.RFC3339, updated); parseErr == nil {
			p.UpdatedAt = ts
		}
		return p, nil
	case errors.Is(err, sql.ErrNoRows):
		return p, nil
	default:
		return Position{}, fmt.Errorf("ledger: 查询持仓失败: %w", err)
	}
}

// Attempts 按时间倒序返回某个币最近的尝试流水。
func (l *Ledger) Attempts(ctx context.Context, mint string, limit int) ([]AttemptRow, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, signature, mint, side, status, route, amount_in, expected_out,
			executed_out, fee_lamports, tip_lamports, reconcile_ok, COALESCE(note, ''),
			submitted_at, finalized_at
		 FROM attempts WHERE mint = ? ORDER BY id DESC LIMIT ?`,
		mint, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: 查询尝试流水失败: %w", err)
	}
	defer rows.Close()

	var result []AttemptRow
	for rows.Next() {
		var (
			a                      AttemptRow
			reconcile              int
			submittedAt, finalized string
		)
		if err := rows.Scan(&a.ID, &a.Signature, &a.Mint, &a.Side, &a.Status, &a.Route,
			&a.AmountIn, &a.ExpectedOut, &a.ExecutedOut, &a.FeeLamports, &a.TipLamports,
			&reconcile, &a.Note, &submittedAt, &finalized); err != nil {
			return nil, fmt.Errorf("ledger: 读取尝试流水失败: %w", err)
		}
		a.ReconcileOK = reconcile != 0
		if ts, parseErr := time.Parse(time.RFC3339, submittedAt); parseErr == nil {
			a.SubmittedAt = ts
		}
		if ts, parseErr := time.Parse(time.RFC3339, finalized); parseErr == nil {
			a.FinalizedAt = ts
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// proportionalCost 返回卖出 sold 份额应摊销的成本，中间量用大整数避免溢出。
func proportionalCost(cost, sold, quantity uint64) uint64 {
	if quantity == 0 {
		return 0
	}
	if sold == quantity {
		return cost
	}
	released := new(big.Int).Mul(new(big.Int).SetUint64(cost), new(big.Int).SetUint64(sold))
	released.Div(released, new(big.Int).SetUint64(quantity))
	return released.Uint64()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
