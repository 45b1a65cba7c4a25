package quote

import (
	"errors"
	"math/big"
)

// 联合曲线为关于虚拟储备的恒定乘积：x·y = k。
// 手续费固定为 SOL 腿的 1%（100 基点），与目标场所一致。
const venueFeeBps = 100

var errEmptyCurve = errors.New("quote: 曲线储备为空")

// buyTokensOut 计算投入 lamportsIn 后可得的代币数量（最小单位）。
// 储备乘积超出 uint64 范围，运算走 big.Int。
func buyTokensOut(vSol, vTok, lamportsIn uint64) (uint64, error) {
	if vSol == 0 || vTok == 0 {
		return 0, errEmptyCurve
	}

	k := new(big.Int).Mul(new(big.Int).SetUint64(vSol), new(big.Int).SetUint64(vTok))
	newSol := new(big.Int).Add(new(big.Int).SetUint64(vSol), new(big.Int).SetUint64(lamportsIn))

	// 向上取整，保证不高估产出。
	newTok := ceilDiv(k, newSol)
	out := new(big.Int).Sub(new(big.Int).SetUint64(vTok), newTok)
	if out.Sign() <= 0 {
		return 0, nil
	}
	return out.Uint64(), nil
}

// sellSolOut 计算卖出 tokensIn 个代币（最小单位）可得的 lamports。
func sellSolOut(vSol, vTok, tokensIn uint64) (uint64, error) {
	if vSol == 0 || vTok == 0 {
		return 0, errEmptyCurve
	}

	k := new(big.Int).Mul(new(big.Int).SetUint64(vSol), new(big.Int).SetUint64(vTok))
	newTok := new(big.Int).Add(new(big.Int).SetUint64(vTok), new(big.Int).SetUint64(tokensIn))

	newSol := ceilDiv(k, newTok)
	out := new(big.Int).Sub(new(big.Int).SetUint64(vSol), newSol)
	if out.Sign() <= 0 {
		return 0, nil
	}
	return out.Uint64(), nil
}

// venueFee 返回 SOL 腿的场所手续费。
func venueFee(solLeg uint64) uint64 {
	return solLeg * venueFeeBps / 10_000
}

func ceilDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
