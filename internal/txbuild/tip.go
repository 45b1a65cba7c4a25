package txbuild

// TipStrategy 决定提交一笔交易时附加给中继的小费大小。
// 固定值与按本金比例两部分相加，Max 为硬上限。
type TipStrategy struct {
	Fixed uint64
	Bps   uint64
	Max   uint64
}

// Size 返回给定本金下的小费（lamports）。
func (s TipStrategy) Size(amountIn uint64) uint64 {
	tip := s.Fixed
	if s.Bps > 0 {
		tip += amountIn / 10_000 * s.Bps
		tip += amountIn % 10_000 * s.Bps / 10_000
	}
	if s.Max > 0 && tip > s.Max {
		tip = s.Max
	}
	return tip
}
