package txbuild

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// pump.fun 程序及其固定账户。
var (
	pumpFunProgram      = solana.MustPublicKeyFromBase58("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")
	pumpFunGlobal       = solana.MustPublicKeyFromBase58("4wTV1YmiEkRvAtNtsSGPtUrqRYQMe5SKy2uB4Jjaxnjf")
	pumpFunFeeRecipient = solana.MustPublicKeyFromBase58("CebN5WGQ4jvEPvsVU4EoHEpgzq1VV7AbicfhtW4xC9iM")
	pumpEventAuthority  = solana.MustPublicKeyFromBase58("Ce6TQqeHC9p8KetsN6JsjHK7UTZk7nasjjnr7XxXp9F1")
)

// Anchor 指令判别码。
var (
	buyDiscriminator  = []byte{102, 6, 61, 18, 1, 218, 235, 234}
	sellDiscriminator = []byte{51, 230, 133, 164, 1, 127, 131, 173}
)

// CurveAccounts 是一个币在联合曲线场所内的账户组。
type CurveAccounts struct {
	Mint                   solana.PublicKey
	BondingCurve           solana.PublicKey
	AssociatedBondingCurve solana.PublicKey
}

// swapData 组装交易指令数据：判别码 + 代币数量 + SOL 侧边界，均为小端 u64。
// 买入时 bound 是最大可花费 lamports，卖出时是最低可接受产出。
func swapData(discriminator []byte, tokenAmount, solBound uint64) []byte {
	data := make([]byte, 0, 24)
	data = append(data, discriminator...)
	data = binary.LittleEndian.AppendUint64(data, tokenAmount)
	data = binary.LittleEndian.AppendUint64(data, solBound)
	return data
}

// swapInstruction 构造买卖指令。账户顺序由链上程序固定，
// 其中第9、10位在买卖两侧取不同账户。
func swapInstruction(accounts CurveAccounts, userATA, signer solana.PublicKey, isBuy bool, data []byte) solana.Instruction {
	ninth := solana.TokenProgramID
	tenth := solana.SysVarRentPubkey
	if !isBuy {
		ninth = solana.SPLAssociatedTokenAccountProgramID
		tenth = solana.TokenProgramID
	}

	metas := solana.AccountMetaSlice{
		solana.Meta(pumpFunGlobal),
		solana.Meta(pumpFunFeeRecipient).WRITE(),
		solana.Meta(accounts.Mint),
		solana.Meta(accounts.BondingCurve).WRITE(),
		solana.Meta(accounts.AssociatedBondingCurve).WRITE(),
		solana.Meta(userATA).WRITE(),
		solana.Meta(signer).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(ninth),
		solana.Meta(tenth),
		solana.Meta(pumpEventAuthority),
		solana.Meta(pumpFunProgram),
	}

	return solana.NewInstruction(pumpFunProgram, metas, data)
}

// createATAIdempotent 构造幂等建户指令：账户已存在时链上为空操作。
func createATAIdempotent(payer, owner, mint, ata solana.PublicKey) solana.Instruction {
	metas := solana.AccountMetaSlice{
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(ata).WRITE(),
		solana.Meta(owner),
		solana.Meta(mint),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(solana.TokenProgramID),
	}

	return solana.NewInstruction(solana.SPLAssociatedTokenAccountProgramID, metas, []byte{1})
}

// 计算预算指令数据布局：标识字节 + 小端整数。
func computeUnitLimitData(limit uint32) []byte {
	data := make([]byte, 0, 5)
	data = append(data, 2)
	return binary.LittleEndian.AppendUint32(data, limit)
}

func computeUnitPriceData(microLamports uint64) []byte {
	data := make([]byte, 0, 9)
	data = append(data, 3)
	return binary.LittleEndian.AppendUint64(data, microLamports)
}

func computeBudgetInstruction(data []byte) solana.Instruction {
	return solana.NewInstruction(solana.ComputeBudget, solana.AccountMetaSlice{}, data)
}
