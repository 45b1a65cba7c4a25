package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"go.uber.org/zap"

	"pump-trader/internal/config"
	"pump-trader/internal/quote"
)

const lamportsPerSol = 1_000_000_000

// assetResolver 将用户口中的币名或助记符解析为 mint 地址与精度。
type assetResolver interface {
	Resolve(ctx context.Context, ref string) (mint string, decimals uint8, err error)
}

// Client 封装 OpenAI 调用逻辑：把自然语言指令转成 TradeIntent，
// 并把终态结果叙述给用户。核心流水线不依赖本包的解析能力。
type Client struct {
	cfg      config.OpenAIConfig
	logger   *zap.Logger
	sdk      *openai.Client
	resolver assetResolver
}

// NewClient 使用给定配置创建 AI 客户端。
func NewClient(cfg config.OpenAIConfig, resolver assetResolver, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api_key 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sdkCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkCfg.BaseURL = cfg.BaseURL
	}
	sdkCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout + 5*time.Second}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		sdk:      openai.NewClientWithConfig(sdkCfg),
		resolver: resolver,
	}, nil
}

// tradeToolArgs 对应工具调用的参数结构，模型输出被直接解码到这里，
// 不做任何开放式分发。
type tradeToolArgs struct {
	Asset          string  `json:"asset"`
	Side           string  `json:"side"`
	AmountSol      float64 `json:"amount_sol"`
	AmountTokens   float64 `json:"amount_tokens"`
	MaxSlippageBps uint64  `json:"max_slippage_bps"`
	MaxSpendSol    float64 `json:"max_spend_sol"`
}

var tradeTool = openai.Tool{
	Type: openai.ToolTypeFunction,
	Function: &openai.FunctionDefinition{
		Name:        "submit_trade_intent",
		Description: "在联合曲线交易场所买入或卖出 meme 币。asset 可为 mint 地址或币名，币名由本地缓存解析。",
		Parameters: jsonschema.Definition{
			Type:     jsonschema.Object,
			Required: []string{"asset", "side", "max_slippage_bps", "max_spend_sol"},
			Properties: map[string]jsonschema.Definition{
				"asset": {
					Type:        jsonschema.String,
					Description: "目标币的 mint 地址或币名",
				},
				"side": {
					Type:        jsonschema.String,
					Enum:        []string{"buy", "sell"},
					Description: "交易方向",
				},
				"amount_sol": {
					Type:        jsonschema.Number,
					Description: "买入投入的 SOL 数量，未提供时默认 0.01",
				},
				"amount_tokens": {
					Type:        jsonschema.Number,
					Description: "卖出的代币数量（按币面精度）",
				},
				"max_slippage_bps": {
					Type:        jsonschema.Integer,
					Description: "最大滑点，基点。未提供时默认 1000（10%）",
				},
				"max_spend_sol": {
					Type:        jsonschema.Number,
					Description: "本次交易允许动用的 SOL 上限，含手续费与小费",
				},
			},
		},
	},
}

// ParseIntent 将一句自然语言指令解析为强类型 TradeIntent。
func (c *Client) ParseIntent(ctx context.Context, utterance string) (TradeIntent, error) {
	if strings.TrimSpace(utterance) == "" {
		return TradeIntent{}, errors.New("ai: 指令不能为空")
	}

	response, err := c.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "你是交易助手。收到用户交易指令时，必须且只能调用 submit_trade_intent 工具，不要输出其他内容。",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: utterance,
			},
		},
		Tools:       []openai.Tool{tradeTool},
		Temperature: 0,
	})
	if err != nil {
		c.logger.Error("调用OpenAI失败", zap.Error(err))
		return TradeIntent{}, fmt.Errorf("调用OpenAI失败: %w", err)
	}

	if len(response.Choices) == 0 || len(response.Choices[0].Message.ToolCalls) == 0 {
		return TradeIntent{}, errors.New("ai: 模型未产生工具调用")
	}

	call := response.Choices[0].Message.ToolCalls[0]
	if call.Function.Name != tradeTool.Function.Name {
		return TradeIntent{}, fmt.Errorf("ai: 未知工具调用 %q", call.Function.Name)
	}

	var args tradeToolArgs
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		c.logger.Error("解析工具参数失败",
			zap.Error(err),
			zap.String("raw_arguments", call.Function.Arguments),
		)
		return TradeIntent{}, fmt.Errorf("ai: 解析工具参数失败: %w", err)
	}

	intent, err := c.buildIntent(ctx, args)
	if err != nil {
		return TradeIntent{}, err
	}

	c.logger.Info("AI 交易意图已生成",
		zap.String("mint", intent.Mint),
		zap.String("side", string(intent.Side)),
		zap.Uint64("amount", intent.Amount),
		zap.Uint64("max_slippage_bps", intent.MaxSlippageBps),
	)

	return intent, nil
}

func (c *Client) buildIntent(ctx context.Context, args tradeToolArgs) (TradeIntent, error) {
	mint := strings.TrimSpace(args.Asset)
	var decimals uint8 = 6
	if c.resolver != nil {
		resolved, dec, err := c.resolver.Resolve(ctx, mint)
		if err != nil {
			return TradeIntent{}, fmt.Errorf("ai: 解析币种 %q 失败: %w", args.Asset, err)
		}
		mint = resolved
		decimals = dec
	}

	if args.MaxSlippageBps == 0 {
		args.MaxSlippageBps = 1000
	}
	if args.AmountSol <= 0 {
		args.AmountSol = 0.01
	}
	if args.MaxSpendSol <= 0 {
		args.MaxSpendSol = args.AmountSol * 1.05
	}

	intent := TradeIntent{
		Mint:             mint,
		Side:             quote.Side(strings.ToLower(args.Side)),
		MaxSlippageBps:   args.MaxSlippageBps,
		MaxSpendLamports: uint64(args.MaxSpendSol * lamportsPerSol),
		Caller:           "ai",
		IssuedAt:         time.Now().UTC(),
	}

	switch intent.Side {
	case quote.SideBuy:
		intent.Amount = uint64(args.AmountSol * lamportsPerSol)
	case quote.SideSell:
		if args.AmountTokens <= 0 {
			return TradeIntent{}, errors.New("ai: 卖出需要 amount_tokens")
		}
		scale := uint64(1)
		for i := uint8(0); i < decimals; i++ {
			scale *= 10
		}
		intent.Amount = uint64(args.AmountTokens * float64(scale))
	}

	if err := intent.Validate(); err != nil {
		return TradeIntent{}, fmt.Errorf("ai: 意图校验失败: %w", err)
	}

	return intent, nil
}

// Narrate 让模型把终态结果转述为一段面向用户的自然语言。
func (c *Client) Narrate(ctx context.Context, digest ResultDigest) (string, error) {
	payload, err := json.Marshal(digest)
	if err != nil {
		return "", fmt.Errorf("ai: 序列化结果失败: %w", err)
	}

	response, err := c.sdk.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "你是交易助手。把给定的 JSON 交易结果用一两句中文向用户复述，金额换算成 SOL，不要虚构字段。",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: string(payload),
			},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("调用OpenAI失败: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", errors.New("OpenAI 返回结果为空")
	}

	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}
