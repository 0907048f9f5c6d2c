package core

import (
	"fmt"

	"chain-stream-sol/internal/pkg/utils"
	"chain-stream-sol/internal/types"
	"chain-stream-sol/internal/whale"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// ScoreUpdater *whale.Tracker 实现了它
type ScoreUpdater interface {
	UpdateWalletScore(addr types.Pubkey, score whale.WalletScore)
}

// walletScoreHandler 消费外部评分服务推送的钱包评分（JSON，一条消息一个钱包）
type walletScoreHandler struct {
	tracker ScoreUpdater
}

func (h *walletScoreHandler) HandleKafkaMsg(msg *kafka.Message) error {
	if msg == nil || len(msg.Value) == 0 {
		return nil
	}

	var score whale.WalletScore
	if err := utils.SafeJsonUnmarshal(msg.Value, &score); err != nil {
		return fmt.Errorf("decode wallet score: %w", err)
	}
	if score.Address.IsZero() {
		return fmt.Errorf("wallet score without address")
	}
	if score.Category != "" && !score.Category.Valid() {
		return fmt.Errorf("wallet score %s: unknown category %q", score.Address, score.Category)
	}
	if score.WinRate < 0 || score.WinRate > 1 {
		return fmt.Errorf("wallet score %s: win_rate %.4f out of range", score.Address, score.WinRate)
	}

	h.tracker.UpdateWalletScore(score.Address, score)
	return nil
}
