package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"gaswatch/internal/alerting"
)

// SimulateBreach 用给定价格评估当前历史窗口；若突破则发送告警，不写入历史文件。
func (a *App) SimulateBreach(ctx context.Context, gwei decimal.Decimal) error {
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置 telegram.bot_token / telegram.chat_id")
	}

	trk, err := a.newTracker(nil, a.openStore(), notifier, nil)
	if err != nil {
		return err
	}

	decision, sample, err := trk.Preview(ctx, gwei, time.Now())
	if err != nil {
		return err
	}

	if !decision.HasBaseline {
		fmt.Fprintf(a.Out, "history empty; %s gwei would be the first sample (no alert)\n", sample.Gwei)
		return nil
	}
	if !decision.Breached() {
		fmt.Fprintf(a.Out, "%s gwei is within 7d range [%s, %s]; no alert\n", sample.Gwei, decision.Baseline.Min, decision.Baseline.Max)
		return nil
	}

	loc, err := a.Config.Location()
	if err != nil {
		return err
	}
	text := alerting.RenderBreach(decision.Kind, sample.Gwei, sample.Time, loc)
	if err := notifier.Notify(ctx, alerting.Message{Text: text}); err != nil {
		return fmt.Errorf("send simulated alert: %w", err)
	}
	fmt.Fprintf(a.Out, "%s gwei is a new 7d %s; alert sent\n", sample.Gwei, decision.Kind)
	return nil
}
