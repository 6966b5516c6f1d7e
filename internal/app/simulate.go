package app

import (
	"context"
	"errors"
	"time"

	"disputable-values-monitor/internal/alerting"
)

// SimulateAlert 通过告警分发器发送一条模拟告警，用于验证通道配置。
func (a *App) SimulateAlert(ctx context.Context, kind alerting.Kind, text string) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	dispatcher := a.newDispatcher()
	if !dispatcher.HasSinks() {
		return errors.New("未配置任何告警通道")
	}
	if !dispatcher.Enabled(kind) {
		return errors.New("alert kind " + string(kind) + " is disabled by alerting.kinds")
	}

	if text == "" {
		text = "**Simulated " + kind.Subject() + "**\nThis is a test alert."
	}
	outcomes := dispatcher.Dispatch(ctx, alerting.Message{Kind: kind, Text: text, Time: time.Now().UTC()})
	for _, o := range outcomes {
		if o.Err == nil {
			a.Logger.Info().Str("sink", o.Sink).Msg("simulated alert delivered")
		}
	}
	return alerting.Failed(outcomes)
}
