package cli

import (
	"github.com/spf13/cobra"

	"disputable-values-monitor/internal/alerting"
)

var (
	simulateKind string
	simulateText string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "通过已配置的告警通道发送一条模拟告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		kinds, err := alerting.ParseKinds([]string{simulateKind})
		if err != nil {
			return err
		}
		kind := alerting.KindNewReport
		if len(kinds) > 0 {
			kind = kinds[0]
		}
		return getApp().SimulateAlert(cmd.Context(), kind, simulateText)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateKind, "kind", string(alerting.KindNewReport), "告警类型，例如 DISPUTABLE_REPORT")
	simulateCmd.Flags().StringVar(&simulateText, "text", "", "告警正文，默认使用测试文本")
}
