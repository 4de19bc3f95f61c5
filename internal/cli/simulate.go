package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var simulateGwei string

var simulateCmd = &cobra.Command{
	Use:   "simulate-breach",
	Short: "按给定 gwei 评估当前 7d 窗口，突破时发送告警（不写入历史）",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateGwei == "" {
			return errors.New("--gwei 必须提供")
		}
		gwei, err := decimal.NewFromString(simulateGwei)
		if err != nil {
			return errors.New("--gwei 不是合法数字")
		}
		if !gwei.IsPositive() {
			return errors.New("--gwei 必须大于 0")
		}
		return getApp().SimulateBreach(cmd.Context(), gwei)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateGwei, "gwei", "", "模拟的 gas 价格 (gwei)")
}
