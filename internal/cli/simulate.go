package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
)

var simulateItem string

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "分析指定条目并强制触发一次告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(simulateItem) == "" {
			return errors.New("--item 不能为空")
		}
		return getApp().SimulateAlert(cmd.Context(), simulateItem)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateItem, "item", "", "条目名称或 external id")
}
