package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"price-feed-oracle/internal/app"
	"price-feed-oracle/internal/feed"
)

var (
	alertTestSymbol    string
	alertTestPrice     float64
	alertTestThreshold float64
	alertTestCondition string
)

var alertTestCmd = &cobra.Command{
	Use:   "alert-test",
	Short: "在内存账本上演练一次 创建-发布-触发 告警流程",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertTestPrice <= 0 || alertTestThreshold <= 0 {
			return errors.New("--price 与 --threshold 必须大于 0")
		}

		condition, err := feed.ParseCondition(alertTestCondition)
		if err != nil {
			return err
		}

		opts := app.AlertTestOptions{
			Symbol:    alertTestSymbol,
			Price:     decimal.NewFromFloat(alertTestPrice),
			Threshold: decimal.NewFromFloat(alertTestThreshold),
			Condition: condition,
		}
		return getApp().AlertTest(cmd.Context(), opts)
	},
}

func init() {
	alertTestCmd.Flags().StringVar(&alertTestSymbol, "symbol", "BTC", "Symbol to publish")
	alertTestCmd.Flags().Float64Var(&alertTestPrice, "price", 50000, "Published price")
	alertTestCmd.Flags().Float64Var(&alertTestThreshold, "threshold", 52500, "Alert threshold price")
	alertTestCmd.Flags().StringVar(&alertTestCondition, "condition", "BELOW", "Alert condition (ABOVE or BELOW)")
}
