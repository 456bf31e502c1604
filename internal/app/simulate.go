package app

import (
	"context"
	"errors"
)

// SimulateAlert 对指定条目执行一次分析并强制推送告警。
func (a *App) SimulateAlert(ctx context.Context, query string) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	repo, err := a.openRepo(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	advisor, err := a.newAdvisor(repo, nil)
	if err != nil {
		return err
	}

	report, err := advisor.SimulateAlert(ctx, query)
	if err != nil {
		return err
	}
	a.Logger.Info().Str("item", report.Item.Name).
		Str("tier", string(report.Result.Tier)).
		Int("score", report.Result.Score).
		Msg("模拟告警已发送")
	return nil
}
