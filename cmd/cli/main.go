package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/takoyadon/loyalty-ledger/internal/config"
	"github.com/takoyadon/loyalty-ledger/internal/model"
	"github.com/takoyadon/loyalty-ledger/internal/repository"
	"github.com/takoyadon/loyalty-ledger/internal/services"
	"github.com/takoyadon/loyalty-ledger/migrations"
	"github.com/takoyadon/loyalty-ledger/pkg/logger"
	"github.com/takoyadon/loyalty-ledger/pkg/pg"
)

const usage = `usage: cli <command> [--env=path] [flags]

commands:
  migrate                          apply pending migrations
  status                           print migration status
  seed                             upsert the default reward catalog and activity rules
  create-account --id=ID [--email=EMAIL] [--role=ROLE]
`

var defaultRewards = []*model.Reward{
	{ID: "free_drink", Name: "Free Drink", PointsCost: 50, Active: true},
	{ID: "takoyaki_6pc", Name: "Takoyaki 6pc", PointsCost: 120, Active: true},
	{ID: "donburi_bowl", Name: "Donburi Bowl", PointsCost: 250, Active: true},
}

var defaultRules = []model.ActivityRule{
	{ActivityType: "social_share", PointsValue: 40},
	{ActivityType: "feedback_submission", PointsValue: 10},
	{ActivityType: "store_visit", PointsValue: 20},
}

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(2)
	}

	err := config.Load(getEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := run(context.Background(), os.Args[1]); err != nil {
		logger.Error("cli: command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string) error {
	cfg := config.Get()
	switch command {
	case "migrate":
		return pg.Migrate(cfg.PostgresWrite(), migrations.FS, ".")
	case "status":
		return pg.MigrationStatus(cfg.PostgresWrite(), migrations.FS, ".")
	case "seed":
		db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), cfg.AppDebug)
		if err != nil {
			return err
		}
		defer db.Close()
		return seed(ctx, repository.NewRewardRepository(db), repository.NewActivityRuleRepository(db))
	case "create-account":
		db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), cfg.AppDebug)
		if err != nil {
			return err
		}
		defer db.Close()
		req := model.AccountCreateRequest{
			ID:    flagValue("id"),
			Email: flagValue("email"),
			Role:  model.Role(flagValue("role")),
		}
		acc, err := services.NewAccountService(repository.NewAccountRepository(db)).Register(ctx, req)
		if err != nil {
			return err
		}
		fmt.Printf("created account %s (%s)\n", acc.ID, acc.Role)
		return nil
	default:
		fmt.Print(usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

type rewardUpserter interface {
	Upsert(ctx context.Context, reward *model.Reward) error
}

type ruleUpserter interface {
	Upsert(ctx context.Context, rule model.ActivityRule) error
}

func seed(ctx context.Context, rewards rewardUpserter, rules ruleUpserter) error {
	for _, r := range defaultRewards {
		if err := rewards.Upsert(ctx, r); err != nil {
			return fmt.Errorf("seed reward %s: %w", r.ID, err)
		}
	}
	for _, r := range defaultRules {
		if err := rules.Upsert(ctx, r); err != nil {
			return fmt.Errorf("seed rule %s: %w", r.ActivityType, err)
		}
	}
	logger.Info("cli: seeded catalog", "rewards", len(defaultRewards), "rules", len(defaultRules))
	return nil
}

func flagValue(name string) string {
	prefix := "--" + name + "="
	for _, v := range os.Args {
		if strings.HasPrefix(v, prefix) {
			return strings.TrimPrefix(v, prefix)
		}
	}
	return ""
}

func getEnvPath() string {
	if p := flagValue("env"); p != "" {
		if _, err := os.Stat(p); err != nil {
			logger.Error("failed to open the passed env file, got error" + err.Error())
			return ""
		}
		return p
	}
	if _, err := os.Stat(".env"); err != nil {
		return ""
	}
	return ".env"
}
