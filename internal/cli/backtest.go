package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"conservative_bot/internal/models"
	backtestservice "conservative_bot/internal/modules/backtest/service"
	"conservative_bot/internal/modules/config"
	mdservice "conservative_bot/internal/modules/marketdata/service"
	riskservice "conservative_bot/internal/modules/risk/service"
	strategyservice "conservative_bot/internal/modules/strategy/service"
	"conservative_bot/pkg/db"
	"conservative_bot/pkg/logger"
)

const envPrefix = "BACKTEST"

// NewRootCmd builds the backtest CLI. Every flag can also come from a
// BACKTEST_* env var or the file given with --config.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:          "backtest",
		Short:        "Replay the conservative strategy over historical bars",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			if file := v.GetString("config"); file != "" {
				v.SetConfigFile(file)
				if err := v.ReadInConfig(); err != nil {
					return errors.Wrapf(err, "read config %s", file)
				}
			}
			return logger.Init(v.GetString("log-level"))
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBacktest(cmd.Context(), v, cmd.OutOrStdout())
		},
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "config file with defaults and custom presets")
	pf.String("log-level", "warn", "log level")
	pf.String("source", config.SourceSynthetic, "bar source: synthetic or postgres")
	pf.String("dsn", "", "postgres dsn for --source postgres")
	pf.Int64("seed", 42, "synthetic data seed")
	pf.String("end", "", "last bar time, RFC3339 (default now)")
	pf.String("interval", "1h", "bar interval")

	f := root.Flags()
	f.String("preset", "", "preset name (see presets)")
	f.StringSlice("symbols", nil, "symbols, e.g. BTC/USDT,ETH/USDT")
	f.Int("days", 0, "days to simulate")
	f.Float64("balance", 0, "initial balance")
	f.String("rule", backtestservice.RuleMeanReversion, "entry rule: mean_reversion or conservative")
	f.Bool("json", false, "print the full report as JSON")

	root.AddCommand(newPresetsCmd(v), newSeedCmd(v))
	return root
}

func newPresetsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the available presets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			custom, err := customPresets(v)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range append(backtestservice.Presets(), custom...) {
				fmt.Fprintf(out, "%-14s %3d days  %8.2f  %s\n", p.Name, p.Days, p.InitialBalance, strings.Join(p.Symbols, ","))
			}
			return nil
		},
	}
}

func newSeedCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write synthetic bars into postgres",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSeed(cmd.Context(), v, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringSlice("symbols", []string{"BTC/USDT"}, "symbols to seed")
	cmd.Flags().Int("days", 30, "days of bars per symbol")
	return cmd
}

// customPresets reads the "presets" list from the config file.
func customPresets(v *viper.Viper) ([]backtestservice.Preset, error) {
	var out []backtestservice.Preset
	if err := v.UnmarshalKey("presets", &out); err != nil {
		return nil, errors.Wrap(err, "decode presets")
	}
	return out, nil
}

func request(v *viper.Viper) (backtestservice.Request, error) {
	req := backtestservice.Request{
		Preset:         v.GetString("preset"),
		Symbols:        v.GetStringSlice("symbols"),
		Days:           v.GetInt("days"),
		InitialBalance: v.GetFloat64("balance"),
		Rule:           v.GetString("rule"),
	}
	custom, err := customPresets(v)
	if err != nil {
		return req, err
	}
	for _, p := range custom {
		if p.Name != req.Preset {
			continue
		}
		req.Preset = ""
		if len(req.Symbols) == 0 {
			req.Symbols = p.Symbols
		}
		if req.Days == 0 {
			req.Days = p.Days
		}
		if req.InitialBalance == 0 {
			req.InitialBalance = p.InitialBalance
		}
	}
	return req, nil
}

func endTime(v *viper.Viper) (time.Time, error) {
	raw := v.GetString("end")
	if raw == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "parse --end")
	}
	return t, nil
}

// openSource returns the configured source and a release func.
func openSource(ctx context.Context, v *viper.Viper) (mdservice.Source, func(), error) {
	switch src := v.GetString("source"); src {
	case config.SourceSynthetic:
		end, err := endTime(v)
		if err != nil {
			return nil, nil, err
		}
		return mdservice.NewSynthetic(v.GetInt64("seed"), end), func() {}, nil
	case config.SourcePostgres:
		tm, err := openPostgres(ctx, v)
		if err != nil {
			return nil, nil, err
		}
		return mdservice.NewPgSource(tm), tm.Close, nil
	default:
		return nil, nil, errors.Errorf("unknown source %q", src)
	}
}

func openPostgres(ctx context.Context, v *viper.Viper) (*db.PgTxManager, error) {
	dsn := v.GetString("dsn")
	if dsn == "" {
		return nil, errors.New("--dsn is required for postgres")
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{DSN: dsn})
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return db.NewPgTxManager(pool), nil
}

func runBacktest(ctx context.Context, v *viper.Viper, out io.Writer) error {
	req, err := request(v)
	if err != nil {
		return err
	}
	source, release, err := openSource(ctx, v)
	if err != nil {
		return err
	}
	defer release()

	risk := riskservice.NewManager(models.DefaultRiskLimits())
	gen := strategyservice.NewGenerator(risk, strategyservice.GeneratorConfig{})
	cfg := backtestservice.DefaultConfig()
	cfg.Interval = v.GetString("interval")

	rep, err := backtestservice.NewRunner(cfg, backtestservice.RuleMeanReversion, source, risk, gen).Run(ctx, req)
	if err != nil {
		return err
	}

	if v.GetBool("json") {
		rep.Results = rep.Results.Rounded()
		body, err := sonic.ConfigStd.MarshalIndent(rep, "", "  ")
		if err != nil {
			return errors.Wrap(err, "encode report")
		}
		_, err = fmt.Fprintln(out, string(body))
		return err
	}
	return rep.WriteText(out)
}

func runSeed(ctx context.Context, v *viper.Viper, out io.Writer) error {
	end, err := endTime(v)
	if err != nil {
		return err
	}
	interval := v.GetString("interval")
	d, err := mdservice.IntervalDuration(interval)
	if err != nil {
		return err
	}
	tm, err := openPostgres(ctx, v)
	if err != nil {
		return err
	}
	defer tm.Close()

	pg := mdservice.NewPgSource(tm)
	if err := pg.EnsureSchema(ctx); err != nil {
		return err
	}
	synth := mdservice.NewSynthetic(v.GetInt64("seed"), end)
	count := int(time.Duration(v.GetInt("days")) * 24 * time.Hour / d)
	for _, sym := range v.GetStringSlice("symbols") {
		bars, err := synth.GetBars(ctx, sym, interval, count)
		if err != nil {
			return err
		}
		if err := pg.SaveBars(ctx, sym, interval, bars); err != nil {
			return err
		}
		fmt.Fprintf(out, "seeded %d %s bars for %s\n", len(bars), interval, sym)
	}
	return nil
}
