package cmd

import (
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/micrictor/cpnat/internal/config"
	"github.com/micrictor/cpnat/internal/mgmt"
	"github.com/micrictor/cpnat/internal/nat"
	"github.com/micrictor/cpnat/internal/util"
)

const ENV_PREFIX = "CPNAT"

// appConfig is loaded before any subcommand runs.
var appConfig *config.AppConfig

var rootCmd = &cobra.Command{
	Use:   "cpnat",
	Short: "Check Point NAT rulebase compiler",
	Long: `Compiles the NAT rulebases of a Check Point management export into
ordered per-gateway header transformation pipelines`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := util.InitLog(cfg.Log.Level, cfg.Log.File); err != nil {
			return err
		}
		appConfig = cfg
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "YAML config file")
	flags.String("log-level", config.DEFAULT_LOG_LEVEL, "log level (trace, debug, info, warn, error)")
	flags.String("log-file", config.DEFAULT_LOG_FILE, "log file path, or console")
	flags.Int("workers", config.DEFAULT_WORKERS, "gateways compiled in parallel")

	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log.file", flags.Lookup("log-file"))
	_ = viper.BindPFlag("compile.workers", flags.Lookup("workers"))

	viper.SetEnvPrefix(ENV_PREFIX)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// loadConfig reads the config file, then lets flags and CPNAT_ environment
// variables override it.
func loadConfig() (*config.AppConfig, error) {
	cfg := config.Default()
	if path := viper.GetString("config"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open config")
		}
		defer f.Close()
		if cfg, err = config.New(f); err != nil {
			return nil, err
		}
	}

	if viper.IsSet("log.level") {
		cfg.Log.Level = viper.GetString("log.level")
	}
	if viper.IsSet("log.file") {
		cfg.Log.File = viper.GetString("log.file")
	}
	if viper.IsSet("compile.workers") {
		cfg.Compile.Workers = viper.GetInt("compile.workers")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func loadDomain(path string) (*mgmt.Domain, error) {
	if path == "" {
		return nil, errors.New("an input file is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open input")
	}
	defer f.Close()
	return mgmt.DecodeDomain(f)
}

func newCompiler(reg prometheus.Registerer, gateways ...string) *nat.Compiler {
	opts := []nat.Option{
		nat.WithPortPool(nat.PortPool{
			First: uint16(appConfig.Compile.PortFirst),
			Last:  uint16(appConfig.Compile.PortLast),
		}),
		nat.WithWorkers(appConfig.Compile.Workers),
		nat.WithAutomaticHide(appConfig.Compile.AutomaticHide),
	}
	if len(gateways) > 0 {
		opts = append(opts, nat.WithGateways(gateways...))
	}
	if reg != nil {
		opts = append(opts, nat.WithMetrics(nat.NewMetrics(reg)))
	}
	return nat.NewCompiler(opts...)
}

// compileOne compiles the domain for a single gateway, by name or uid.
func compileOne(ctx context.Context, d *mgmt.Domain, gateway string) (nat.GatewayResult, error) {
	if gateway == "" {
		return nat.GatewayResult{}, errors.New("a gateway is required")
	}
	results, err := newCompiler(nil, gateway).CompileDomain(ctx, d)
	if err != nil {
		return nat.GatewayResult{}, err
	}
	if len(results) == 0 {
		return nat.GatewayResult{}, errors.Errorf("gateway %s not found or has no nat rulebase installed", gateway)
	}
	res := results[0]
	if res.Err != nil {
		return res, res.Err
	}
	log.Debugf("gateway %s compiled to %d transformations", res.GatewayName, len(res.Pipeline))
	return res, nil
}
