package main

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/hanpama/computed/internal/config"
	"github.com/hanpama/computed/internal/engine"
	"github.com/hanpama/computed/internal/model"
)

var (
	// Global state set during PersistentPreRunE
	cfg        *config.Config
	configPath string
	logger     hclog.Logger

	// Persistent flags
	cfgFile   string
	schemaDir string
	verbose   int
	quiet     bool
)

var rootCmd = &cobra.Command{
	Use:   "computed",
	Short: "Incremental computed members over an entity graph",
	Long: `computed - incremental computed members over an entity graph

Computed members are properties whose value is an expression over other
members of the entity graph. They are declared in GraphQL SDL with the
@computed directive and kept up to date after every write batch.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		var err error
		cfg, configPath, err = config.Load(cfgFile)
		if err != nil {
			return configError("loading configuration", err)
		}
		logger = cfg.Logger("computed")
		switch {
		case quiet:
			logger.SetLevel(hclog.Error)
		case verbose == 1:
			logger.SetLevel(hclog.Info)
		case verbose == 2:
			logger.SetLevel(hclog.Debug)
		case verbose > 2:
			logger.SetLevel(hclog.Trace)
		}
		if configPath != "" {
			logger.Debug("loaded configuration", "path", configPath)
		}
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

const (
	groupModel = "model"
	groupRun   = "run"
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: auto-discover computed.yaml)")
	rootCmd.PersistentFlags().StringVar(&schemaDir, "schema", "", "directory of .graphql model files (default: schema_dir from config)")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "increase log verbosity (can be repeated)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "log errors only")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupModel, Title: "Model:"},
		&cobra.Group{ID: groupRun, Title: "Run:"},
	)

	checkCmd.GroupID = groupModel
	inspectCmd.GroupID = groupModel
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(inspectCmd)

	runCmd.GroupID = groupRun
	rootCmd.AddCommand(runCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		exitWithError(err)
	}
}

// resolveString returns the first non-empty value.
func resolveString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// loadEngine builds the model under the schema directory and registers its
// computed members.
func loadEngine() (*model.Model, *engine.Engine, error) {
	dir := resolveString(schemaDir, cfg.SchemaDir)
	m, err := model.Load(dir)
	if err != nil {
		return nil, nil, modelError(fmt.Sprintf("loading model from %s", dir), err)
	}
	e := engine.New(m,
		engine.WithLogger(logger.Named("engine")),
		engine.WithMaxPasses(cfg.Engine.MaxPasses))
	if err := engine.FromModel(e); err != nil {
		return m, nil, modelError("registering computed members", err)
	}
	return m, e, nil
}

// violations returns the model violations carried by err, if any.
func violations(err error) model.ValidationError {
	var verr model.ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	return nil
}
