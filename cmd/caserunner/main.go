package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"github.com/caseworks/caserunner/internal/catalog"
	"github.com/caseworks/caserunner/internal/log"
	"github.com/caseworks/caserunner/internal/model"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
)

var (
	userConfigPath string // default config directory for caserunner on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "caserunner")
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is caserunner.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initCaserunner

	runCmd.Flags().StringVar(&flagTriageDir, "triage-dir", "", "root of the collected triage image (required)")
	runCmd.Flags().StringSliceVar(&flagTools, "tools", nil, "tool selection, default is the whole catalogue")
	runCmd.Flags().BoolVar(&flagYes, "yes", false, "install missing tools without asking")
	_ = runCmd.MarkFlagRequired("triage-dir")

	memCmd.Flags().StringVar(&flagImage, "image", "", "memory dump to analyze (required)")
	memCmd.Flags().StringSliceVar(&flagPlugins, "plugins", nil, "plugin selection, default is the whole set")
	memCmd.Flags().BoolVar(&flagYes, "yes", false, "install missing tools without asking")
	_ = memCmd.MarkFlagRequired("image")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(memCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("caserunner failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "caserunner",
	Short:        "Runs forensic triage and memory analysis tool batches",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run executes the triage tool batch against a collected image",
	RunE:  doRun,
}

var memCmd = &cobra.Command{
	Use:   "mem",
	Short: "mem executes the memory analysis plugin batch against a dump",
	RunE:  doMem,
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "tools lists the catalogue and the memory plugin set",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("triage tools:")
		for _, t := range catalog.Tools() {
			fmt.Printf("  %-10s %s\n", t.ID, t.Description)
		}
		fmt.Println()
		fmt.Println("memory plugins:")
		for _, p := range catalog.Plugins() {
			fmt.Printf("  %s\n", p.Name)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides version of caserunner",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("caserunner: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:     %s\n", configPath)
		}
		fmt.Printf("caserunner: %s\n", info.Main.Version)
		fmt.Printf("go:         %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:     %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:       %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:      %s\n", s.Value)
			}
		}
	},
}

func initCaserunner(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("CASERUNNERCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "caserunner.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig()
		configPath = filepath.Join(userConfigPath, "caserunner.yaml")
		err := os.MkdirAll(filepath.Dir(configPath), 0o755)
		if err != nil {
			return fmt.Errorf("creating directory %s: %w", filepath.Dir(configPath), err)
		}

		f, err := os.Create(configPath)
		if err != nil {
			return fmt.Errorf("creating file %s: %w", configPath, err)
		}
		defer func() {
			_ = f.Close()
		}()
		enc := yaml.NewEncoder(f)
		err = enc.Encode(config)
		if err != nil {
			return fmt.Errorf("storing configuration: %w", err)
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		loaded, err := model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error(d)
			}
			return fmt.Errorf("parsing config: %w", err)
		}
		config = *loaded
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		config.Log.Verbose = true
	}

	logger, err := log.New(config.Log.Verbose, config.Log.File)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	slog.Debug("caserunner start", "configPath", configPath)
	slog.Debug("caserunner start", "config", config)
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
