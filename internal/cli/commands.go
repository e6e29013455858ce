package cli

import (
	"github.com/spf13/cobra"

	"dcm-finder/internal/config"
	"dcm-finder/internal/pipeline"
)

type globalFlags struct {
	configPath   string
	workers      int
	indexPath    string
	reportPath   string
	manifestPath string
	metricsPath  string
	logLevel     string
	logFormat    string
	noProgress   bool
}

// NewRootCommand builds the dcmfinder command tree.
func NewRootCommand() *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:   "dcmfinder",
		Short: "Index DICOM files by patient, study and series, optionally de-identifying them",
		Long: `dcmfinder scans a directory tree for DICOM files and groups them into a
patient -> study -> series -> file index written to result.json.

The deidentify command additionally replaces identifying attributes and
copies every file to <save>/<patient>/<study>/<series>/<n>.`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "YAML configuration file")
	pf.IntVar(&g.workers, "workers", 0, "Number of parallel workers (default: number of CPUs)")
	pf.StringVar(&g.indexPath, "index", "", "SQLite index file (default: in-memory)")
	pf.StringVar(&g.reportPath, "report", "", "JSON report path (default: result.json)")
	pf.StringVar(&g.manifestPath, "manifest", "", "Write a run manifest to this path")
	pf.StringVar(&g.metricsPath, "metrics-file", "", "Write Prometheus metrics in textfile format to this path")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&g.logFormat, "log-format", "", "Log format: text or json")
	pf.BoolVar(&g.noProgress, "no-progress", false, "Disable the progress bar")

	var findPath string
	findCmd := &cobra.Command{
		Use:   "find",
		Short: "Index DICOM files and write the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			return Run(cmd.Context(), Options{
				Mode:     pipeline.ModeFind,
				InputDir: findPath,
				Config:   cfg,
				Stdout:   cmd.OutOrStdout(),
				Stderr:   cmd.ErrOrStderr(),
			})
		},
	}
	findCmd.Flags().StringVarP(&findPath, "path", "p", "", "Directory to scan")
	_ = findCmd.MarkFlagRequired("path")

	var deidPath, savePath string
	deidCmd := &cobra.Command{
		Use:     "deidentify",
		Aliases: []string{"depersonalize"},
		Short:   "Index DICOM files and write de-identified copies",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			return Run(cmd.Context(), Options{
				Mode:      pipeline.ModeDeidentify,
				InputDir:  deidPath,
				OutputDir: savePath,
				Config:    cfg,
				Stdout:    cmd.OutOrStdout(),
				Stderr:    cmd.ErrOrStderr(),
			})
		},
	}
	deidCmd.Flags().StringVarP(&deidPath, "path", "p", "", "Directory to scan")
	deidCmd.Flags().StringVarP(&savePath, "save", "s", "", "Output directory for de-identified files")
	_ = deidCmd.MarkFlagRequired("path")
	_ = deidCmd.MarkFlagRequired("save")

	root.AddCommand(findCmd, deidCmd)
	return root
}

// load reads the config file and applies the flags set on the command line.
func (g *globalFlags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Workers = g.workers
	}
	if flags.Changed("index") {
		cfg.IndexPath = g.indexPath
	}
	if flags.Changed("report") {
		cfg.ReportPath = g.reportPath
	}
	if flags.Changed("manifest") {
		cfg.ManifestPath = g.manifestPath
	}
	if flags.Changed("metrics-file") {
		cfg.MetricsPath = g.metricsPath
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = g.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = g.logFormat
	}
	if g.noProgress {
		cfg.Progress = false
	}

	return cfg, cfg.Validate()
}
