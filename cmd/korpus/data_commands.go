package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cognicore/korpus/pkg/korpus"
	"github.com/cognicore/korpus/pkg/korpus/build"
	"github.com/cognicore/korpus/pkg/korpus/ingest"
	"github.com/cognicore/korpus/pkg/korpus/transform"
)

func newDataCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Ingest, build and export datasets",
	}
	cmd.AddCommand(newDataIngestCommand(ctx))
	cmd.AddCommand(newDataBuildCommand(ctx))
	cmd.AddCommand(newDataExportCommand(ctx))
	return cmd
}

func newDataIngestCommand(ctx *commandContext) *cobra.Command {
	var (
		dataset     string
		sourceName  string
		stripHTML   bool
		buildID     string
		concurrency int
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "ingest [flags] INPUT...",
		Short: "Validate raw JSONL files into canonical records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			opts := ingest.Options{
				DatasetName: dataset,
				InputPaths:  args,
				OutRoot:     cfg.OutRoot,
				SourceName:  cfg.Ingest.SourceName,
				StripHTML:   cfg.Ingest.StripHTML,
				BuildID:     buildID,
				Concurrency: cfg.Ingest.Concurrency,
			}
			flags := cmd.Flags()
			if flags.Changed("source-name") {
				opts.SourceName = sourceName
			}
			if flags.Changed("strip-html") {
				opts.StripHTML = stripHTML
			}
			if flags.Changed("concurrency") {
				opts.Concurrency = concurrency
			}

			var res *ingest.Result
			err = ctx.withKorpus(cmd.Context(), func(k *korpus.Korpus) error {
				var err error
				res, err = k.Ingest(cmd.Context(), opts)
				return err
			})
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, stageSummary{
					BuildID:   res.BuildID,
					OutputDir: res.OutputDir,
					Records:   res.RecordsPath,
					Manifest:  res.ManifestPath,
					Skipped:   res.Skipped,
					Counts:    res.Counts(),
				})
			}
			printStage(cmd, "Ingest", res.BuildID, res.OutputDir, res.Skipped, res.Counts())
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataset, "dataset", "d", "", "Dataset name")
	cmd.Flags().StringVar(&sourceName, "source-name", "", "Source label stored on every record")
	cmd.Flags().BoolVar(&stripHTML, "strip-html", false, "Extract text from HTML before validation")
	cmd.Flags().StringVar(&buildID, "build-id", "", "Override the computed build id")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Files validated in parallel (0 = GOMAXPROCS)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	_ = cmd.MarkFlagRequired("dataset")
	return cmd
}

func newDataBuildCommand(ctx *commandContext) *cobra.Command {
	var (
		dataset string
		input   string
		buildID string
		asJSON  bool
		flagCfg transform.Config
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Filter and deduplicate canonical records into a dataset build",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			tcfg := mergeTransformFlags(cmd, cfg.Build, flagCfg)
			opts := build.Options{
				DatasetName: dataset,
				InputPath:   input,
				OutRoot:     cfg.OutRoot,
				Config:      tcfg,
				BuildID:     buildID,
			}

			var res *build.Result
			err = ctx.withKorpus(cmd.Context(), func(k *korpus.Korpus) error {
				var err error
				res, err = k.Build(cmd.Context(), opts)
				return err
			})
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, stageSummary{
					BuildID:      res.BuildID,
					OutputDir:    res.OutputDir,
					Records:      res.RecordsPath,
					TransformLog: res.TransformLogPath,
					Manifest:     res.ManifestPath,
					Skipped:      res.Skipped,
					Counts:       res.Counts(),
				})
			}
			printStage(cmd, "Build", res.BuildID, res.OutputDir, res.Skipped, res.Counts())
			return nil
		},
	}

	defaults := transform.DefaultConfig()
	f := cmd.Flags()
	f.StringVarP(&dataset, "dataset", "d", "", "Dataset name")
	f.StringVarP(&input, "input", "i", "", "Canonical records.jsonl to build from")
	f.StringVar(&buildID, "build-id", "", "Override the computed build id")
	f.BoolVar(&asJSON, "json", false, "Print the result as JSON")
	f.BoolVar(&flagCfg.Lowercase, "lowercase", defaults.Lowercase, "Lowercase text during normalization")
	f.IntVar(&flagCfg.MinChars, "min-chars", defaults.MinChars, "Minimum normalized length in characters")
	f.IntVar(&flagCfg.MaxChars, "max-chars", defaults.MaxChars, "Maximum normalized length in characters")
	f.Float64Var(&flagCfg.MinQuality, "min-quality", defaults.MinQuality, "Minimum quality score (0 disables)")
	f.BoolVar(&flagCfg.DedupExact, "dedup-exact", defaults.DedupExact, "Drop exact duplicates")
	f.BoolVar(&flagCfg.DedupNear, "dedup-near", defaults.DedupNear, "Drop near duplicates (SimHash)")
	f.IntVar(&flagCfg.NearThreshold, "near-threshold", defaults.NearThreshold, "Maximum Hamming distance for near duplicates")
	f.StringVar(&flagCfg.NearIndex, "near-index", defaults.NearIndex, "Near duplicate index (linear, banded)")
	_ = cmd.MarkFlagRequired("dataset")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// mergeTransformFlags applies explicitly set flags on top of the file config.
func mergeTransformFlags(cmd *cobra.Command, base, flagCfg transform.Config) transform.Config {
	f := cmd.Flags()
	if f.Changed("lowercase") {
		base.Lowercase = flagCfg.Lowercase
	}
	if f.Changed("min-chars") {
		base.MinChars = flagCfg.MinChars
	}
	if f.Changed("max-chars") {
		base.MaxChars = flagCfg.MaxChars
	}
	if f.Changed("min-quality") {
		base.MinQuality = flagCfg.MinQuality
	}
	if f.Changed("dedup-exact") {
		base.DedupExact = flagCfg.DedupExact
	}
	if f.Changed("dedup-near") {
		base.DedupNear = flagCfg.DedupNear
	}
	if f.Changed("near-threshold") {
		base.NearThreshold = flagCfg.NearThreshold
	}
	if f.Changed("near-index") {
		base.NearIndex = flagCfg.NearIndex
	}
	return base
}

func newDataExportCommand(ctx *commandContext) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export BUILD_DIR",
		Short: "Write a build's records to a Parquet file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withKorpus(cmd.Context(), func(k *korpus.Korpus) error {
				res, err := k.Export(cmd.Context(), args[0], out)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d rows to %s\n", res.Rows, res.Path)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Parquet output path (default <build_dir>.parquet)")
	return cmd
}

type stageSummary struct {
	BuildID      string         `json:"build_id"`
	OutputDir    string         `json:"output_dir"`
	Records      string         `json:"records"`
	TransformLog string         `json:"transform_log,omitempty"`
	Manifest     string         `json:"manifest"`
	Skipped      bool           `json:"skipped"`
	Counts       map[string]int `json:"counts"`
}

func printStage(cmd *cobra.Command, stage, buildID, dir string, skipped bool, counts map[string]int) {
	out := cmd.OutOrStdout()
	status := "complete"
	if skipped {
		status = "already complete, skipped"
	}
	fmt.Fprintf(out, "%s %s: %s\n", stage, status, buildID)
	fmt.Fprintf(out, "Output: %s\n", dir)
	fmt.Fprintln(out, renderTable([]string{"Count", "Value"}, countRows(counts), []columnAlignment{alignLeft, alignRight}))
}
