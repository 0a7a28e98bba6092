package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cognicore/korpus/pkg/korpus"
	"github.com/cognicore/korpus/pkg/korpus/layout"
	"github.com/cognicore/korpus/pkg/korpus/manifest"
)

func newManifestCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Inspect and verify build manifests",
	}
	cmd.AddCommand(newManifestShowCommand())
	cmd.AddCommand(newManifestVerifyCommand(ctx))
	return cmd
}

func newManifestShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show BUILD_DIR",
		Short: "Print a build manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Read(filepath.Join(args[0], layout.ManifestFile))
			if err != nil {
				return err
			}
			data, err := m.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newManifestVerifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "verify BUILD_DIR",
		Short: "Recompute input hashes and compare them with the manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withKorpus(cmd.Context(), func(k *korpus.Korpus) error {
				m, mismatches, err := k.Verify(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(mismatches) == 0 {
					fmt.Fprintf(out, "Lineage verified: %s/%s (%d inputs)\n", m.DatasetName, m.BuildID, len(m.InputFiles))
					return nil
				}

				rows := make([][]string, 0, len(mismatches))
				for _, mm := range mismatches {
					actual := mm.Actual
					if mm.Err != "" {
						actual = mm.Err
					}
					rows = append(rows, []string{mm.Path, shortHash(mm.Expected), shortHash(actual)})
				}
				fmt.Fprintln(out, renderTable([]string{"Input", "Expected", "Actual"}, rows, nil))
				return fmt.Errorf("lineage mismatch: %d of %d inputs changed", len(mismatches), len(m.InputFiles))
			})
		},
	}
}

func shortHash(s string) string {
	if len(s) == 64 {
		return s[:12]
	}
	return s
}
