package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cognicore/korpus/pkg/korpus"
	"github.com/cognicore/korpus/pkg/korpus/catalog"
)

func newCatalogCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Browse recorded ingests and builds",
	}
	cmd.AddCommand(newCatalogListCommand(ctx))
	return cmd
}

func newCatalogListCommand(ctx *commandContext) *cobra.Command {
	var (
		dataset string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalogued outputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withKorpus(cmd.Context(), func(k *korpus.Korpus) error {
				entries, err := k.List(cmd.Context(), dataset)
				if err != nil {
					return err
				}
				if asJSON {
					if entries == nil {
						entries = []catalog.Entry{}
					}
					return writeJSON(cmd, entries)
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No catalogued outputs")
					return nil
				}

				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, []string{
						e.Dataset,
						e.BuildID,
						string(e.Kind),
						strconv.Itoa(e.Counts["total_in"]),
						strconv.Itoa(outputCount(e)),
						e.CreatedUTC,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Dataset", "Build", "Kind", "In", "Out", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&dataset, "dataset", "d", "", "Only list this dataset")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")
	return cmd
}

// outputCount is the number of records an entry produced.
func outputCount(e catalog.Entry) int {
	if e.Kind == catalog.KindBuild {
		return e.Counts["kept"]
	}
	return e.Counts["valid"]
}
