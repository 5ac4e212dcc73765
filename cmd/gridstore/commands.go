package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"gridstore/internal/backend"
	"gridstore/internal/backend/core"
	"gridstore/internal/netio"
	"gridstore/internal/schema"
	"gridstore/internal/store"
)

func (a *app) convertCommand() *cobra.Command {
	var (
		from, to      target
		standardTypes bool
		skipSeries    bool
		compression   int
		floatDigits   int
		encoding      string
	)
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Import a network from one backend and export it to another",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src := from.resolve(a.cfg, a.cfg.Source)
			dst := to.resolve(a.cfg, a.cfg.Target)
			opts := *dst.Options
			if cmd.Flags().Changed("compression-level") {
				opts.CompressionLevel = compression
			}
			if cmd.Flags().Changed("float-digits") {
				opts.FloatTruncationDigits = nil
				if floatDigits >= 0 {
					opts.FloatTruncationDigits = core.Digits(floatDigits)
				}
			}
			if encoding != "" {
				opts.Encoding = encoding
			}
			if standardTypes {
				opts.IncludeStandardTypes = true
			}
			dst.Options = &opts

			var importOpts []netio.Option
			if skipSeries {
				importOpts = append(importOpts, netio.WithSkipSeries())
			}
			st, in, err := a.importNetwork(cmd.Context(), src, importOpts...)
			if err != nil {
				return fmt.Errorf("import: %w", err)
			}
			out, err := netio.ExportTo(cmd.Context(), a.log.Logger, st, dst, netio.WithRecorder(a.recorder))
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			_, err = fmt.Fprintf(a.stdout, "converted %s (%s) to %s (%s): %d component types, %d warnings\n",
				in.Basename, src.Driver, out.Basename, dst.Driver, len(out.Components), len(in.Diagnostics))
			return err
		},
	}
	from.bind(cmd, "from-", "source")
	to.bind(cmd, "to-", "target")
	cmd.Flags().BoolVar(&standardTypes, "standard-types", false, "also export library standard types")
	cmd.Flags().BoolVar(&skipSeries, "skip-series", false, "import static tables only")
	cmd.Flags().IntVar(&compression, "compression-level", 0, "zstd level for binary targets (0 disables)")
	cmd.Flags().IntVar(&floatDigits, "float-digits", -1, "round floats to this many decimals (-1 keeps full precision)")
	cmd.Flags().StringVar(&encoding, "encoding", "", "text encoding for csv targets")
	return cmd
}

func (a *app) inspectCommand() *cobra.Command {
	var src target
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the component types, sizes and import warnings of a stored network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := src.resolve(a.cfg, a.cfg.Source)
			st, report, err := a.importNetwork(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return printSummary(a.stdout, st, report)
		},
	}
	src.bind(cmd, "", "source")
	return cmd
}

func (a *app) driversCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "drivers",
		Short: "List the registered storage backends and the options they honor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printDrivers(a.stdout, backend.Default())
		},
	}
}

func printSummary(w io.Writer, st *store.Store, report *netio.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	meta := st.Meta()
	fmt.Fprintf(tw, "network\t%s\n", meta.Name)
	fmt.Fprintf(tw, "format version\t%s\n", meta.FormatVersion)
	fmt.Fprintf(tw, "snapshots\t%d\n", len(st.Snapshots()))
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "COMPONENT\tENTITIES\tSERIES")
	for _, ct := range st.Registry().Components() {
		ids := st.IDs(ct.Name)
		if len(ids) == 0 {
			continue
		}
		var series []string
		for _, attr := range st.Registry().Enumerate(ct.Name, schema.Varying) {
			if len(st.Overridden(ct.Name, attr)) > 0 {
				series = append(series, attr)
			}
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", ct.ListName, len(ids), strings.Join(series, ","))
	}
	if len(report.Diagnostics) > 0 || len(report.Rejected) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "KIND\tCOMPONENT\tATTRIBUTE\tMESSAGE")
		for _, d := range report.Diagnostics {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Kind, d.Component, d.Attribute, d.Message)
		}
		for _, name := range slices.Sorted(maps.Keys(report.Rejected)) {
			fmt.Fprintf(tw, "%s\t%s\t\t%v\n", "rejected", name, report.Rejected[name])
		}
	}
	return tw.Flush()
}

func printDrivers(w io.Writer, reg *backend.Registry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DRIVER\tOPTIONS\tDESCRIPTION")
	for _, d := range reg.Drivers() {
		c, err := reg.Lookup(d)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d, strings.Join(c.Honors, ","), c.Description)
	}
	return tw.Flush()
}
