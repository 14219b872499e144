package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/worklenz/activitylog/internal/activitylog"
	"github.com/worklenz/activitylog/internal/activitylog/render"
	"github.com/worklenz/activitylog/report"
)

type exportOptions struct {
	Filter       string
	Format       string
	Name         string
	Output       string
	GotenbergURL string
	PageSize     int
	Capacity     int
	Quiet        bool
}

func newExportCommand(global *globalOptions) *cobra.Command {
	opts := &exportOptions{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the complete activity log to a file",
		Long: "Fetches every page of the project activity log and renders it locally.\n" +
			"PDF output is converted by Gotenberg.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, global, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.Filter, "filter", "f", string(activitylog.FilterAll), "category filter")
	flags.StringVar(&opts.Format, "format", string(render.FormatPDF), "pdf or csv")
	flags.StringVar(&opts.Name, "name", "", "project name used in the title and file name")
	flags.StringVarP(&opts.Output, "output", "o", "", "destination file, - for stdout")
	flags.StringVar(&opts.GotenbergURL, "gotenberg-url", envOr("GOTENBERG_URL", "http://127.0.0.1:3000"), "Gotenberg URL for pdf output")
	flags.IntVar(&opts.PageSize, "page-size", activitylog.DefaultExportPageSize, "entries per request")
	flags.IntVar(&opts.Capacity, "per-page", activitylog.DefaultOutputPageCapacity, "entries per output page")
	flags.BoolVarP(&opts.Quiet, "quiet", "q", false, "hide progress")
	return cmd
}

func runExport(cmd *cobra.Command, global *globalOptions, opts *exportOptions) error {
	format, err := render.ParseFormat(opts.Format)
	if err != nil {
		return err
	}
	filter, err := activitylog.ParseFilter(opts.Filter)
	if err != nil {
		return err
	}
	src, err := global.source()
	if err != nil {
		return err
	}

	var factory *render.Factory
	if format == render.FormatPDF {
		factory, err = render.NewFactory(report.NewClient(opts.GotenbergURL, global.Timeout))
	} else {
		factory, err = render.NewFactory(nil)
	}
	if err != nil {
		return err
	}
	name := opts.Name
	if name == "" {
		name = global.ProjectID
	}
	renderer, err := factory.New(format, name)
	if err != nil {
		return err
	}
	exporter, err := activitylog.NewExporter(activitylog.ExporterConfig{
		Source:             src,
		PageSize:           opts.PageSize,
		OutputPageCapacity: opts.Capacity,
		Logger:             global.logger(cmd),
	})
	if err != nil {
		return err
	}

	progress := func(p activitylog.Progress) {
		if !opts.Quiet {
			fmt.Fprintln(cmd.ErrOrStderr(), styleDim.Render(p.String()))
		}
	}
	artifact, err := exporter.ExportAll(cmd.Context(), activitylog.ExportRequest{
		Filter:   filter,
		Progress: progress,
	}, renderer)
	if errors.Is(err, activitylog.ErrNoRecords) {
		return fmt.Errorf("nothing to export for %s", filter.Label())
	}
	if err != nil {
		return err
	}

	if opts.Output == "-" {
		_, err := cmd.OutOrStdout().Write(artifact.Data)
		return err
	}
	path := opts.Output
	if path == "" {
		path = artifact.Name
	}
	if err := os.WriteFile(path, artifact.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), styleSuccess.Render(
		fmt.Sprintf("wrote %s: %d entries on %d pages", path, artifact.Records, artifact.Pages)))
	if artifact.Skipped > 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), styleError.Render(fmt.Sprintf("%d entries could not be rendered", artifact.Skipped)))
	}
	return nil
}
