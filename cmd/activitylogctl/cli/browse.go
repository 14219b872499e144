package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/worklenz/activitylog/internal/activitylog"
)

type browseOptions struct {
	Rows     int
	Filter   string
	PageSize int
}

func newBrowseCommand(global *globalOptions) *cobra.Command {
	opts := &browseOptions{}
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "List the newest activity of a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBrowse(cmd, global, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.Rows, "rows", "n", activitylog.DefaultPageSize, "number of entries to show")
	cmd.Flags().StringVarP(&opts.Filter, "filter", "f", string(activitylog.FilterAll), "category filter")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", activitylog.DefaultPageSize, "entries per request")
	return cmd
}

func runBrowse(cmd *cobra.Command, global *globalOptions, opts *browseOptions) error {
	if opts.Rows <= 0 {
		return errors.New("--rows must be positive")
	}
	filter, err := activitylog.ParseFilter(opts.Filter)
	if err != nil {
		return err
	}
	src, err := global.source()
	if err != nil {
		return err
	}
	pager, err := activitylog.NewPager(activitylog.PagerConfig{
		Source:   src,
		PageSize: opts.PageSize,
		Filter:   filter,
		Logger:   global.logger(cmd),
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	for len(pager.Records()) < opts.Rows && pager.HasMore() {
		if err := pager.RequestRange(ctx, 0, opts.Rows-1); err != nil {
			return fmt.Errorf("load activity: %w", err)
		}
	}
	records := pager.Records()
	if len(records) > opts.Rows {
		records = records[:opts.Rows]
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, styleTitle.Render(filter.Label()))
	if len(records) == 0 {
		fmt.Fprintln(out, styleDim.Render("No activity yet"))
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, rec := range records {
		avatar := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(rec.Actor.AvatarColor())).Render(rec.Actor.Initial())
		fmt.Fprintf(tw, "%s\t%s %s\t%s\t%s\n",
			rec.Timestamp.Local().Format("02 Jan 2006 15:04"),
			avatar, rec.Actor.DisplayName(),
			subjectLine(rec.Subject),
			rec.ChangeDescription)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	state := pager.State()
	footer := fmt.Sprintf("%d shown, page %d of %d", len(records), state.CurrentPage, state.TotalPages)
	if pager.HasMore() {
		footer += ", more with --rows"
	}
	fmt.Fprintln(out, styleDim.Render(footer))
	return nil
}

func subjectLine(s activitylog.Subject) string {
	switch {
	case s.Key == "":
		return s.Name
	case s.Name == "":
		return s.Key
	}
	return s.Key + " - " + s.Name
}
