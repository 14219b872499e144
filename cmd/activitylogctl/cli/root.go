// Package cli implements activitylogctl, a terminal client for the activity
// log service.
package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/worklenz/activitylog/internal/activitylog/source"
)

var (
	colorDim   = lipgloss.AdaptiveColor{Light: "242", Dark: "240"}
	colorGreen = lipgloss.AdaptiveColor{Light: "28", Dark: "40"}
	colorRed   = lipgloss.AdaptiveColor{Light: "124", Dark: "196"}

	styleTitle   = lipgloss.NewStyle().Bold(true)
	styleDim     = lipgloss.NewStyle().Foreground(colorDim)
	styleSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	styleError   = lipgloss.NewStyle().Foreground(colorRed)
)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	BaseURL   string
	ProjectID string
	Timeout   time.Duration
	Verbose   bool
}

// NewRootCommand builds the activitylogctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "activitylogctl",
		Short:         "Browse and export project activity logs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.BaseURL, "base-url", envOr("ACTIVITYLOG_BASE_URL", "http://127.0.0.1:8080"), "activity log service URL")
	flags.StringVarP(&opts.ProjectID, "project", "p", os.Getenv("ACTIVITYLOG_PROJECT"), "project id")
	flags.DurationVar(&opts.Timeout, "timeout", 30*time.Second, "per request timeout")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "log page fetches to stderr")

	root.AddCommand(newBrowseCommand(opts), newExportCommand(opts), newJobsCommand())
	return root
}

// Execute runs cmd and prints a failure on its error writer.
func Execute(ctx context.Context, cmd *cobra.Command) error {
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		cmd.PrintErrln(styleError.Render("error: " + err.Error()))
	}
	return err
}

func (o *globalOptions) source() (*source.HTTP, error) {
	if o.ProjectID == "" {
		return nil, errors.New("--project is required")
	}
	return source.NewHTTP(source.HTTPConfig{
		BaseURL:   o.BaseURL,
		ProjectID: o.ProjectID,
		Client:    &http.Client{Timeout: o.Timeout},
	})
}

func (o *globalOptions) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
