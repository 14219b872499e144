package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/worklenz/activitylog/internal/activitylog"
	"github.com/worklenz/activitylog/internal/activitylog/render"
	"github.com/worklenz/activitylog/jobs"
)

// JobsCLI wraps manual management helpers for queued exports.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	if redisAddr == "" {
		return nil, errors.New("jobs cli: redis address required")
	}
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	return &JobsCLI{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Enqueue submits an export. An empty JobID gets a fresh one.
func (c *JobsCLI) Enqueue(ctx context.Context, payload jobs.ActivityLogExportPayload) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}
	task, err := jobs.NewActivityLogExportTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// Status returns the queue state of one export.
func (c *JobsCLI) Status(ctx context.Context, jobID string) (*asynq.TaskInfo, error) {
	if err := uuid.Validate(jobID); err != nil {
		return nil, fmt.Errorf("jobs cli: invalid job id %q", jobID)
	}
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	return c.inspector.GetTaskInfo(jobs.QueueDefault, jobID)
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

// ListFailed returns exports that ran out of retries.
func (c *JobsCLI) ListFailed(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListArchivedTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

type jobsOptions struct {
	RedisAddr string
}

func newJobsCommand() *cobra.Command {
	opts := &jobsOptions{}
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Queue and inspect background exports",
	}
	cmd.PersistentFlags().StringVar(&opts.RedisAddr, "redis-addr", envOr("REDIS_ADDR", "127.0.0.1:6379"), "Redis address of the job queue")

	var enqueue struct {
		Project, Name, Filter, Format string
	}
	enqueueCmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue an export for the worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := activitylog.ParseFilter(enqueue.Filter)
			if err != nil {
				return err
			}
			format, err := render.ParseFormat(enqueue.Format)
			if err != nil {
				return err
			}
			name := enqueue.Name
			if name == "" {
				name = enqueue.Project
			}
			payload := jobs.ActivityLogExportPayload{
				JobID:       uuid.NewString(),
				ProjectID:   enqueue.Project,
				ProjectName: name,
				Filter:      string(filter),
				Format:      string(format),
			}
			if err := payload.Validate(); err != nil {
				return err
			}
			return withJobs(opts, func(c *JobsCLI) error {
				info, err := c.Enqueue(cmd.Context(), payload)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), styleSuccess.Render("queued "+info.ID))
				return nil
			})
		},
	}
	enqueueCmd.Flags().StringVarP(&enqueue.Project, "project", "p", "", "project id")
	enqueueCmd.Flags().StringVar(&enqueue.Name, "name", "", "project name")
	enqueueCmd.Flags().StringVarP(&enqueue.Filter, "filter", "f", string(activitylog.FilterAll), "category filter")
	enqueueCmd.Flags().StringVar(&enqueue.Format, "format", string(render.FormatPDF), "pdf or csv")

	statusCmd := &cobra.Command{
		Use:   "status JOB_ID",
		Short: "Show the state of a queued export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := uuid.Validate(args[0]); err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			return withJobs(opts, func(c *JobsCLI) error {
				info, err := c.Status(cmd.Context(), args[0])
				if errors.Is(err, asynq.ErrTaskNotFound) {
					return fmt.Errorf("export %s not found", args[0])
				}
				if err != nil {
					return err
				}
				printTasks(cmd, []*asynq.TaskInfo{info})
				return nil
			})
		},
	}

	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Summarise the export queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobs(opts, func(c *JobsCLI) error {
				stats, err := c.InspectQueue(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
					styleTitle.Render(stats.Queue), stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
				return nil
			})
		},
	}

	var failedSize int
	failedCmd := &cobra.Command{
		Use:   "failed",
		Short: "List exports that ran out of retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobs(opts, func(c *JobsCLI) error {
				infos, err := c.ListFailed(cmd.Context(), failedSize)
				if err != nil {
					return err
				}
				printTasks(cmd, infos)
				return nil
			})
		},
	}
	failedCmd.Flags().IntVar(&failedSize, "limit", 10, "maximum number of exports listed")

	cmd.AddCommand(enqueueCmd, statusCmd, queueCmd, failedCmd)
	return cmd
}

func withJobs(opts *jobsOptions, fn func(*JobsCLI) error) error {
	c, err := NewJobsCLI(opts.RedisAddr)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	return fn(c)
}

func printTasks(cmd *cobra.Command, infos []*asynq.TaskInfo) {
	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, styleDim.Render("none"))
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tRETRIED\tLAST ERROR")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", info.ID, info.State, info.Retried, info.LastErr)
	}
	_ = tw.Flush()
}
