package main

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/internal/services/executor"
	"github.com/Ramsey-B/fern/internal/services/importer"
	"github.com/Ramsey-B/fern/pkg/archive"
	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

// withService runs fn against a connected import service and prints its result.
func withService(ctx context.Context, envFile string, stdout io.Writer, fn func(ctx context.Context, service *importer.Service) (any, error)) error {
	a, err := bootstrap(ctx, envFile, true)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := fn(ctx, a.service)
	if err != nil {
		return err
	}
	return printJSON(stdout, result)
}

func parseJobID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job id %q", raw)
	}
	return id, nil
}

func prepare(ctx context.Context, service *importer.Service, path, extractType string) (*models.PrepareResult, error) {
	pkg, err := archive.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening package %s", path)
	}
	defer pkg.Close()
	return service.Prepare(ctx, pkg, importer.PrepareOptions{ExtractType: models.ExtractType(extractType)})
}

func newPrepareCommand(envFile *string, stdout io.Writer) *cobra.Command {
	var extractType string
	cmd := &cobra.Command{
		Use:   "prepare <package>",
		Short: "Stage a package (zip or directory) and plan its batches",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return withService(c.Context(), *envFile, stdout, func(ctx context.Context, service *importer.Service) (any, error) {
				return prepare(ctx, service, args[0], extractType)
			})
		},
	}
	cmd.Flags().StringVar(&extractType, "type", "", "expected extract type (full or update); taken from the manifest when empty")
	return cmd
}

func newProcessCommand(envFile *string, stdout io.Writer) *cobra.Command {
	var sel executor.Selector
	var operation string
	cmd := &cobra.Command{
		Use:   "process <job>",
		Short: "Apply one batch: the next pending one, or the one given by --table and --batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			if (sel.Table == "") != (sel.BatchNumber == 0) {
				return fmt.Errorf("--table and --batch must be given together")
			}
			sel.Operation = models.Operation(operation)
			if operation != "" && !sel.Operation.Valid() {
				return fmt.Errorf("--operation must be delete or insert")
			}
			return withService(c.Context(), *envFile, stdout, func(ctx context.Context, service *importer.Service) (any, error) {
				return service.ProcessBatch(ctx, id, sel)
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&sel.Table, "table", "", "store table of the batch, e.g. enterprises")
	flags.IntVar(&sel.BatchNumber, "batch", 0, "batch number within the table")
	flags.StringVar(&operation, "operation", "", "delete or insert, when the batch number has both")
	return cmd
}

func newProgressCommand(envFile *string, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <job>",
		Short: "Show per-table and overall progress of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return withService(c.Context(), *envFile, stdout, func(ctx context.Context, service *importer.Service) (any, error) {
				return service.GetProgress(ctx, id)
			})
		},
	}
}

func newFinalizeCommand(envFile *string, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <job>",
		Short: "Resolve primary names, purge staging and complete a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return withService(c.Context(), *envFile, stdout, func(ctx context.Context, service *importer.Service) (any, error) {
				return service.Finalize(ctx, id)
			})
		},
	}
}

func newRetryCommand(envFile *string, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job>",
		Short: "Put the failed batches of a job back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return withService(c.Context(), *envFile, stdout, func(ctx context.Context, service *importer.Service) (any, error) {
				count, err := service.RetryFailed(ctx, id)
				if err != nil {
					return nil, err
				}
				return map[string]int64{"count": count}, nil
			})
		},
	}
}

// runSummary is what the run command prints once a package is imported.
type runSummary struct {
	Prepare   *models.PrepareResult  `json:"prepare"`
	Processed int                    `json:"batches_processed"`
	Failed    int                    `json:"batches_failed"`
	Finalize  *models.FinalizeResult `json:"finalize,omitempty"`
}

func newRunCommand(envFile *string, stdout io.Writer) *cobra.Command {
	var extractType string
	cmd := &cobra.Command{
		Use:   "run <package>",
		Short: "Prepare a package, apply every batch and finalize in one go",
		Long: `
Prepares the package, applies batches until none are pending and finalizes the
job. A failed batch does not stop the run; when any batch failed the job is
left unfinalized so it can be retried.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return withService(c.Context(), *envFile, stdout, func(ctx context.Context, service *importer.Service) (any, error) {
				return run(ctx, service, args[0], extractType)
			})
		},
	}
	cmd.Flags().StringVar(&extractType, "type", "", "expected extract type (full or update)")
	return cmd
}

func run(ctx context.Context, service *importer.Service, path, extractType string) (*runSummary, error) {
	prepared, err := prepare(ctx, service, path, extractType)
	if err != nil {
		return nil, err
	}
	summary := &runSummary{Prepare: prepared}

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		result, err := service.ProcessBatch(ctx, prepared.JobID, executor.Selector{})
		if fernerrors.IsExecutionError(err) {
			summary.Failed++
			continue
		}
		if err != nil {
			return summary, err
		}
		if result.Idle {
			break
		}
		summary.Processed++
	}

	if summary.Failed > 0 {
		return summary, fmt.Errorf("%d batches failed; retry job %s before finalizing", summary.Failed, prepared.JobID)
	}
	summary.Finalize, err = service.Finalize(ctx, prepared.JobID)
	if err != nil {
		return summary, err
	}
	return summary, nil
}
