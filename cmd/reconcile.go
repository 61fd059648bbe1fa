package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/neilbauman/slsc-needs-severity-toolset/internal/model"
	"github.com/neilbauman/slsc-needs-severity-toolset/internal/reconcile"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Match staged rows against admin boundaries",
}

var reconcilePreviewCmd = &cobra.Command{
	Use:   "preview <dataset-id>",
	Short: "Match every staged row without writing",
	Args:  cobra.ExactArgs(1),
	RunE:  runReconcilePreview,
}

var reconcileApplyCmd = &cobra.Command{
	Use:   "apply <dataset-id>",
	Short: "Replace match records and clean values with a fresh run",
	Args:  cobra.ExactArgs(1),
	RunE:  runReconcileApply,
}

var reconcileSubmitCmd = &cobra.Command{
	Use:   "submit <dataset-id>",
	Short: "Run apply as a checkpointed job",
	Long: `Creates a reconciliation job and runs it to completion. Each batch records
a checkpoint; if the run fails or is interrupted, "reconcile resume <job-id>"
continues from the last committed batch.`,
	Args: cobra.ExactArgs(1),
	RunE: runReconcileSubmit,
}

var reconcileStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's persisted state",
	Args:  cobra.ExactArgs(1),
	RunE:  runReconcileStatus,
}

var reconcileResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a failed job from its checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runReconcileResume,
}

func init() {
	reconcilePreviewCmd.Flags().Bool("unmatched", false, "list rows that did not match")
	reconcilePreviewCmd.Flags().String("format", "table", "output format: table or json")
	reconcileApplyCmd.Flags().String("format", "table", "output format: table or json")

	reconcileCmd.AddCommand(reconcilePreviewCmd, reconcileApplyCmd, reconcileSubmitCmd, reconcileStatusCmd, reconcileResumeCmd)
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcilePreview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	unmatched, _ := cmd.Flags().GetBool("unmatched")
	format, _ := cmd.Flags().GetString("format")

	env, err := initEnv(ctx, "cli", false)
	if err != nil {
		return err
	}
	defer env.Close()

	res, err := env.Pipeline.Preview(ctx, args[0])
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if format == "json" {
		return printJSON(w, res)
	}
	if err := printSummary(w, res.Summary); err != nil {
		return err
	}
	if !unmatched {
		return nil
	}
	var rows [][]string
	for _, r := range res.Records {
		if r.MatchStatus == model.MatchStatusMatched && !r.InvalidValue {
			continue
		}
		status := string(r.MatchStatus)
		if r.InvalidValue {
			status += " (invalid value)"
		}
		rows = append(rows, []string{strconv.FormatInt(r.RawValueID, 10), r.RawPcode, r.RawName, r.DerivedMuniCode, status})
	}
	fmt.Fprintln(w)
	return printTable(w, []string{"Row", "Raw Pcode", "Raw Name", "Derived Code", "Status"}, rows)
}

func runReconcileApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	format, _ := cmd.Flags().GetString("format")

	env, err := initEnv(ctx, "cli", false)
	if err != nil {
		return err
	}
	defer env.Close()

	res, err := env.Pipeline.Apply(ctx, args[0])
	if err != nil {
		return err
	}
	res.Records = nil
	w := cmd.OutOrStdout()
	if format == "json" {
		return printJSON(w, res)
	}
	if err := printSummary(w, res.Summary); err != nil {
		return err
	}
	fmt.Fprintf(w, "Committed %d values for %s\n", res.Committed, res.DatasetID)
	return nil
}

func runReconcileSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := initEnv(ctx, "cli", false)
	if err != nil {
		return err
	}
	defer env.Close()

	job, err := env.Runner.Submit(ctx, args[0])
	if err != nil {
		return err
	}
	env.Runner.Wait()
	return reportJob(cmd, env, job.ID)
}

func runReconcileStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := initEnv(ctx, "cli", false)
	if err != nil {
		return err
	}
	defer env.Close()
	return reportJob(cmd, env, args[0])
}

func runReconcileResume(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := initEnv(ctx, "cli", false)
	if err != nil {
		return err
	}
	defer env.Close()

	if _, err := env.Runner.Resume(ctx, args[0]); err != nil {
		return err
	}
	env.Runner.Wait()
	return reportJob(cmd, env, args[0])
}

func reportJob(cmd *cobra.Command, env *appEnv, jobID string) error {
	job, err := env.Runner.Status(cmd.Context(), jobID)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	colored := useColor(false)
	status := string(job.Status)
	if colored {
		switch job.Status {
		case model.JobComplete:
			status = okText(status)
		case model.JobFailed:
			status = badText(status)
		default:
			status = warnText(status)
		}
	}
	fmt.Fprintf(w, "Job %s (%s): %s, %d/%d rows, %d values committed\n",
		job.ID, job.DatasetID, status, job.Offset, job.Total, job.Committed)
	if job.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", job.Error)
	}
	return nil
}

func printSummary(w io.Writer, s reconcile.Summary) error {
	rows := make([][]string, 0, len(model.MatchStatuses)+2)
	for _, st := range model.MatchStatuses {
		rows = append(rows, []string{string(st), strconv.Itoa(s.Counts[st])})
	}
	rows = append(rows,
		[]string{"invalid_values", strconv.Itoa(s.InvalidValues)},
		[]string{"total", strconv.Itoa(s.Total)},
	)
	if err := printTable(w, []string{"Status", "Rows"}, rows); err != nil {
		return err
	}
	fmt.Fprintf(w, "Match rate: %.1f%%\n", s.MatchRate()*100)
	return nil
}
