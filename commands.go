package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"ci-medic/analysis"
	"ci-medic/app"
	"ci-medic/dispatch"
	"ci-medic/github"
	"ci-medic/store"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	failureColor = color.New(color.FgRed, color.Bold)
	mutedColor   = color.New(color.FgHiBlack)
)

func newSpinner(suffix string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + suffix
	return s
}

// parsePRArgs reads "OWNER/REPO NUMBER".
func parsePRArgs(args []string) (string, int64, error) {
	if _, _, err := github.SplitRepo(args[0]); err != nil {
		return "", 0, err
	}
	n, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || n <= 0 {
		return "", 0, fmt.Errorf("invalid PR number %q", args[1])
	}
	return args[0], n, nil
}

func newAnalyzeCmd(env *environment) *cobra.Command {
	var (
		req     app.AnalyzeRequest
		logFile string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "analyze --job NAME [--log FILE | --repo OWNER/REPO --job-id ID]",
		Short: "Diagnose a failed CI job log",
		Long: `Send a failed job's log to the analysis endpoint and print the diagnosis.

Examples:
  # Analyze a saved log
  ci-medic analyze --job "test (ubuntu-latest)" --log build.log

  # Read the log from stdin
  gh run view 123 --log-failed | ci-medic analyze --job test --log -

  # Download the job log from GitHub
  ci-medic analyze --job test --repo acme/shop --pr 7 --job-id 987654`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if logFile != "" {
				data, err := readLog(cmd.InOrStdin(), logFile)
				if err != nil {
					return err
				}
				req.Logs = data
			}
			if req.Logs == "" && req.JobID == 0 {
				return errors.New("either --log or --job-id is required")
			}

			if err := env.open(); err != nil {
				return err
			}
			defer env.close()

			s := newSpinner("Analyzing " + req.JobName + "...")
			s.Start()
			res, err := env.app.AnalyzeFailure(cmd.Context(), req)
			s.Stop()
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSONTo(cmd.OutOrStdout(), res)
			}
			printDiagnosis(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.JobName, "job", "", "name of the failed job")
	cmd.Flags().StringVar(&logFile, "log", "", "log file to analyze, - for stdin")
	cmd.Flags().StringVar(&req.Repo, "repo", "", "repository as owner/name")
	cmd.Flags().Int64Var(&req.Number, "pr", 0, "pull request number")
	cmd.Flags().Int64Var(&req.JobID, "job-id", 0, "Actions job id to download the log for")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	cmd.MarkFlagRequired("job")
	return cmd
}

func readLog(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read log: %w", err)
	}
	return string(data), nil
}

func printDiagnosis(w io.Writer, res *app.AnalyzeResult) {
	if res.ReusedFrom != "" {
		mutedColor.Fprintf(w, "(reused diagnosis %s)\n", res.ReusedFrom)
	}
	sec := res.Sections
	if !sec.Complete() {
		fmt.Fprintln(w, res.Diagnosis)
		return
	}
	for _, part := range []struct{ header, body string }{
		{analysis.SectionFailureType, sec.FailureType},
		{analysis.SectionRootCause, sec.RootCause},
		{analysis.SectionErrorDetail, sec.ErrorDetail},
		{analysis.SectionFixes, sec.Fixes},
	} {
		headerColor.Fprintln(w, part.header)
		fmt.Fprintln(w, part.body)
		fmt.Fprintln(w)
	}
	mutedColor.Fprintf(w, "analysis %s\n", res.ID)
}

func newOpenCLICmd(env *environment) *cobra.Command {
	var (
		req    dispatch.Request
		action string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "open-cli OWNER/REPO NUMBER",
		Short: "Open a coding CLI in a new terminal window, primed with the PR context",
		Long: `Render the configured command template for a PR and type it into a new
terminal window. Placeholders: {context}, {repo}, {number}, {pr_url}.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, number, err := parsePRArgs(args)
			if err != nil {
				return err
			}
			req.Repo, req.Number = repo, number

			if err := env.open(); err != nil {
				return err
			}
			defer env.close()

			if req.Template == "" {
				switch action {
				case "primary":
					req.Template = env.cfg.CLI.Primary.Template
				case "secondary":
					req.Template = env.cfg.CLI.Secondary.Template
				default:
					return fmt.Errorf("unknown action %q (want primary or secondary)", action)
				}
			}
			if req.PRURL == "" {
				req.PRURL = github.PRURL(repo, number)
			}

			if dryRun {
				command, err := env.dispatcher.Preview(req)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), command)
				return nil
			}
			if err := env.app.OpenCLI(cmd.Context(), req); err != nil {
				return err
			}
			successColor.Fprintf(cmd.OutOrStdout(), "Opened %s#%d in %s\n", repo, number, env.cfg.CLI.TerminalApp)
			return nil
		},
	}
	cmd.Flags().StringVar(&action, "action", "primary", "configured action to use: primary or secondary")
	cmd.Flags().StringVar(&req.Template, "template", "", "command template, overrides --action")
	cmd.Flags().StringVar(&req.Context, "context", "", "free-text context appended to the prompt")
	cmd.Flags().StringVar(&req.PRURL, "pr-url", "", "PR link, defaults to the github.com URL")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the command instead of opening a terminal")
	return cmd
}

func newTrackCmd(env *environment) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track",
		Short: "Manage tracked pull requests",
	}

	add := &cobra.Command{
		Use:   "add OWNER/REPO NUMBER",
		Short: "Start tracking a pull request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, number, err := parsePRArgs(args)
			if err != nil {
				return err
			}
			if err := env.open(); err != nil {
				return err
			}
			defer env.close()

			if _, err := env.app.AddTrackedPR(cmd.Context(), repo, number); err != nil {
				return err
			}
			successColor.Fprintf(cmd.OutOrStdout(), "Tracking %s#%d\n", repo, number)
			return nil
		},
	}

	remove := &cobra.Command{
		Use:     "remove OWNER/REPO NUMBER",
		Aliases: []string{"rm"},
		Short:   "Stop tracking a pull request",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, number, err := parsePRArgs(args)
			if err != nil {
				return err
			}
			if err := env.open(); err != nil {
				return err
			}
			defer env.close()

			if err := env.app.RemoveTrackedPR(cmd.Context(), repo, number); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stopped tracking %s#%d\n", repo, number)
			return nil
		},
	}

	var offline bool
	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show tracked pull requests with their CI status",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.open(); err != nil {
				return err
			}
			defer env.close()
			out := cmd.OutOrStdout()

			if offline {
				tracked, err := env.app.ListTrackedPRs(cmd.Context())
				if err != nil {
					return err
				}
				for _, pr := range tracked {
					fmt.Fprintf(out, "%s#%d\t%s\n", pr.Repo, pr.Number, mutedColor.Sprint("added "+github.FormatTimeAgo(pr.AddedAt, time.Now())))
				}
				return nil
			}

			s := newSpinner("Fetching tracked PRs...")
			s.Start()
			details, err := env.app.FetchTrackedPRs(cmd.Context())
			s.Stop()
			if err != nil {
				return err
			}
			if len(details) == 0 {
				mutedColor.Fprintln(out, "No tracked PRs")
				return nil
			}
			for _, d := range details {
				fmt.Fprintf(out, "%s %s#%d %s\n", ciBadge(d.CIStatus), d.Repo, d.PR.Number, d.PR.Title)
			}
			return nil
		},
	}
	list.Flags().BoolVar(&offline, "offline", false, "list stored entries without contacting GitHub")

	cmd.AddCommand(add, remove, list)
	return cmd
}

func ciBadge(status github.CIStatus) string {
	switch status {
	case github.CISuccess:
		return successColor.Sprint("✓")
	case github.CIFailure:
		return failureColor.Sprint("✗")
	case github.CIRunning:
		return color.YellowString("●")
	default:
		return mutedColor.Sprint("○")
	}
}

func jobBadge(status github.JobStatus) string {
	switch status {
	case github.JobSuccess:
		return successColor.Sprint("✓")
	case github.JobFailure:
		return failureColor.Sprint("✗")
	case github.JobRunning:
		return color.YellowString("●")
	case github.JobSkipped:
		return mutedColor.Sprint("-")
	default:
		return mutedColor.Sprint("○")
	}
}

func newPRCmd(env *environment) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "pr OWNER/REPO NUMBER",
		Short: "Show a pull request and its checks",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, number, err := parsePRArgs(args)
			if err != nil {
				return err
			}
			if err := env.open(); err != nil {
				return err
			}
			defer env.close()

			s := newSpinner("Fetching " + repo + "#" + args[1] + "...")
			s.Start()
			d, err := env.app.FetchPRInfo(cmd.Context(), repo, number)
			s.Stop()
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSONTo(cmd.OutOrStdout(), d)
			}
			printPR(cmd.OutOrStdout(), d)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func printPR(w io.Writer, d *github.PRDetails) {
	headerColor.Fprintf(w, "%s#%d %s\n", d.Repo, d.PR.Number, d.PR.Title)
	meta := []string{d.PR.State}
	if d.PR.Author != "" {
		meta = append(meta, "@"+d.PR.Author)
	}
	if d.PR.Additions != 0 || d.PR.Deletions != 0 {
		meta = append(meta, fmt.Sprintf("+%d -%d", d.PR.Additions, d.PR.Deletions))
	}
	if t, err := time.Parse(time.RFC3339, d.PR.UpdatedAt); err == nil {
		meta = append(meta, "updated "+github.FormatTimeAgo(t, time.Now()))
	}
	mutedColor.Fprintln(w, strings.Join(meta, " · "))
	fmt.Fprintf(w, "%s CI %s\n", ciBadge(d.CIStatus), d.CIStatus)
	for _, run := range d.CheckRuns {
		line := fmt.Sprintf("  %s %s", jobBadge(run.JobStatus), run.Name)
		if run.JobID != 0 {
			line += mutedColor.Sprintf("  job %d", run.JobID)
		}
		fmt.Fprintln(w, line)
	}

	failed := d.FailedJobs()
	if len(failed) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, run := range failed {
		if run.JobID == 0 {
			continue
		}
		mutedColor.Fprintf(w, "  ci-medic analyze --job %s --repo %s --pr %d --job-id %d\n",
			dispatch.ShellQuote(run.Name), d.Repo, d.PR.Number, run.JobID)
	}
}

func newLogsCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "logs OWNER/REPO JOB_ID",
		Short: "Print the tail of an Actions job log",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[1])
			}
			if err := env.open(); err != nil {
				return err
			}
			defer env.close()

			logs, err := env.app.JobLogs(cmd.Context(), args[0], jobID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), logs)
			return nil
		},
	}
}

func newRerunCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "rerun OWNER/REPO NUMBER",
		Short: "Re-run the failed jobs of a pull request's workflow runs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, number, err := parsePRArgs(args)
			if err != nil {
				return err
			}
			if err := env.open(); err != nil {
				return err
			}
			defer env.close()

			runIDs, err := env.app.RerunFailedJobs(cmd.Context(), repo, number)
			if errors.Is(err, github.ErrRunInProgress) {
				return errors.New("workflow is already running, wait for it to finish")
			}
			if err != nil {
				return err
			}
			if len(runIDs) == 0 {
				mutedColor.Fprintln(cmd.OutOrStdout(), "No failed workflow runs")
				return nil
			}
			for _, id := range runIDs {
				successColor.Fprintf(cmd.OutOrStdout(), "Re-running failed jobs of run %d\n", id)
			}
			return nil
		},
	}
}

func newHistoryCmd(env *environment) *cobra.Command {
	var filter store.AnalysisFilter
	cmd := &cobra.Command{
		Use:   "history [ID]",
		Short: "List past analyses, or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.open(); err != nil {
				return err
			}
			defer env.close()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				rec, err := env.app.Analysis(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if rec == nil {
					return fmt.Errorf("analysis %s not found", args[0])
				}
				if rec.Status == store.StatusFailed {
					failureColor.Fprintln(out, rec.Error)
					return nil
				}
				printDiagnosis(out, &app.AnalyzeResult{
					ID:         rec.ID,
					Diagnosis:  rec.Diagnosis,
					Sections:   analysis.ParseSections(rec.Diagnosis),
					ReusedFrom: rec.ReusedFromID,
				})
				return nil
			}

			recs, err := env.app.Analyses(cmd.Context(), filter)
			if err != nil {
				return err
			}
			for _, r := range recs {
				badge := successColor.Sprint("✓")
				summary := r.FailureType
				if r.Status == store.StatusFailed {
					badge, summary = failureColor.Sprint("✗"), r.Error
				}
				where := r.JobName
				if r.Repo != "" {
					where = fmt.Sprintf("%s#%d %s", r.Repo, r.Number, r.JobName)
				}
				fmt.Fprintf(out, "%s %s  %s  %s\n", badge, mutedColor.Sprint(shortID(r.ID)), where, summary)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.Repo, "repo", "", "only analyses for this repository")
	cmd.Flags().Int64Var(&filter.Number, "pr", 0, "only analyses for this PR number")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "maximum number of analyses")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func writeJSONTo(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
