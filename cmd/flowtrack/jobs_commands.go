package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"flowtrack/internal/api"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs tracked by the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				jobs, err := client.ListJobs(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, jobs)
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No jobs tracked")
					return nil
				}
				fmt.Fprintln(out, renderJobTable(jobs))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show the current status of one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				job, err := client.Job(cmd.Context(), args[0])
				if err != nil {
					if api.IsNotFound(err) {
						return fmt.Errorf("job %s is not tracked by the daemon; try `flowtrack status <artifact-id>`", args[0])
					}
					return err
				}
				if jsonOut {
					return writeJSON(cmd, job)
				}
				writeJobDetails(cmd, job)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var req api.DownloadJobRequest
	var follow bool

	cmd := &cobra.Command{
		Use:   "download <url>",
		Short: "Download the audio of a URL into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.URL = strings.TrimSpace(args[0])
			return ctx.withClient(func(client *api.Client) error {
				job, err := client.StartDownload(cmd.Context(), req)
				if err != nil {
					return err
				}
				return submitted(cmd, client, job, follow)
			})
		},
	}

	cmd.Flags().BoolVarP(&req.Transcribe, "transcribe", "t", false, "Transcribe the audio once it is stored")
	cmd.Flags().StringVarP(&req.QualityProfile, "profile", "p", "", "Transcription quality profile")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow status updates until the job settles")
	return cmd
}

func newTranscribeCommand(ctx *commandContext) *cobra.Command {
	var profile string
	var filePath string
	var follow bool

	cmd := &cobra.Command{
		Use:   "transcribe [artifact-id]",
		Short: "Transcribe a stored artifact or a local audio file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filePath = strings.TrimSpace(filePath)
			if (len(args) == 0) == (filePath == "") {
				return errors.New("provide either an artifact id or --file")
			}
			return ctx.withClient(func(client *api.Client) error {
				var (
					job api.Job
					err error
				)
				if filePath != "" {
					job, err = uploadFile(cmd, client, filePath, profile)
				} else {
					job, err = client.StartTranscription(cmd.Context(), api.TranscribeJobRequest{
						ArtifactID:     strings.TrimSpace(args[0]),
						QualityProfile: profile,
					})
				}
				if err != nil {
					return err
				}
				return submitted(cmd, client, job, follow)
			})
		},
	}

	cmd.Flags().StringVarP(&profile, "profile", "p", "", "Transcription quality profile")
	cmd.Flags().StringVar(&filePath, "file", "", "Local audio file to upload and transcribe")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow status updates until the job settles")
	return cmd
}

func uploadFile(cmd *cobra.Command, client *api.Client, path, profile string) (api.Job, error) {
	file, err := os.Open(path)
	if err != nil {
		return api.Job{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()
	return client.UploadForTranscription(cmd.Context(), filepath.Base(path), file, profile)
}

func submitted(cmd *cobra.Command, client *api.Client, job api.Job, follow bool) error {
	fmt.Fprintf(cmd.OutOrStdout(), "Job %s started (%s)\n", job.ID, job.Kind)
	if !follow {
		return nil
	}
	return followJob(cmd, client, job.ID, true)
}

func renderJobTable(jobs []api.Job) string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			shortID(job.ID),
			job.Kind,
			job.State,
			job.Comment,
			formatTimestamp(job.LastModified),
		})
	}
	return renderTable(
		[]string{"ID", "Kind", "State", "Comment", "Updated"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	)
}

func writeJobDetails(cmd *cobra.Command, job api.Job) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	for _, line := range renderSectionHeader("Job "+job.ID, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderJobLine(job, colorize))
	fields := [][2]string{
		{"Kind", job.Kind},
		{"Description", job.Description},
		{"Source URL", job.SourceURL},
		{"Filename", job.Filename},
		{"Quality profile", job.QualityProfile},
		{"Audio artifact", job.PrimaryArtifactID},
		{"Transcript", job.ResultArtifactID},
		{"Created", formatTimestamp(job.CreatedAt)},
		{"Updated", formatTimestamp(job.LastModified)},
		{"Finished", yesNo(job.Settled)},
	}
	for _, field := range fields {
		if field[1] == "" {
			continue
		}
		fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, field[0]+":", field[1])
	}
}

func formatTimestamp(value string) string {
	if value == "" {
		return ""
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return value
	}
	return parsed.Local().Format("2006-01-02 15:04:05")
}
