package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"flowtrack/internal/api"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var untilSettled bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "watch [job-id]",
		Short: "Stream status updates for one job, or for every job",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var jobID string
			if len(args) == 1 {
				jobID = args[0]
			} else if untilSettled {
				return errors.New("--until-settled requires a job id")
			}
			return ctx.withClient(func(client *api.Client) error {
				if jsonOut {
					return client.Watch(cmd.Context(), jobID, func(job api.Job) error {
						if err := writeJSON(cmd, job); err != nil {
							return err
						}
						return stopWhenSettled(job, untilSettled)
					})
				}
				return followJob(cmd, client, jobID, untilSettled)
			})
		},
	}

	cmd.Flags().BoolVar(&untilSettled, "until-settled", false, "Exit once the job finishes")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit each update as JSON")
	return cmd
}

// followJob prints one status line per update. The stream itself never ends
// on job completion, so untilSettled closes it from the client side.
func followJob(cmd *cobra.Command, client *api.Client, jobID string, untilSettled bool) error {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	err := client.Watch(cmd.Context(), jobID, func(job api.Job) error {
		fmt.Fprintln(out, renderJobLine(job, colorize))
		return stopWhenSettled(job, untilSettled)
	})
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}

func stopWhenSettled(job api.Job, untilSettled bool) error {
	if untilSettled && job.Settled {
		return api.ErrStopWatching
	}
	return nil
}
