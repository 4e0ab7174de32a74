package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"flowtrack/internal/api"
	"flowtrack/internal/objectstore"
	"flowtrack/internal/statusstore"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var direct bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status <artifact-id>",
		Short: "Read the durable status mirrored on an artifact",
		Long: "Read the status record stored in an artifact's metadata. Unlike `show`, this\n" +
			"works for jobs the daemon no longer tracks. With --direct the object store is\n" +
			"opened locally and the daemon is not contacted.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				job api.Job
				err error
			)
			if direct {
				job, err = fetchDirect(cmd, ctx, args[0])
			} else {
				err = ctx.withClient(func(client *api.Client) error {
					resp, err := client.ArtifactStatus(cmd.Context(), args[0])
					job = resp.Job
					return err
				})
			}
			if err != nil {
				if api.IsNotFound(err) || errors.Is(err, statusstore.ErrNotFound) {
					return fmt.Errorf("artifact %s has no status record", args[0])
				}
				return err
			}
			if jsonOut {
				return writeJSON(cmd, job)
			}
			writeJobDetails(cmd, job)
			return nil
		},
	}

	cmd.Flags().BoolVar(&direct, "direct", false, "Read the object store directly instead of asking the daemon")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func fetchDirect(cmd *cobra.Command, ctx *commandContext, artifactID string) (api.Job, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return api.Job{}, err
	}
	store, err := objectstore.Open(cmd.Context(), cfg)
	if err != nil {
		return api.Job{}, fmt.Errorf("open object store: %w", err)
	}
	defer store.Close()

	rec, err := statusstore.New(store).Fetch(cmd.Context(), artifactID)
	if err != nil {
		return api.Job{}, err
	}
	return api.FromRecord(rec), nil
}
