package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"flowtrack/internal/api"
)

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "fetch <artifact-id>",
		Short: "Download a stored artifact such as a finished transcript",
		Long: "Download an artifact's content from the daemon. Pass a job's result artifact\n" +
			"id to retrieve its transcript. Content goes to stdout unless --output is set.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			err := ctx.withClient(func(client *api.Client) error {
				var err error
				data, err = client.Artifact(cmd.Context(), args[0])
				return err
			})
			if err != nil {
				if api.IsNotFound(err) {
					return fmt.Errorf("artifact %s not found", args[0])
				}
				return err
			}
			if output == "" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if dir := filepath.Dir(output); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("create output directory: %w", err)
				}
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %d bytes to %s\n", len(data), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the artifact to this file")
	return cmd
}
