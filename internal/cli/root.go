// Package cli implements storyctl, a command-line client for a running
// StorySpark server. Commands drive a workspace over the HTTP API, so edits
// made here follow the same write path as the editor.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/GriffinCanCode/StorySpark/internal/client"
	"github.com/GriffinCanCode/StorySpark/internal/workspace"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is set at build time
var Version = "dev"

const defaultServer = "http://localhost:8000"

type options struct {
	server  string
	timeout time.Duration
	verbose bool
}

// NewRootCommand builds the storyctl command tree
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "storyctl",
		Short: "Manage StorySpark story sessions",
		Long: `storyctl lists, edits and exports the story sessions stored by a
StorySpark server.

Sessions can be referenced by id or by the slug of their title.

Quick Start:
  storyctl list                          # List all sessions
  storyctl new --title "The Lost Fox"    # Create a session
  storyctl show the-lost-fox             # View a session
  storyctl export the-lost-fox -f md     # Download as Markdown`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	server := os.Getenv("STORYSPARK_URL")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVarP(&opts.server, "server", "s", server, "StorySpark server URL (env STORYSPARK_URL)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Request timeout")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newHealthCommand(opts),
		newListCommand(opts),
		newShowCommand(opts),
		newNewCommand(opts),
		newRenameCommand(opts),
		newWriteCommand(opts),
		newDeleteCommand(opts),
		newExportCommand(opts),
		newUploadImageCommand(opts),
	)
	return root
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (o *options) logger() *zap.Logger {
	if !o.verbose {
		return zap.NewNop()
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func (o *options) client() *client.Client {
	return client.New(client.Config{BaseURL: o.server, Timeout: o.timeout}, o.logger())
}

// withWorkspace runs fn against a workspace backed by the server. Pending
// edits are flushed before returning.
func (o *options) withWorkspace(ctx context.Context, fn func(*workspace.Workspace, *client.Client) error) error {
	c := o.client()
	defer c.Close()

	ws := workspace.New(c, workspace.Options{Logger: o.logger(), WriteTimeout: o.timeout})
	defer ws.Close()

	if err := fn(ws, c); err != nil {
		return err
	}
	return ws.Flush(ctx)
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
