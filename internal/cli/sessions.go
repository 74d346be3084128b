package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/GriffinCanCode/StorySpark/internal/client"
	"github.com/GriffinCanCode/StorySpark/internal/domain/story"
	"github.com/GriffinCanCode/StorySpark/internal/export"
	"github.com/GriffinCanCode/StorySpark/internal/workspace"
	"github.com/spf13/cobra"
)

func newHealthCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the server is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			defer c.Close()

			h, err := c.Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("server unreachable: %w", err)
			}
			st := newStyles(out(cmd))
			fmt.Fprintf(out(cmd), "%s %s (storage: %s)\n", st.ok.Render("●"), h.Status, h.Storage.Backend)
			return nil
		},
	}
}

func newListCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List story sessions",
		Long:  `List every saved story session, newest first.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withWorkspace(cmd.Context(), func(ws *workspace.Workspace, _ *client.Client) error {
				if err := ws.Fetch(cmd.Context()); err != nil {
					return fmt.Errorf("failed to load sessions: %w", err)
				}
				list := ws.Sessions()
				w := out(cmd)
				if len(list) == 0 {
					fmt.Fprintln(w, "No sessions found.")
					return nil
				}

				st := newStyles(w)
				rows := make([][]string, 0, len(list))
				for _, s := range list {
					rows = append(rows, []string{
						s.ID,
						s.Title,
						story.Slug(s.Title),
						formatMillis(s.UpdatedAt),
						strconv.Itoa(len(s.ChatHistory)),
					})
				}
				fmt.Fprintln(w, st.table([]string{"ID", "Title", "Slug", "Updated", "Chat"}, rows))
				fmt.Fprintf(w, "%s session(s)\n", st.count.Render(strconv.Itoa(len(list))))
				return nil
			})
		},
	}
}

func newShowCommand(opts *options) *cobra.Command {
	var showChat bool

	cmd := &cobra.Command{
		Use:   "show <id-or-slug>",
		Short: "Show a story session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withWorkspace(cmd.Context(), func(ws *workspace.Workspace, _ *client.Client) error {
				s, err := ws.FindBySlug(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				text, err := export.HTMLToText(s.Content)
				if err != nil {
					return fmt.Errorf("failed to render content: %w", err)
				}
				words, err := export.WordCount(s.Content)
				if err != nil {
					return fmt.Errorf("failed to count words: %w", err)
				}

				w := out(cmd)
				st := newStyles(w)
				fmt.Fprintln(w, st.title.Render(s.Title))
				fmt.Fprintf(w, "%s  created %s  updated %s\n",
					st.id.Render(s.ID), st.date.Render(formatMillis(s.CreatedAt)), st.date.Render(formatMillis(s.UpdatedAt)))
				fmt.Fprintf(w, "%s words, %s chat messages, %s illustrations, %s drawings\n",
					st.count.Render(strconv.Itoa(words)),
					st.count.Render(strconv.Itoa(len(s.ChatHistory))),
					st.count.Render(strconv.Itoa(len(s.Images.Illustrations))),
					st.count.Render(strconv.Itoa(len(s.Images.Drawings))),
				)
				if s.Images.CoverImage != "" {
					fmt.Fprintf(w, "Cover: %s\n", s.Images.CoverImage)
				}
				fmt.Fprintln(w)
				fmt.Fprintln(w, text)

				if showChat {
					fmt.Fprintln(w)
					for _, m := range s.ChatHistory {
						fmt.Fprintf(w, "%s: %s\n", st.header.Render(string(m.Role)), m.Content)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&showChat, "chat", false, "Include the chat history")
	return cmd
}

func newNewCommand(opts *options) *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a story session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withWorkspace(cmd.Context(), func(ws *workspace.Workspace, _ *client.Client) error {
				s, err := ws.Create(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to create session: %w", err)
				}
				if strings.TrimSpace(title) != "" {
					if err := ws.Rename(cmd.Context(), s.ID, title); err != nil {
						return fmt.Errorf("failed to set title: %w", err)
					}
					s, _ = ws.Get(s.ID)
				}
				st := newStyles(out(cmd))
				fmt.Fprintf(out(cmd), "Created %s %s\n", st.title.Render(s.Title), st.id.Render(s.ID))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "Title of the new story")
	return cmd
}

func newRenameCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id-or-slug> <title>",
		Short: "Rename a story session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.Join(args[1:], " ")
			return opts.withWorkspace(cmd.Context(), func(ws *workspace.Workspace, _ *client.Client) error {
				s, err := ws.FindBySlug(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := ws.Rename(cmd.Context(), s.ID, title); err != nil {
					return fmt.Errorf("failed to rename session: %w", err)
				}
				fmt.Fprintf(out(cmd), "Renamed %s to %q (%s)\n", s.ID, title, story.Slug(title))
				return nil
			})
		},
	}
}

func newWriteCommand(opts *options) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "write <id-or-slug>",
		Short: "Replace a session's content",
		Long:  `Replace the rich-text content of a session with HTML read from --file, or from stdin.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			return opts.withWorkspace(cmd.Context(), func(ws *workspace.Workspace, _ *client.Client) error {
				s, err := ws.FindBySlug(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := ws.Update(cmd.Context(), story.Patch{ID: s.ID, Content: &content}); err != nil {
					return fmt.Errorf("failed to save content: %w", err)
				}
				fmt.Fprintf(out(cmd), "Saved %d bytes to %s\n", len(content), s.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "HTML file to read (default stdin)")
	return cmd
}

func newDeleteCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id-or-slug>",
		Aliases: []string{"rm"},
		Short:   "Delete a story session and its images",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withWorkspace(cmd.Context(), func(ws *workspace.Workspace, _ *client.Client) error {
				s, err := ws.FindBySlug(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if err := ws.Remove(cmd.Context(), s.ID); err != nil {
					return fmt.Errorf("failed to delete session: %w", err)
				}
				fmt.Fprintf(out(cmd), "Deleted %s\n", s.ID)
				return nil
			})
		},
	}
}

func readInput(cmd *cobra.Command, file string) (string, error) {
	if file != "" && file != "-" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", file, err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}
