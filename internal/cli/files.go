package cli

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/GriffinCanCode/StorySpark/internal/client"
	"github.com/GriffinCanCode/StorySpark/internal/domain/story"
	"github.com/GriffinCanCode/StorySpark/internal/workspace"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"
)

func newExportCommand(opts *options) *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export <id-or-slug>",
		Short: "Download a session as markdown, text, json, yaml or toml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withWorkspace(cmd.Context(), func(ws *workspace.Workspace, c *client.Client) error {
				s, err := ws.FindBySlug(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fileID, err := ws.FileID(cmd.Context(), s.ID)
				if err != nil {
					return err
				}
				d, err := c.Export(cmd.Context(), fileID, format)
				if err != nil {
					return fmt.Errorf("failed to export session: %w", err)
				}

				if output == "-" {
					_, err = out(cmd).Write(d.Data)
					return err
				}
				if output == "" {
					output = d.FileName
				}
				if err := os.WriteFile(output, d.Data, 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", output, err)
				}
				fmt.Fprintf(out(cmd), "Wrote %s (%d bytes)\n", output, len(d.Data))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "Export format (markdown, text, json, yaml, toml)")
	cmd.Flags().StringVarP(&output, "output", "o", "", `Output file, or "-" for stdout (default: server-suggested name)`)
	return cmd
}

func newUploadImageCommand(opts *options) *cobra.Command {
	var (
		name    string
		cover   string
		drawing string
	)

	cmd := &cobra.Command{
		Use:   "upload-image <path>",
		Short: "Upload an image, optionally attaching it to a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cover != "" && drawing != "" {
				return fmt.Errorf("--cover and --drawing are mutually exclusive")
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}
			mime := mimetype.Detect(data)
			if !strings.HasPrefix(mime.String(), "image/") {
				return fmt.Errorf("%s is %s, not an image", args[0], mime.String())
			}
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}
			uri := "data:" + mime.String() + ";base64," + base64.StdEncoding.EncodeToString(data)

			return opts.withWorkspace(cmd.Context(), func(ws *workspace.Workspace, c *client.Client) error {
				up, err := c.UploadImage(cmd.Context(), uri, name)
				if err != nil {
					return fmt.Errorf("failed to upload image: %w", err)
				}
				fmt.Fprintf(out(cmd), "Uploaded %s\n", up.FileID)

				target := cover + drawing
				if target == "" {
					return nil
				}
				s, err := ws.FindBySlug(cmd.Context(), target)
				if err != nil {
					return err
				}
				images := s.Images
				if cover != "" {
					images.CoverImage = up.FileID
				} else {
					images.Drawings = append(append([]string(nil), images.Drawings...), up.FileID)
				}
				if err := ws.Update(cmd.Context(), story.Patch{ID: s.ID, Images: &images}); err != nil {
					return fmt.Errorf("failed to attach image: %w", err)
				}
				fmt.Fprintf(out(cmd), "Attached to %s\n", s.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Blob name or prefix (default: file name)")
	cmd.Flags().StringVar(&cover, "cover", "", "Set as the cover image of this session")
	cmd.Flags().StringVar(&drawing, "drawing", "", "Add to the drawings of this session")
	return cmd
}
