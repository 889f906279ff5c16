package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/baxromumarov/estate-hunter/internal/app"
	"github.com/baxromumarov/estate-hunter/internal/httpx"
)

func newFetchCmd() *cobra.Command {
	var (
		useBrowser bool
		selector   string
	)
	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Retrieve one page with the pipeline's fetch settings and print the markup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			var r httpx.Retriever = app.NewFetcher(cfg)
			if useBrowser {
				r = app.NewBrowser(cfg, slog.Default())
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return retrieveTo(ctx, r, args[0], httpx.Wait{Selector: selector}, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVar(&useBrowser, "browser", false, "render the page in the headless browser")
	cmd.Flags().StringVar(&selector, "wait", "", "CSS selector the browser waits for before reading the page")
	return cmd
}

func retrieveTo(ctx context.Context, r httpx.Retriever, rawURL string, wait httpx.Wait, out, status io.Writer) error {
	content, code, err := r.Retrieve(ctx, rawURL, wait)
	if err != nil {
		return fmt.Errorf("retrieve %s: %w", rawURL, err)
	}
	fmt.Fprintf(status, "status %d, %d bytes\n", code, len(content))
	_, err = out.Write(content)
	return err
}
