package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"bundle-packager/client"
)

var (
	chunkSize int64
	workers   int

	uploadCmd = &cobra.Command{
		Use:   "upload [bundle.zip]",
		Short: "Upload a bundle through a resumable session and print the session id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			res, err := upload(ctx, cmd.ErrOrStderr(), newClient(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), res.SessionId)
			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	for _, c := range []*cobra.Command{uploadCmd, packageCmd} {
		c.Flags().Int64Var(&chunkSize, "chunk-size", 0, "chunk size in bytes, 0 uses the server default")
		c.Flags().IntVarP(&workers, "workers", "w", 6, "parallel chunk uploads")
	}
}

// upload runs UploadFile with a byte progress bar on out
func upload(ctx context.Context, out io.Writer, c *client.Client, path string) (*client.UploadResult, error) {
	var bar *progressbar.ProgressBar
	res, err := c.UploadFile(ctx, path, client.UploadOptions{
		ChunkSize: chunkSize,
		Workers:   workers,
		OnStart: func(total, received int64) {
			bar = progressbar.NewOptions64(
				total,
				progressbar.OptionSetWriter(out),
				progressbar.OptionSetDescription("Uploading"),
				progressbar.OptionSetWidth(50),
				progressbar.OptionShowBytes(true),
				progressbar.OptionThrottle(100*time.Millisecond),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionSetRenderBlankState(true),
				progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(out) }),
			)
			_ = bar.Add64(received)
		},
		OnChunk: func(n int64) {
			_ = bar.Add64(n)
		},
	})
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		return nil, err
	}
	if res.AlreadyComplete {
		_, _ = fmt.Fprintf(out, "Bundle %s already stored, nothing uploaded\n", res.FileHash[:12])
	}
	return res, nil
}
