package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"bundle-packager/client"
	"bundle-packager/controller/handler"
	"bundle-packager/controller/respond"
	"bundle-packager/model"
)

var (
	appName    string
	appVersion string
	platforms  []string
	options    map[string]string
	wait       bool
	outDir     string

	packageCmd = &cobra.Command{
		Use:   "package [bundle.zip]",
		Short: "Upload a bundle and package it for the given platforms",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			out := cmd.OutOrStdout()
			c := newClient()
			up, err := upload(ctx, cmd.ErrOrStderr(), c, args[0])
			if err != nil {
				return err
			}

			request := &handler.PackageRequest{
				SessionId:  up.SessionId,
				AppName:    appName,
				AppVersion: appVersion,
				Options:    options,
			}
			for _, p := range platforms {
				request.Platforms = append(request.Platforms, model.Platform(strings.ToLower(p)))
			}
			submitted, err := c.Package(ctx, request)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "Job %s %s\n", submitted.JobId, submitted.Status)
			if !wait {
				return nil
			}

			last := -1
			job, err := c.WaitJob(ctx, submitted.JobId, time.Second, func(j *respond.JobResponse) {
				if j.Progress != last {
					last = j.Progress
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "[%3d%%] %s\n", j.Progress, j.Message)
				}
			})
			if err != nil {
				return err
			}
			printJob(out, job)
			if outDir != "" {
				return downloadAll(ctx, out, c, job)
			}
			return nil
		},
	}

	statusCmd = &cobra.Command{
		Use:   "status [job-id]",
		Short: "Print a job with its per-platform results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			job, err := newClient().GetJob(ctx, args[0])
			if err != nil {
				return err
			}
			printJob(cmd.OutOrStdout(), job)
			return nil
		},
	}

	cancelCmd = &cobra.Command{
		Use:   "cancel [job-id]",
		Short: "Cancel active tasks of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			platform, _ := cmd.Flags().GetString("platform")
			cancelled, err := newClient().CancelJob(ctx, args[0], model.Platform(platform))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cancelled: %v\n", cancelled)
			return nil
		},
	}

	retryCmd = &cobra.Command{
		Use:   "retry [job-id]",
		Short: "Start a fresh attempt for one platform",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			platform, _ := cmd.Flags().GetString("platform")
			res, err := newClient().RetryJob(ctx, args[0], model.Platform(platform))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Retry of %s started, attempt %d\n", platform, res.Attempt)
			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	packageCmd.Flags().StringVar(&appName, "app", "", "application name")
	packageCmd.Flags().StringVar(&appVersion, "version", "1.0.0", "application version")
	packageCmd.Flags().StringSliceVarP(&platforms, "platforms", "p", nil, "target platforms: windows,macos,linux,android,pwa")
	packageCmd.Flags().StringToStringVar(&options, "option", nil, "packager option key=value, repeatable")
	packageCmd.Flags().BoolVar(&wait, "wait", false, "poll until the job finishes")
	packageCmd.Flags().StringVarP(&outDir, "out", "o", "", "download artifacts here when --wait is set")
	_ = packageCmd.MarkFlagRequired("app")
	_ = packageCmd.MarkFlagRequired("platforms")

	cancelCmd.Flags().String("platform", "", "only this platform")
	retryCmd.Flags().String("platform", "", "platform to retry")
	_ = retryCmd.MarkFlagRequired("platform")
}

func printJob(w io.Writer, job *respond.JobResponse) {
	_, _ = fmt.Fprintf(w, "Job %s: %s (%d%%) %s\n", job.JobId, job.Status, job.Progress, job.Message)
	keys := make([]string, 0, len(job.Results))
	for p := range job.Results {
		keys = append(keys, string(p))
	}
	sort.Strings(keys)
	for _, k := range keys {
		r := job.Results[model.Platform(k)]
		line := fmt.Sprintf("  %-8s %-10s attempt %d", k, r.Status, r.Attempt)
		if r.Outcome != "" {
			line += " " + string(r.Outcome)
		}
		if r.ArtifactName != "" {
			line += " " + r.ArtifactName
		}
		if r.Error != nil {
			line += " error: " + r.Error.Message
		}
		_, _ = fmt.Fprintln(w, line)
	}
}

func downloadAll(ctx context.Context, out io.Writer, c *client.Client, job *respond.JobResponse) error {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	for p, r := range job.Results {
		if r.Status != model.TaskStatusCompleted || r.ArtifactName == "" {
			continue
		}
		dst := filepath.Join(outDir, filepath.Base(r.ArtifactName))
		if err := c.DownloadArtifact(ctx, job.JobId, p, dst); err != nil {
			return fmt.Errorf("failed to download %s artifact: %w", p, err)
		}
		_, _ = fmt.Fprintf(out, "Saved %s\n", dst)
	}
	return nil
}
