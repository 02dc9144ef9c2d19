package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"voxscribe/internal/client"
	"voxscribe/internal/view"
)

func main() {
	_ = godotenv.Load()
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type globalOptions struct {
	server  string
	apiKey  string
	timeout time.Duration
}

func rootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:          "voxscribe",
		Short:        "Transcribe audio through a voxscribe server",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.server, "server", envOr("VOXSCRIBE_SERVER", "http://localhost:5000"), "server base URL")
	cmd.PersistentFlags().StringVar(&opts.apiKey, "api-key", os.Getenv("VOXSCRIBE_API_KEY"), "OpenAI key sent as a bearer token (optional)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Minute, "overall request timeout")

	cmd.AddCommand(transcribeCmd(opts), jobCmd(opts))
	return cmd
}

func transcribeCmd(opts *globalOptions) *cobra.Command {
	var (
		req      client.Request
		copyWhat string
	)
	cmd := &cobra.Command{
		Use:   "transcribe <file>",
		Short: "Upload an audio file and print the transcription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if copyWhat != "" && copyWhat != "raw" && copyWhat != "post" {
				return fmt.Errorf("--copy must be raw or post, got %q", copyWhat)
			}
			req.FilePath = args[0]

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			out := cmd.OutOrStdout()
			var panel view.Panel
			panel.Reset()
			renderPanel(cmd.ErrOrStderr(), panel)

			c := client.New(opts.server, opts.apiKey, &http.Client{})
			resp, err := c.Submit(ctx, req)
			if err != nil {
				panel.ApplyNetworkError(err)
			} else {
				panel.ApplyResponse(resp.StatusCode, resp.Body)
			}
			panel.Finish()
			renderPanel(out, panel)

			if !panel.ResultsVisible {
				return errors.New("transcription failed")
			}
			if copyWhat == "" {
				return nil
			}

			text := panel.Transcription
			if copyWhat == "post" {
				text = panel.PostProcessed
			}
			copier := view.Copier{
				Clipboard: view.SystemClipboard(),
				Notify: func(msg string) {
					fmt.Fprintln(cmd.ErrOrStderr(), styleMuted.Render(msg))
				},
			}
			return copier.Copy(text)
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.Prompt, "prompt", "", "context prompt for the transcription model")
	f.StringVar(&req.Dictionary, "dictionary", "", "comma-separated terms that must be spelled correctly")
	f.BoolVar(&req.PostProcess, "post-process", false, "refine the transcription with a chat model")
	f.StringVar(&req.PostProcessPrompt, "post-process-prompt", "", "custom system prompt for post-processing")
	f.BoolVar(&req.RequestDiarization, "diarize", false, "submit a speaker diarization job")
	f.StringVar(&req.TranscriptionModel, "transcription-model", "", "override the server's transcription model")
	f.StringVar(&req.PostProcessModel, "post-process-model", "", "override the server's post-processing model")
	f.StringVar(&copyWhat, "copy", "", "copy the result to the clipboard: raw or post")
	return cmd
}

func jobCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "job <id>",
		Short: "Show a diarization job recorded by the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			job, err := client.New(opts.server, opts.apiKey, &http.Client{}).Job(ctx, args[0])
			if err != nil {
				return fmt.Errorf("fetch job: %w", err)
			}
			renderJob(cmd.OutOrStdout(), job)
			return nil
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
