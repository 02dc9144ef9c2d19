package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"voxscribe/internal/model"
	"voxscribe/internal/view"
)

var (
	colorSuccess = lipgloss.Color("#22C55E")
	colorError   = lipgloss.Color("#EF4444")
	colorWarning = lipgloss.Color("#F59E0B")
	colorMuted   = lipgloss.Color("#94A3B8")
	colorAccent  = lipgloss.Color("#7C3AED")
)

var (
	styleHeader = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	styleLabel  = lipgloss.NewStyle().Bold(true)
	styleMuted  = lipgloss.NewStyle().Foreground(colorMuted)
	styleBox    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(0, 1)
)

func statusStyle(c view.Color) lipgloss.Style {
	switch c {
	case view.ColorGreen:
		return lipgloss.NewStyle().Foreground(colorSuccess)
	case view.ColorRed:
		return lipgloss.NewStyle().Foreground(colorError).Bold(true)
	case view.ColorOrange:
		return lipgloss.NewStyle().Foreground(colorWarning)
	default:
		return lipgloss.NewStyle()
	}
}

// renderPanel prints the sections the upload page would show for p.
func renderPanel(w io.Writer, p view.Panel) {
	fmt.Fprintln(w, statusStyle(p.StatusColor).Render(p.Status))
	if !p.ResultsVisible {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, styleHeader.Render("Transcription"))
	fmt.Fprintln(w, styleBox.Render(p.Transcription))

	if p.ProcessingInfoVisible {
		fmt.Fprintf(w, "%s %s s   %s %s\n",
			styleLabel.Render("Time taken:"), p.TimeTaken,
			styleLabel.Render("Chunks:"), p.ChunkCount)
	}

	if p.PostProcessedVisible {
		fmt.Fprintln(w)
		fmt.Fprintln(w, styleHeader.Render("Post-processed"))
		fmt.Fprintln(w, styleBox.Render(p.PostProcessed))
	}

	if p.PyannoteVisible {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s %s\n", styleLabel.Render("Diarization status:"), p.PyannoteStatus)
		fmt.Fprintf(w, "%s %s\n", styleLabel.Render("Diarization job:"), p.PyannoteJobID)
	}
}

func renderJob(w io.Writer, job model.DiarizationJobResponse) {
	fmt.Fprintf(w, "%s %s\n", styleLabel.Render("Job:"), job.JobID)
	fmt.Fprintf(w, "%s %s\n", styleLabel.Render("Status:"), job.Status)
	if !job.UpdatedAt.IsZero() {
		fmt.Fprintln(w, styleMuted.Render("updated "+job.UpdatedAt.Local().Format("2006-01-02 15:04:05")))
	}
	if len(job.Output) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, styleHeader.Render("Output"))
		fmt.Fprintln(w, strings.TrimSpace(string(job.Output)))
	}
}
