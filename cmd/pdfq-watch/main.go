package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/simonraj1/pdf/constants"
	"github.com/simonraj1/pdf/internal/watch"
)

func main() {
	var (
		server   = flag.String("server", "http://localhost:5000", "base URL of pdfq-server")
		jobID    = flag.String("job", "", "job id to follow (prompted when empty)")
		interval = flag.Duration("interval", time.Second, "poll interval")
	)
	flag.Parse()

	m := watch.NewModel(watch.NewHTTPFetcher(*server), *jobID, *interval)
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fm, ok := final.(watch.Model)
	if !ok {
		os.Exit(1)
	}
	rec, ok := fm.Result()
	if !ok {
		os.Exit(1)
	}
	switch rec.Status {
	case constants.JobStatusCompleted:
		fmt.Printf("%s: %d questions, %s/download/%s\n", rec.ID, rec.QuestionsExtracted, *server, rec.OutputFile)
	case constants.JobStatusFailed:
		fmt.Printf("%s: %s\n", rec.ID, rec.Message)
		os.Exit(1)
	default:
		fmt.Printf("%s: %s (%.0f%%)\n", rec.ID, rec.Status, rec.Progress)
	}
}
