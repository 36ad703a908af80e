package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/utils"
)

var sessionsCmd = &cobra.Command{
	Use:         "sessions",
	Short:       "List all recorded listen sessions",
	Annotations: map[string]string{annotationDB: dbRequired},
	Run: func(cmd *cobra.Command, args []string) {
		runSessions(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(ctx context.Context) {
	sessions, err := DB.ListSessions(ctx)
	if err != nil {
		utils.Die("Failed to list sessions", err, nil)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found in database.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTARTED\tDURATION\tFRAMES\tREPS")
	fmt.Fprintln(w, "--\t----\t-------\t--------\t------\t----")

	for _, s := range sessions {
		name := s.Name
		if name == "" {
			name = "-"
		}
		duration := utils.FmtDuration(s.Duration())
		if s.EndedAt == nil {
			duration += " (open)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n", s.ID, name, s.StartedAt.Local().Format("2006-01-02 15:04"), duration, s.Frames, s.Reps)
	}
	w.Flush()
}
