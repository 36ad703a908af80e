package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/store"
	"github.com/pedro-nishida/Unity-BodyTrackingToolkit/internal/utils"
)

var showCmd = &cobra.Command{
	Use:         "show <session_id>",
	Short:       "Show a session and every rep it counted",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotationDB: dbRequired},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		id, err := uuid.Parse(args[0])
		if err != nil {
			utils.ShowError("Invalid session ID", err, nil)
			return err
		}
		return runShow(cmd.Context(), id)
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}

func runShow(ctx context.Context, id uuid.UUID) error {
	sess, reps, err := DB.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Printf("❌ No session with ID %s.\n", id)
		return err
	}
	if err != nil {
		utils.ShowError("Failed to load session", err, nil)
		return err
	}

	name := sess.Name
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Printf("Session %s: %s\n", sess.ID, name)
	fmt.Printf("Started %s, ran %s, %d frames\n", sess.StartedAt.Local().Format("2006-01-02 15:04:05"), utils.FmtDuration(sess.Duration()), sess.Frames)
	fmt.Printf("Thresholds: %.1f° / %.1f°\n", sess.MinAngle, sess.MaxAngle)

	if len(reps) == 0 {
		fmt.Println("No reps recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "\nTIME\tARM\tARM COUNT\tTOTAL\tELBOW")
	fmt.Fprintln(w, "----\t---\t---------\t-----\t-----")
	for _, r := range reps {
		offset := utils.FmtDuration(r.At.Sub(sess.StartedAt))
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.1f°\n", offset, r.Arm, r.ArmCount, r.Total, r.ElbowAngle)
	}
	w.Flush()
	return nil
}
