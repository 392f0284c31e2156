package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"talkpip/render"
	"talkpip/report"
	"talkpip/timeline"

	"github.com/spf13/cobra"
)

func newTimelineCommand() *cobra.Command {
	var (
		duration float64
		fps      float64
		tieBreak string
	)
	cmd := &cobra.Command{
		Use:   "timeline <events.json | ->",
		Short: "Build a slide timeline from events and show its frame schedule",
		Long: `Reads a JSON array of {"timestamp": seconds, "image": path} events and
prints the resulting intervals with the number of frames each receives at
the given frame rate. Nothing is rendered.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}

			var events []timeline.Event
			if err := json.NewDecoder(r).Decode(&events); err != nil {
				return fmt.Errorf("decode events: %w", err)
			}
			tb, err := timeline.ParseTieBreak(tieBreak)
			if err != nil {
				return err
			}
			tl, err := timeline.Build(events, duration, timeline.Options{TieBreak: tb})
			if err != nil {
				return err
			}
			sched, err := render.Schedule(tl, fps)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.TimelineTable(tl, sched))
			return nil
		},
	}
	cmd.Flags().Float64VarP(&duration, "duration", "d", 0, "Video duration in seconds")
	cmd.Flags().Float64Var(&fps, "fps", 30, "Frame rate of the slide video")
	cmd.Flags().StringVar(&tieBreak, "tie-break", "last", "Which of several events at one timestamp wins: last or first")
	_ = cmd.MarkFlagRequired("duration")
	return cmd
}
