package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"fundx/internal/trigger"
)

func addTriggerCommands(rootCmd *cobra.Command, app *App) {
	triggerCmd := &cobra.Command{
		Use:   "trigger",
		Short: "Evaluate special session triggers",
	}
	triggerCmd.AddCommand(newTriggerCheckCmd(app))
	rootCmd.AddCommand(triggerCmd)
}

// upcoming returns the dates within days of from, inclusive of from, on
// which t fires.
func upcoming(t trigger.Trigger, from time.Time, days int) []time.Time {
	var out []time.Time
	if !t.Recognized() {
		return out
	}
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	for i := 0; i < days; i++ {
		d := start.AddDate(0, 0, i)
		if t.Matches(d) {
			out = append(out, d)
		}
	}
	return out
}

func newTriggerCheckCmd(app *App) *cobra.Command {
	var (
		date string
		days int
		fund string
	)

	cmd := &cobra.Command{
		Use:   "check [text]",
		Short: "Show whether a trigger fires on a date",
		Long: `Parse trigger text and evaluate it against a date.

With --fund, every special session of that fund is evaluated instead.
With --days, the matching dates in the following window are listed.`,
		Example: `  fundx trigger check "Monthly options expiration (OpEx)" --date 2026-02-20
  fundx trigger check "every monday" --days 14
  fundx trigger check --fund growth`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			loc := app.Config.Location()
			on := time.Now().In(loc)
			if date != "" {
				var err error
				on, err = time.ParseInLocation("2006-01-02", date, loc)
				if err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
			}

			var texts []string
			switch {
			case fund != "":
				f, err := app.Docs.LoadFund(fund)
				if err != nil {
					return err
				}
				for _, s := range f.Schedule.SpecialSessions {
					texts = append(texts, s.Trigger)
				}
			case len(args) == 1:
				texts = args
			default:
				return fmt.Errorf("give trigger text or --fund")
			}

			type result struct {
				Text     string   `json:"text"`
				Rule     string   `json:"rule"`
				Date     string   `json:"date"`
				Fires    bool     `json:"fires"`
				Upcoming []string `json:"upcoming,omitempty"`
			}
			results := make([]result, 0, len(texts))
			for _, text := range texts {
				t := trigger.Parse(text)
				r := result{
					Text:  text,
					Rule:  t.Kind.String(),
					Date:  on.Format("2006-01-02"),
					Fires: t.Matches(on),
				}
				if days > 0 {
					for _, d := range upcoming(t, on, days) {
						r.Upcoming = append(r.Upcoming, d.Format("2006-01-02 Mon"))
					}
				}
				results = append(results, r)
			}

			if output.IsJSON() {
				return output.JSON(results)
			}
			for _, r := range results {
				output.Bold("%s", r.Text)
				output.Printf("  Rule:  %s\n", r.Rule)
				if r.Rule == trigger.KindNone.String() {
					output.Warning("  Unrecognized trigger, never fires")
					continue
				}
				if r.Fires {
					output.Printf("  %s:  %s\n", r.Date, output.Green("fires"))
				} else {
					output.Printf("  %s:  %s\n", r.Date, output.DimText("does not fire"))
				}
				if days > 0 {
					output.Printf("  Next %d days: %d match(es)\n", days, len(r.Upcoming))
					for _, d := range r.Upcoming {
						output.Printf("    %s\n", d)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "date to evaluate, YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&days, "days", 0, "also list matching dates in the next N days")
	cmd.Flags().StringVar(&fund, "fund", "", "evaluate the special sessions of a fund")
	return cmd
}
