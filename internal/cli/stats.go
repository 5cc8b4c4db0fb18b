package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/portalchat/internal/stats"
)

func newStatsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the portal counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			snapshot, err := stats.NewAggregator(st, a.logger).Snapshot(cmd.Context())
			if err != nil {
				return fmt.Errorf("read statistics: %w", err)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, headerStyle.Render("Portal statistics"))
			_, _ = fmt.Fprintln(out)

			t := newTable(out, "Counter", "Value")
			for _, row := range []struct {
				name  stats.Counter
				value int64
			}{
				{stats.TotalAccesses, snapshot.TotalAccesses},
				{stats.ActiveUsers, snapshot.ActiveUsers},
				{stats.ChatMessages, snapshot.ChatMessages},
				{stats.ChatbotQueries, snapshot.ChatbotQueries},
			} {
				t.row(string(row.name), countStyle.Render(strconv.FormatInt(row.value, 10)))
			}
			return t.flush()
		},
	}
}
