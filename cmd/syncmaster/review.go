package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/justestif/syncmaster/internal/dashboard"
	"github.com/justestif/syncmaster/internal/logging"
	"github.com/justestif/syncmaster/internal/matching"
	"github.com/justestif/syncmaster/internal/models"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review the applications received for your briefs",
	Long: `List received applications with their tracks. Subcommands move an
application out of pending, rank the submissions to a brief, or group every
submitted track by its tags.`,
	RunE: runReview,
}

var reviewStatusCmd = &cobra.Command{
	Use:       "status <application-id> <shortlisted|rejected|accepted>",
	Short:     "Set the status of a pending application",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{string(models.StatusShortlisted), string(models.StatusRejected), string(models.StatusAccepted)},
	RunE:      runReviewStatus,
}

var reviewRankCmd = &cobra.Command{
	Use:   "rank <brief-id>",
	Short: "Rank the tracks submitted to a brief by fit",
	Args:  cobra.ExactArgs(1),
	RunE:  runReviewRank,
}

var reviewGroupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Group submitted tracks by tags",
	RunE:  runReviewGroups,
}

func init() {
	reviewCmd.Flags().String("brief", "", "only applications for this brief")
	reviewGroupsCmd.Flags().IntP("groups", "k", matching.DefaultGroupConfig().NumGroups, "number of groups")
	reviewGroupsCmd.Flags().Int("min-size", matching.DefaultGroupConfig().MinGroupSize, "smallest group kept")

	reviewCmd.AddCommand(reviewStatusCmd, reviewRankCmd, reviewGroupsCmd)
	rootCmd.AddCommand(reviewCmd)
}

// withSupervisor mounts the supervisor dashboard for the signed-in user.
func withSupervisor(fn func(ctx context.Context, d *dashboard.Supervisor) error) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	session, err := a.session(ctx)
	if err != nil {
		return err
	}
	if session.User.Metadata.Role != models.RoleSupervisor {
		return fmt.Errorf("%s is not a supervisor account", session.User.Email)
	}

	d := dashboard.NewSupervisor(a.gw.ForSession(session), session.User.ID,
		dashboard.WithLogger(logging.Component(a.log, "dashboard")))
	defer d.Close()
	if err := d.Mount(ctx); err != nil {
		a.log.Warn().Err(err).Msg("some data could not be loaded")
	}
	return fn(ctx, d)
}

func runReview(cmd *cobra.Command, args []string) error {
	briefID, _ := cmd.Flags().GetString("brief")
	return withSupervisor(func(ctx context.Context, d *dashboard.Supervisor) error {
		subs := d.Submissions(ctx, briefID)
		if len(subs) == 0 {
			fmt.Println("No applications received.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSUBMITTED\tBRIEF\tTRACK\tARTIST\tSTATUS")
		for _, s := range subs {
			title, artist := "(unavailable)", ""
			if s.Track != nil {
				title, artist = s.Track.Title, s.Track.ArtistName
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.SubmittedDate, s.BriefTitle, title, artist, s.Status)
		}
		return w.Flush()
	})
}

func runReviewStatus(cmd *cobra.Command, args []string) error {
	return withSupervisor(func(ctx context.Context, d *dashboard.Supervisor) error {
		if err := d.SetStatus(ctx, args[0], models.Status(args[1])); err != nil {
			return err
		}
		fmt.Printf("Application %s is now %s\n", args[0], args[1])
		return nil
	})
}

func runReviewRank(cmd *cobra.Command, args []string) error {
	return withSupervisor(func(ctx context.Context, d *dashboard.Supervisor) error {
		matches, err := d.RankSubmissions(ctx, args[0])
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SCORE\tTRACK\tARTIST\tSHARED")
		for _, m := range matches {
			fmt.Fprintf(w, "%3.0f%%\t%s\t%s\t%s\n", m.Score*100, m.Track.Title, m.Track.ArtistName, strings.Join(m.Shared, ", "))
		}
		return w.Flush()
	})
}

func runReviewGroups(cmd *cobra.Command, args []string) error {
	cfg := matching.DefaultGroupConfig()
	cfg.NumGroups, _ = cmd.Flags().GetInt("groups")
	cfg.MinGroupSize, _ = cmd.Flags().GetInt("min-size")

	return withSupervisor(func(ctx context.Context, d *dashboard.Supervisor) error {
		groups, ungrouped := d.GroupSubmissions(ctx, cfg)
		for _, g := range groups {
			fmt.Println(g.Name)
			for _, t := range g.Tracks {
				fmt.Printf("  %s - %s\n", t.Title, t.ArtistName)
			}
		}
		if len(ungrouped) > 0 {
			fmt.Printf("Ungrouped (%d)\n", len(ungrouped))
			for _, t := range ungrouped {
				fmt.Printf("  %s - %s\n", t.Title, t.ArtistName)
			}
		}
		return nil
	})
}
