package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/justestif/syncmaster/internal/matching"
	"github.com/justestif/syncmaster/internal/models"
)

var researchCmd = &cobra.Command{
	Use:   "research <film, show, game or ad>",
	Short: "Find the music placed in a production",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runResearch,
}

var directoryCmd = &cobra.Command{
	Use:   "directory",
	Short: "List agencies, supervisors and libraries",
	RunE:  runDirectory,
}

func init() {
	directoryCmd.Flags().StringP("search", "s", "", "search text")
	directoryCmd.Flags().String("type", "", "entry type (Agency, Supervisor, Library)")
	rootCmd.AddCommand(researchCmd, directoryCmd)
}

func runResearch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	client, err := a.researcher()
	if err != nil {
		return fmt.Errorf("research unavailable: %w", err)
	}
	res, err := client.Research(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}

	fmt.Printf("%s (%s, %s)\n\n", res.Subject, res.Type, res.Year)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TITLE\tARTIST\tGENRE\tBPM\tSCENE")
	for _, p := range res.Results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.Title, p.Artist, p.Genre, p.BPM, p.Timestamp)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if len(res.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, s := range res.Sources {
			fmt.Printf("  %s %s\n", s.Title, s.URI)
		}
	}
	return nil
}

func runDirectory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	search, _ := cmd.Flags().GetString("search")
	kind, _ := cmd.Flags().GetString("type")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.gw.Directory(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tLOCATION\tCONTACT\tPOLICY")
	for _, e := range entries {
		if kind != "" && !strings.EqualFold(string(e.Type), kind) {
			continue
		}
		if search != "" && !matchesEntry(e, search) {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Name, e.Type, e.Location, e.ContactEmail, e.SubmissionPolicy)
	}
	return w.Flush()
}

func matchesEntry(e models.Agency, q string) bool {
	for _, f := range append([]string{e.Name, e.Location, e.Description}, e.Credits...) {
		if matching.Contains(f, q) {
			return true
		}
	}
	return false
}
