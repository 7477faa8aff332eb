package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/justestif/syncmaster/internal/dashboard"
	"github.com/justestif/syncmaster/internal/logging"
	"github.com/justestif/syncmaster/internal/models"
	"github.com/justestif/syncmaster/internal/upload"
)

var briefsCmd = &cobra.Command{
	Use:   "briefs",
	Short: "List open briefs",
	Long: `List the open sync briefs. --search matches title, client, genre,
description and tags; each --tag must be present on the brief.`,
	RunE: runBriefs,
}

var tracksCmd = &cobra.Command{
	Use:   "tracks",
	Short: "List the tracks in your library",
	RunE:  runTracks,
}

var applicationsCmd = &cobra.Command{
	Use:   "applications",
	Short: "List your applications and their status",
	RunE:  runApplications,
}

var applyCmd = &cobra.Command{
	Use:   "apply <brief-id> <track-id>",
	Short: "Pitch a library track to a brief",
	Args:  cobra.ExactArgs(2),
	RunE:  runApply,
}

var suggestCmd = &cobra.Command{
	Use:   "suggest <brief-id>",
	Short: "Rank your library against a brief",
	Args:  cobra.ExactArgs(1),
	RunE:  runSuggest,
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a track, optionally pitching it to a brief",
	Long: `Upload an audio file to your library. Title, artist and genre default to
the file's tags when the flags are omitted. With --brief the new track is also
pitched to that brief.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or edit your profile",
	RunE:  runProfile,
}

func init() {
	for _, c := range []*cobra.Command{briefsCmd, tracksCmd} {
		c.Flags().StringP("search", "s", "", "search text")
		c.Flags().StringSliceP("tag", "t", nil, "required tag (repeatable)")
	}

	uploadCmd.Flags().String("title", "", "track title")
	uploadCmd.Flags().String("artist", "", "artist name")
	uploadCmd.Flags().String("genre", "", "genre")
	uploadCmd.Flags().Int("bpm", 0, "tempo in beats per minute")
	uploadCmd.Flags().String("tags", "", "comma-separated tags")
	uploadCmd.Flags().String("description", "", "description")
	uploadCmd.Flags().String("brief", "", "brief to pitch the track to")

	profileCmd.Flags().String("name", "", "display name")
	profileCmd.Flags().String("spotify", "", "Spotify artist link")
	profileCmd.Flags().String("instagram", "", "Instagram link")
	profileCmd.Flags().String("website", "", "website")
	profileCmd.Flags().String("avatar", "", "avatar image file")

	rootCmd.AddCommand(briefsCmd, tracksCmd, applicationsCmd, applyCmd, suggestCmd, uploadCmd, profileCmd)
}

// withArtist mounts the artist dashboard for the signed-in user and runs fn.
func withArtist(fn func(ctx context.Context, a *app, d *dashboard.Artist) error, opts ...dashboard.Option) error {
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
	if session.User.Metadata.Role == models.RoleSupervisor {
		return fmt.Errorf("%s is a supervisor account; use the review command", session.User.Email)
	}

	opts = append([]dashboard.Option{dashboard.WithLogger(logging.Component(a.log, "dashboard"))}, opts...)
	if lookup := a.lookup(ctx); lookup != nil {
		opts = append(opts, dashboard.WithArtistLookup(lookup))
	}

	d := dashboard.NewArtist(a.gw.ForSession(session), session.User.ID, opts...)
	defer d.Close()
	if err := d.Mount(ctx); err != nil {
		a.log.Warn().Err(err).Msg("some data could not be loaded")
	}
	return fn(ctx, a, d)
}

func applyFilterFlags(cmd *cobra.Command, d *dashboard.Artist) {
	search, _ := cmd.Flags().GetString("search")
	tags, _ := cmd.Flags().GetStringSlice("tag")
	d.SetSearch(search)
	for _, t := range tags {
		d.ToggleTag(t)
	}
}

func runBriefs(cmd *cobra.Command, args []string) error {
	return withArtist(func(ctx context.Context, a *app, d *dashboard.Artist) error {
		applyFilterFlags(cmd, d)
		briefs := d.FilteredBriefs()
		if len(briefs) == 0 {
			fmt.Println("No briefs match.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tCLIENT\tGENRE\tBUDGET\tDEADLINE\tAPPLIED")
		for _, b := range briefs {
			applied := ""
			if d.HasApplied(b.ID) {
				applied = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", b.ID, b.Title, b.ClientName, b.Genre, b.Budget, b.Deadline, applied)
		}
		return w.Flush()
	})
}

func runTracks(cmd *cobra.Command, args []string) error {
	return withArtist(func(ctx context.Context, a *app, d *dashboard.Artist) error {
		applyFilterFlags(cmd, d)
		tracks := d.FilteredTracks()
		if len(tracks) == 0 {
			fmt.Println("No tracks match.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tARTIST\tGENRE\tBPM\tLENGTH\tTAGS")
		for _, t := range tracks {
			bpm := "-"
			if t.BPM != nil {
				bpm = fmt.Sprint(*t.BPM)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", t.ID, t.Title, t.ArtistName, t.Genre, bpm, t.Duration, strings.Join(t.Tags, ", "))
		}
		return w.Flush()
	})
}

func runApplications(cmd *cobra.Command, args []string) error {
	return withArtist(func(ctx context.Context, a *app, d *dashboard.Artist) error {
		rows := d.ApplicationRows()
		if len(rows) == 0 {
			fmt.Println("No applications yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SUBMITTED\tBRIEF\tCLIENT\tTRACK\tSTATUS")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.SubmittedDate, r.BriefTitle, r.ClientName, r.TrackTitle, r.Status)
		}
		return w.Flush()
	})
}

func runApply(cmd *cobra.Command, args []string) error {
	return withArtist(func(ctx context.Context, a *app, d *dashboard.Artist) error {
		application, err := d.Apply(ctx, args[0], args[1])
		if err != nil {
			return fmt.Errorf("applying: %w", err)
		}
		fmt.Printf("Application %s submitted (%s)\n", application.ID, application.Status)
		return nil
	})
}

func runSuggest(cmd *cobra.Command, args []string) error {
	return withArtist(func(ctx context.Context, a *app, d *dashboard.Artist) error {
		matches, err := d.Suggestions(args[0])
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SCORE\tTRACK\tSHARED")
		for _, m := range matches {
			fmt.Fprintf(w, "%3.0f%%\t%s\t%s\n", m.Score*100, m.Track.Title, strings.Join(m.Shared, ", "))
		}
		return w.Flush()
	})
}

func runUpload(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening track: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("reading track: %w", err)
	}

	meta := upload.Metadata{}
	meta.Title, _ = cmd.Flags().GetString("title")
	meta.Artist, _ = cmd.Flags().GetString("artist")
	meta.Genre, _ = cmd.Flags().GetString("genre")
	meta.Description, _ = cmd.Flags().GetString("description")
	if tags, _ := cmd.Flags().GetString("tags"); tags != "" {
		meta.Tags = models.ParseTags(tags)
	}
	if bpm, _ := cmd.Flags().GetInt("bpm"); bpm != 0 {
		meta.BPM = &bpm
	}
	briefID, _ := cmd.Flags().GetString("brief")

	file := models.File{
		Name:        filepath.Base(args[0]),
		ContentType: contentType(args[0]),
		Size:        info.Size(),
		Body:        f,
	}

	bar := progressbar.NewOptions64(info.Size(),
		progressbar.OptionSetDescription("Uploading"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetWriter(os.Stderr),
	)
	onProgress := dashboard.WithUploadProgress(func(p upload.Progress) {
		if p.Phase == upload.PhaseUploading {
			_ = bar.Set64(p.Sent)
		}
	})

	return withArtist(func(ctx context.Context, a *app, d *dashboard.Artist) error {
		var track *models.Track
		var application *models.Application
		var err error
		if briefID != "" {
			track, application, err = d.ApplyWithUpload(ctx, file, meta, briefID)
		} else {
			track, err = d.UploadTrack(ctx, file, meta)
		}
		_ = bar.Finish()
		if track != nil {
			fmt.Printf("Uploaded %q by %s (%s) as %s\n", track.Title, track.ArtistName, humanize.Bytes(uint64(info.Size())), track.ID)
		}
		if err != nil {
			return err
		}
		if application != nil {
			fmt.Printf("Pitched to %s: application %s\n", briefID, application.ID)
		}
		return nil
	}, onProgress)
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	case ".m4a", ".aac":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

func runProfile(cmd *cobra.Command, args []string) error {
	return withArtist(func(ctx context.Context, a *app, d *dashboard.Artist) error {
		current := d.Profile()
		if current == nil {
			return fmt.Errorf("profile could not be loaded: %v", d.LoadErrors())
		}

		var patch models.ProfilePatch
		changed := false
		if name, _ := cmd.Flags().GetString("name"); name != "" {
			patch.Name = &name
			changed = true
		}
		socials := current.Socials
		for flag, field := range map[string]*string{
			"spotify":   &socials.Spotify,
			"instagram": &socials.Instagram,
			"website":   &socials.Website,
		} {
			if val, _ := cmd.Flags().GetString(flag); val != "" {
				*field = val
				changed = true
			}
		}
		if socials != current.Socials {
			patch.Socials = &socials
		}

		var avatar *models.File
		if path, _ := cmd.Flags().GetString("avatar"); path != "" {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("opening avatar: %w", err)
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("reading avatar: %w", err)
			}
			avatar = &models.File{Name: filepath.Base(path), ContentType: contentType(path), Size: info.Size(), Body: f}
			changed = true
		}

		if changed {
			res, err := d.SaveProfile(ctx, patch, avatar)
			if err != nil {
				return err
			}
			if res.Spotify != nil {
				fmt.Printf("Spotify: %s, %s followers\n", res.Spotify.Name, humanize.Comma(int64(res.Spotify.Followers)))
			}
			if len(res.SuggestedGenres) > 0 {
				fmt.Println("Suggested genres:", strings.Join(res.SuggestedGenres, ", "))
			}
		}

		p := d.Profile()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Name\t%s\n", p.Name)
		fmt.Fprintf(w, "Email\t%s\n", p.Email)
		fmt.Fprintf(w, "Role\t%s\n", p.Role)
		fmt.Fprintf(w, "Plan\t%s (%d credits)\n", p.Tier, p.Credits)
		fmt.Fprintf(w, "Spotify\t%s\n", p.Socials.Spotify)
		fmt.Fprintf(w, "Instagram\t%s\n", p.Socials.Instagram)
		fmt.Fprintf(w, "Website\t%s\n", p.Socials.Website)
		if p.AvatarURL != "" {
			fmt.Fprintf(w, "Avatar\t%s\n", p.AvatarURL)
		}
		return w.Flush()
	})
}
