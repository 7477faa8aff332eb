package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/justestif/syncmaster/internal/models"
	"github.com/justestif/syncmaster/internal/supabase"
)

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account",
	Long: `Create an artist or supervisor account. When Supabase asks for email
confirmation no session is started; confirm the address and run signin.`,
	RunE: runSignUp,
}

var signinCmd = &cobra.Command{
	Use:   "signin",
	Short: "Sign in with email and password",
	RunE:  runSignIn,
}

var loginCmd = &cobra.Command{
	Use:   "login [provider]",
	Short: "Sign in through an OAuth provider in the browser",
	Long: `Open the provider's sign-in page and wait for the redirect on the local
callback address. The session is cached in the user config directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the cached session",
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	RunE:  runWhoami,
}

var resendCmd = &cobra.Command{
	Use:   "resend",
	Short: "Resend the sign-up confirmation email",
	RunE:  runResend,
}

func init() {
	for _, c := range []*cobra.Command{signupCmd, signinCmd, resendCmd} {
		c.Flags().StringP("email", "e", "", "account email")
	}
	for _, c := range []*cobra.Command{signupCmd, signinCmd} {
		c.Flags().StringP("password", "p", "", "password (prompted when omitted)")
	}
	signupCmd.Flags().StringP("name", "n", "", "display name")
	signupCmd.Flags().String("role", string(models.RoleArtist), "account role (artist, supervisor)")

	rootCmd.AddCommand(signupCmd, signinCmd, loginCmd, logoutCmd, whoamiCmd, resendCmd)
}

// promptPassword reads a password without echo when stdin is a terminal.
func promptPassword(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("password"); p != "" {
		return p, nil
	}
	if p := os.Getenv("SYNCMASTER_PASSWORD"); p != "" {
		return p, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(b), nil
}

func describe(s *models.Session) string {
	name := s.User.Metadata.Name
	if name == "" {
		name = s.User.Email
	}
	mode := "online"
	if s.Offline {
		mode = "offline"
	}
	return fmt.Sprintf("%s <%s> (%s, %s)", name, s.User.Email, s.User.Metadata.Role, mode)
}

func runSignUp(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	email, _ := cmd.Flags().GetString("email")
	name, _ := cmd.Flags().GetString("name")
	role, _ := cmd.Flags().GetString("role")

	password, err := promptPassword(cmd)
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	session, err := a.gw.Detached().SignUp(ctx, email, password, name, models.Role(role))
	if err != nil {
		return fmt.Errorf("signing up: %w", err)
	}
	if session == nil {
		fmt.Printf("Check %s for a confirmation link, then run \"syncmaster signin\".\n", email)
		return nil
	}
	if err := a.auth.Remember(session); err != nil {
		return err
	}
	fmt.Println("Signed up as", describe(session))
	return nil
}

func runSignIn(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	email, _ := cmd.Flags().GetString("email")

	password, err := promptPassword(cmd)
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	session, err := a.gw.Detached().SignIn(ctx, email, password)
	if errors.Is(err, supabase.ErrEmailNotConfirmed) {
		return fmt.Errorf("%w: run \"syncmaster resend --email %s\" for a new link", err, email)
	}
	if err != nil {
		return fmt.Errorf("signing in: %w", err)
	}
	if err := a.auth.Remember(session); err != nil {
		return err
	}
	fmt.Println("Signed in as", describe(session))
	return nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	provider := "google"
	if len(args) == 1 {
		provider = args[0]
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.client.Configured() {
		return fmt.Errorf("OAuth sign-in needs Supabase: %w", supabase.ErrNotConfigured)
	}

	session, err := a.auth.Login(ctx, provider)
	if err != nil {
		return err
	}
	fmt.Println("Signed in as", describe(session))
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	session, err := a.session(ctx)
	if err != nil {
		fmt.Println("Not signed in")
		return nil
	}
	if err := a.gw.ForSession(session).SignOut(ctx); err != nil {
		a.log.Warn().Err(err).Msg("remote sign-out failed")
	}
	if err := a.store.ClearMockSession(ctx); err != nil {
		return err
	}
	if err := a.auth.Forget(); err != nil {
		return err
	}
	fmt.Println("Signed out")
	return nil
}

func runWhoami(cmd *cobra.Command, args []string) error {
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
	fmt.Println(describe(session))
	return nil
}

func runResend(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	email, _ := cmd.Flags().GetString("email")
	if email == "" {
		return errors.New("--email is required")
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.gw.Detached().ResendConfirmation(ctx, email); err != nil {
		return fmt.Errorf("resending confirmation: %w", err)
	}
	fmt.Println("Confirmation email sent to", email)
	return nil
}
