package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/franckalain/foodlens/internal/flow"
	"github.com/franckalain/foodlens/internal/history"
	"github.com/franckalain/foodlens/internal/models"
	"github.com/franckalain/foodlens/internal/nutrition"
	"github.com/franckalain/foodlens/internal/session"
)

func newLoginCmd(a *app) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("FOODLENS_PASSWORD")
			}
			user, err := a.session.Login(cmd.Context(), email, password)
			if err != nil {
				return authError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s <%s>\n", user.Name, user.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (default $FOODLENS_PASSWORD)")
	cmd.MarkFlagRequired("email")
	return cmd
}

func newRegisterCmd(a *app) *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("FOODLENS_PASSWORD")
			}
			user, err := a.session.Register(cmd.Context(), name, email, password)
			if err != nil {
				return authError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Welcome, %s\n", user.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (default $FOODLENS_PASSWORD)")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.session.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := a.session.User()
			if err != nil {
				return remedial(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s <%s>\n", user.Name, user.Email)
			return nil
		},
	}
}

func newSnapCmd(a *app) *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "snap",
		Short: "Capture a frame from the camera and analyze it",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.newFlow(cmd.Context(), true)
			if err != nil {
				return remedial(err)
			}
			if err := f.Capture(cmd.Context()); err != nil {
				return remedial(err)
			}
			return analyzeAndShow(cmd.Context(), cmd.OutOrStdout(), f, save)
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "save the result to the history")
	return cmd
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "analyze <image>",
		Short: "Analyze a photo from a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			f, err := a.newFlow(cmd.Context(), false)
			if err != nil {
				return remedial(err)
			}
			if err := f.Upload(args[0], data); err != nil {
				return remedial(err)
			}
			return analyzeAndShow(cmd.Context(), cmd.OutOrStdout(), f, save)
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "save the result to the history")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var (
		local bool
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List previously analyzed meals",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := a.session.User()
			if err != nil {
				return remedial(err)
			}

			var entries []models.HistoryEntry
			if local {
				stored, err := a.db.GetRecentAnalyses(cmd.Context(), user.Email, limit)
				if err != nil {
					return err
				}
				for _, s := range stored {
					entries = append(entries, history.FromStored(s))
				}
			} else {
				entries, err = a.history.Fetch(cmd.Context(), user.ID)
				if err != nil {
					return err
				}
				if limit > 0 && len(entries) > limit {
					entries = entries[:limit]
				}
			}
			printHistory(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "read the local copy instead of the history service")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of entries")
	return cmd
}

func analyzeAndShow(ctx context.Context, out io.Writer, f *flow.Flow, save bool) error {
	display, err := f.Analyze(ctx)
	if err != nil {
		return remedial(err)
	}
	printDisplay(out, display)
	if !save {
		return nil
	}
	url, err := f.Save(ctx)
	if err != nil {
		return remedial(err)
	}
	if url != "" {
		fmt.Fprintf(out, "\nSaved to history (%s)\n", url)
	} else {
		fmt.Fprintln(out, "\nSaved to history")
	}
	return nil
}

func authError(err error) error {
	switch {
	case errors.Is(err, session.ErrInvalidCredentials):
		return errors.New("email or password is incorrect")
	case errors.Is(err, session.ErrEmailTaken):
		return errors.New("this email is already registered")
	case errors.Is(err, session.ErrAuthUnavailable):
		return fmt.Errorf("the sign-in service is unavailable, try again later (%w)", err)
	}
	return err
}

func printDisplay(out io.Writer, d *nutrition.Display) {
	balance := "Balanced"
	if d.Balance == models.NeedsAttention {
		balance = "Needs attention"
	}
	fmt.Fprintf(out, "%s (%d%% confidence)\n", d.Label, d.ConfidencePercent)
	fmt.Fprintf(out, "Calories: %.0f kcal\n", d.Calories)
	fmt.Fprintf(out, "Protein %d%% | Carbs %d%% | Fat %d%%\n", d.Macros.Protein, d.Macros.Carbs, d.Macros.Fat)
	fmt.Fprintf(out, "Nutrition: %s\n", balance)

	if len(d.Recommendations) == 0 {
		return
	}
	fmt.Fprintln(out, "\nRecommended:")
	for _, r := range d.Recommendations {
		fmt.Fprintf(out, "  - %s: %s\n", r.Name, r.Description)
	}
}

func printHistory(out io.Writer, entries []models.HistoryEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No history yet")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tMEAL\tKCAL\tCONFIDENCE\tSTATUS")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			orDash(e.Date), nutrition.FormatLabel(e.Name), floatOrDash(e.Calories), percentOrDash(e.Confidence), e.Status)
	}
	tw.Flush()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func floatOrDash(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f", *v)
}

func percentOrDash(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d%%", *v)
}
