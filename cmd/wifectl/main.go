package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	cl "animewife/internal/cli"
	"animewife/internal/config"
)

// overrides are the persistent flags applied on top of the saved profile.
type overrides struct {
	api   string
	group string
	user  string
	name  string
}

func main() {
	cfg := config.LoadCLIFromEnv()
	flags := &overrides{}

	root := &cobra.Command{
		Use:          "wifectl",
		Short:        "Talk to the wife bot from a terminal",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.api, "api", "", "bot API base URL (overrides the saved profile)")
	root.PersistentFlags().StringVar(&flags.group, "group", "", "group ID to act in")
	root.PersistentFlags().StringVar(&flags.user, "user", "", "user ID to act as")
	root.PersistentFlags().StringVar(&flags.name, "name", "", "nickname sent with commands")

	root.AddCommand(
		newLoginCmd(cfg.APIBaseURL),
		newLogoutCmd(),
		newSayCmd(flags),
		newDrawCmd(flags),
		newBackpackCmd(flags),
		newTradesCmd(flags),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// session loads the saved profile, applies flag overrides and returns a
// client for it. A complete set of flags works without a profile.
func session(o *overrides) (cl.Profile, *cl.Client, error) {
	p, err := cl.LoadProfile()
	if err != nil && !errors.Is(err, cl.ErrNoProfile) {
		return cl.Profile{}, nil, err
	}
	p = o.apply(p)
	if p.APIBaseURL == "" {
		p.APIBaseURL = config.LoadCLIFromEnv().APIBaseURL
	}
	if verr := p.Validate(); verr != nil {
		if err != nil {
			return cl.Profile{}, nil, err
		}
		return cl.Profile{}, nil, verr
	}
	return p, cl.NewClient(p.APIBaseURL, p.Token), nil
}

func (o *overrides) apply(p cl.Profile) cl.Profile {
	if v := strings.TrimSpace(o.api); v != "" {
		p.APIBaseURL = v
	}
	if v := strings.TrimSpace(o.group); v != "" {
		p.Group = v
	}
	if v := strings.TrimSpace(o.user); v != "" {
		p.UserID = v
	}
	if v := strings.TrimSpace(o.name); v != "" {
		p.Nickname = v
	}
	return p
}

func newLoginCmd(defaultBase string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Save the API address and the identity to speak as",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := promptDefault("API base URL", defaultBase)
			if err != nil {
				return err
			}
			group, err := promptRequired("Group ID")
			if err != nil {
				return err
			}
			user, err := promptRequired("User ID")
			if err != nil {
				return err
			}
			nick, err := promptOptional("Nickname (optional)")
			if err != nil {
				return err
			}
			token, err := promptSecret("API token (blank if none)")
			if err != nil {
				return err
			}
			p := cl.Profile{APIBaseURL: base, Token: token, Group: group, UserID: user, Nickname: nick}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			client := cl.NewClient(p.APIBaseURL, p.Token)
			if err := client.Health(ctx); err != nil {
				printWarn("API not reachable right now: " + err.Error())
			} else if _, err := client.Trades(ctx, p.Group, p.UserID); errors.Is(err, cl.ErrUnauthorized) {
				return err
			}
			if err := cl.SaveProfile(p); err != nil {
				return err
			}
			printSuccess("Profile saved.")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the saved profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearProfile(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newSayCmd(flags *overrides) *cobra.Command {
	var mentions []string
	cmd := &cobra.Command{
		Use:   "say <command text>",
		Short: "Send a chat command, e.g. `wifectl say contest 2 --mention 42`",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return say(cmd.Context(), flags, strings.Join(args, " "), mentions)
		},
	}
	cmd.Flags().StringSliceVarP(&mentions, "mention", "m", nil, "user IDs mentioned by the message")
	return cmd
}

func newDrawCmd(flags *overrides) *cobra.Command {
	return &cobra.Command{
		Use:   "draw",
		Short: "Draw today's wife",
		RunE: func(cmd *cobra.Command, args []string) error {
			return say(cmd.Context(), flags, "draw", nil)
		},
	}
}

func say(ctx context.Context, flags *overrides, text string, mentions []string) error {
	p, client, err := session(flags)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	res, err := client.Say(ctx, p.Group, p.UserID, p.Nickname, text, mentions)
	if err != nil {
		return err
	}
	renderReplies(res)
	return nil
}

func newBackpackCmd(flags *overrides) *cobra.Command {
	var interactive bool
	cmd := &cobra.Command{
		Use:   "backpack [user-id]",
		Short: "Show a backpack (yours by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, client, err := session(flags)
			if err != nil {
				return err
			}
			owner := p.UserID
			if len(args) == 1 {
				owner = strings.TrimSpace(args[0])
			}
			if interactive && term.IsTerminal(int(os.Stdout.Fd())) {
				return runBackpackTUI(cmd.Context(), client, p.Group, owner, owner == p.UserID)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			view, err := client.Backpack(ctx, p.Group, owner)
			if err != nil {
				return err
			}
			renderBackpack(view)
			return nil
		},
	}
	cmd.Flags().BoolVar(&interactive, "tui", false, "browse the backpack interactively")
	return cmd
}

func newTradesCmd(flags *overrides) *cobra.Command {
	return &cobra.Command{
		Use:   "trades",
		Short: "List your pending trade requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, client, err := session(flags)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			list, err := client.Trades(ctx, p.Group, p.UserID)
			if err != nil {
				return err
			}
			renderTrades(list)
			return nil
		},
	}
}
