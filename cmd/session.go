/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/healwise/apiserver/internal/client"
	"github.com/healwise/apiserver/internal/profiles"
	"github.com/healwise/apiserver/internal/session"
	"github.com/healwise/apiserver/types"
	"github.com/spf13/cobra"
)

var (
	sessionEmail    string
	sessionName     string
	sessionRole     string
	sessionPassword string
)

// sessionCmd groups the command-line client for the auth API.
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Sign in to a HealWise API from the command line",
	Long: `Sign in to a HealWise API from the command line. The signed-in user is
kept in HEALWISE_SESSION_FILE (default: the user config directory).

	healwise session register --name Ann --email ann@example.com --role patient
	healwise session login --email ann@example.com
	healwise session whoami
	healwise session logout
`,
}

// openSession builds a Session that prints navigation and toasts to out.
// Role profiles of a restored user come from the PROFILES_SOURCE dataset.
func openSession(ctx context.Context, out io.Writer) (*session.Session, error) {
	cfg := appConfig
	dataset, err := profiles.LoadFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	path := cfg.Client.SessionFile
	if path == "" {
		if path, err = session.DefaultFilePath(); err != nil {
			return nil, err
		}
	}

	api := client.New(cfg.Client.APIURL)
	s := session.New(api, session.NewFileStore(path),
		session.WithProfiles(api),
		session.WithProfileLookup(dataset),
		session.WithNavigator(session.NavigatorFunc(func(route string) {
			fmt.Fprintf(out, "-> %s\n", route)
		})),
		session.WithNotifier(session.NotifierFunc(func(t session.Toast) {
			prefix := ""
			if t.Destructive {
				prefix = "error: "
			}
			fmt.Fprintf(out, "%s%s: %s\n", prefix, t.Title, t.Description)
		})),
	)
	return s, nil
}

// readPassword takes --password or one line from stdin.
func readPassword(in io.Reader) (string, error) {
	if sessionPassword != "" {
		return sessionPassword, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", errors.New("password is required (pass --password or pipe it on stdin)")
	}
	return password, nil
}

var sessionLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and remember the user",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		password, err := readPassword(cmd.InOrStdin())
		if err != nil {
			return err
		}
		ctx := session.NewContext(cmd.Context(), s)
		if err := session.FromContext(ctx).Login(ctx, sessionEmail, password); err != nil {
			return err
		}
		if profile := s.Profile(); profile != nil {
			return printJSON(cmd.OutOrStdout(), map[string]any{"role": profile.ProfileRole(), "profile": profile})
		}
		return nil
	},
}

var sessionRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		password, err := readPassword(cmd.InOrStdin())
		if err != nil {
			return err
		}
		return s.Register(cmd.Context(), sessionName, sessionEmail, password, types.Role(strings.ToLower(sessionRole)))
	},
}

var sessionLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the remembered user",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		s.Logout()
		return nil
	},
}

var sessionWhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the remembered user and role profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
		user, ok := s.User()
		if !ok {
			return errors.New("not logged in")
		}
		out := map[string]any{"user": user}
		if profile := s.Profile(); profile != nil {
			out["profile"] = profile
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLoginCmd, sessionRegisterCmd, sessionLogoutCmd, sessionWhoamiCmd)

	for _, c := range []*cobra.Command{sessionLoginCmd, sessionRegisterCmd} {
		c.Flags().StringVar(&sessionEmail, "email", "", "account email")
		c.Flags().StringVar(&sessionPassword, "password", "", "account password (read from stdin when omitted)")
		_ = c.MarkFlagRequired("email")
	}
	sessionRegisterCmd.Flags().StringVar(&sessionName, "name", "", "full name")
	sessionRegisterCmd.Flags().StringVar(&sessionRole, "role", "patient", "patient or doctor")
	_ = sessionRegisterCmd.MarkFlagRequired("name")
}
