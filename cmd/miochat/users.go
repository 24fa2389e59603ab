package main

import (
	"fmt"

	"github.com/mistakeknot/miochat/internal/auth"
	"github.com/mistakeknot/miochat/internal/cli"
	"github.com/mistakeknot/miochat/internal/storage/sqlite"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func usersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage accounts on the local database",
	}
	cmd.AddCommand(usersAddCmd(a), usersTokenCmd(a))
	return cmd
}

func usersAddCmd(a *app) *cobra.Command {
	var in cli.NewUser
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a profile and print its bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := sqlite.New(a.cfg.DB)
			if err != nil {
				return errors.Wrap(err, "open store")
			}
			defer store.Close()

			added, err := cli.AddUser(cmd.Context(), store, a.cfg.KeysFile, in)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:       %s\n", added.Profile.ID)
			fmt.Fprintf(out, "username: %s\n", added.Profile.Username)
			fmt.Fprintf(out, "token:    %s\n", added.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&in.Username, "username", "", "handle; generated when empty")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func usersTokenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an additional token for an existing profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sqlite.New(a.cfg.DB)
			if err != nil {
				return errors.Wrap(err, "open store")
			}
			defer store.Close()
			if _, err := store.GetProfile(cmd.Context(), args[0]); err != nil {
				return errors.Wrapf(err, "profile %s", args[0])
			}
			token, err := auth.IssueKey(a.cfg.KeysFile, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
