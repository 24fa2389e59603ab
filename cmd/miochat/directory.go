package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/mistakeknot/miochat/pkg/messenger"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func searchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Find other users by username",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			found, err := s.Search(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(found) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no matches")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "USERNAME\tID")
			for _, p := range found {
				fmt.Fprintf(w, "%s\t%s\n", p.Username, p.ID)
			}
			return w.Flush()
		},
	}
}

func contactsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "List contacts, or change a relationship",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			printContacts(cmd, s.Contacts())
			return nil
		},
	}
	cmd.AddCommand(
		relationshipCmd(a, "add", "Mark a user as friend", messenger.StatusFriend),
		relationshipCmd(a, "block", "Block a user", messenger.StatusBlocked),
		relationshipCmd(a, "pending", "Mark a user as pending", messenger.StatusPending),
	)
	return cmd
}

func relationshipCmd(a *app, use, short string, status messenger.ContactStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <username|id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.session(ctx)
			if err != nil {
				return err
			}
			defer s.Close()
			peer, err := resolvePeer(ctx, s, args[0])
			if err != nil {
				return err
			}
			if err := s.SetRelationship(ctx, peer.ID, status); err != nil {
				return err
			}
			printContacts(cmd, s.Contacts())
			return nil
		},
	}
}

func printContacts(cmd *cobra.Command, contacts []messenger.Contact) {
	if len(contacts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no contacts")
		return
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tSTATUS\tID")
	for _, c := range contacts {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.Profile.Username, c.Status, c.Profile.ID)
	}
	_ = w.Flush()
}

// resolvePeer accepts an exact username (case-insensitive) or a profile id.
func resolvePeer(ctx context.Context, s *messenger.Session, ref string) (messenger.Profile, error) {
	ref = strings.TrimSpace(ref)
	found, err := s.Search(ctx, ref)
	if err != nil && !messenger.IsValidation(err) {
		return messenger.Profile{}, err
	}
	for _, p := range found {
		if strings.EqualFold(p.Username, ref) {
			return p, nil
		}
	}
	for _, c := range s.Contacts() {
		if c.Profile.ID == ref || strings.EqualFold(c.Profile.Username, ref) {
			return c.Profile, nil
		}
	}
	p, err := s.Lookup(ctx, ref)
	if err != nil {
		return messenger.Profile{}, errors.Wrapf(err, "no user %q", ref)
	}
	return p, nil
}
