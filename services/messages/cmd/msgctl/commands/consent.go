package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func consentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consent",
		Short: "Manage who may reach this inbox",
	}
	set := func(use, done, short string, allow bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <address>...",
			Short: short,
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := openSession(cmd.Context())
				if err != nil {
					return err
				}
				defer s.Close()
				contacts := s.client.Contacts()
				if err := contacts.Consent().Load(cmd.Context(), time.Time{}); err != nil {
					return err
				}
				if allow {
					err = contacts.Allow(cmd.Context(), args...)
				} else {
					err = contacts.Deny(cmd.Context(), args...)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d address(es)\n", done, len(args))
				return nil
			},
		}
	}
	cmd.AddCommand(set("allow", "allowed", "Allow addresses", true), set("deny", "denied", "Deny addresses", false))
	cmd.AddCommand(&cobra.Command{
		Use:   "show [address]",
		Short: "Show the consent list, or the state of one address",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			list := s.client.Contacts().Consent()
			if err := list.Load(cmd.Context(), time.Time{}); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				switch {
				case s.client.Contacts().IsAllowed(args[0]):
					fmt.Fprintln(out, "ALLOWED")
				case s.client.Contacts().IsDenied(args[0]):
					fmt.Fprintln(out, "DENIED")
				default:
					fmt.Fprintln(out, "UNKNOWN")
				}
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tVALUE\tSTATE")
			for _, e := range list.Entries() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Type, e.Value, e.State)
			}
			return tw.Flush()
		},
	})
	return cmd
}
