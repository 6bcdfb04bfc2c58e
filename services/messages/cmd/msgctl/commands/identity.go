package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	cryptocore "xmtp-legacy/services/crypto-core"
	"xmtp-legacy/services/messages/pkg/msgclient"
)

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a random wallet, generate keys and publish the contact bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(home, stateFile)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists; use --force to replace it", path)
			}
			wallet, err := cryptocore.GeneratePrivateKey(time.Now())
			if err != nil {
				return err
			}
			cache, err := msgclient.OpenTopicCache(filepath.Join(home, "cache"))
			if err != nil {
				return err
			}
			defer cache.Close()
			opts := clientOptions()
			opts.Cache = cache
			client, err := msgclient.Create(cmd.Context(), wallet, opts)
			if err != nil {
				return err
			}
			defer client.Close()

			state, err := msgclient.NewStateFile(client.Bundle(), profile.MessagesURL, profile.KeysURL)
			if err != nil {
				return err
			}
			state.Environment = profile.Environment
			state.CacheDir = filepath.Join(home, "cache")
			if err := state.Save(path); err != nil {
				return err
			}
			if err := saveProfile(home, profile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Identity created.\nAddress: %s\n", client.Address())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing identity")
	return cmd
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the local identity and endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := msgclient.LoadStateFile(filepath.Join(home, stateFile))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "address:     %s\n", state.Address)
			fmt.Fprintf(out, "environment: %s\n", state.Environment)
			fmt.Fprintf(out, "messages:    %s\n", profile.MessagesURL)
			fmt.Fprintf(out, "keys:        %s\n", profile.KeysURL)
			return nil
		},
	}
}

func contactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contact",
		Short: "Manage the published contact bundle",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "publish",
		Short: "Republish this identity's contact bundle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.client.PublishContact(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "published")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <address>",
		Short: "Look up a peer's contact bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			bundle, err := s.client.Contacts().Find(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			version := "v1"
			if bundle.V2 != nil {
				version = "v2"
			}
			addr, _ := bundle.WalletAddress()
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", addr, version)
			return nil
		},
	})
	return cmd
}
