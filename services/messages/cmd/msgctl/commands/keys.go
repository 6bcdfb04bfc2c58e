package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"xmtp-legacy/internal/jwtsigner"
)

type hmacKeyView struct {
	Period  int64  `json:"period"`
	HmacKey []byte `json:"hmacKey"`
}

func hmacKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hmac-keys",
		Short: "Print push-notification HMAC keys for every conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			if _, err := s.client.Conversations().List(cmd.Context()); err != nil {
				return err
			}
			keys, err := s.client.Conversations().HmacKeys(time.Now())
			if err != nil {
				return err
			}
			view := make(map[string][]hmacKeyView, len(keys))
			for topic, periods := range keys {
				for _, p := range periods {
					view[topic] = append(view[topic], hmacKeyView{Period: p.Period, HmacKey: p.HmacKey})
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Operator tokens for gateway admin routes",
	}

	var (
		key     string
		subject string
		issuer  string
		ttl     time.Duration
	)
	operator := &cobra.Command{
		Use:   "operator",
		Short: "Mint an operator JWT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				return fmt.Errorf("--key is required (see msgctl token keygen)")
			}
			s, err := jwtsigner.NewFromBase64(key, "", issuer)
			if err != nil {
				return err
			}
			tok, err := s.Sign(subject, ttl, map[string]any{"role": "operator"})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	operator.Flags().StringVar(&key, "key", "", "base64 ed25519 private key")
	operator.Flags().StringVar(&subject, "subject", "operator", "token subject")
	operator.Flags().StringVar(&issuer, "issuer", "xmtp-legacy", "token issuer; must match GATEWAY_OPERATOR_ISSUER")
	operator.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")

	keygen := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an operator signing keypair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := jwtsigner.NewFromBase64("", "", "")
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "private: %s\n", s.PrivateKeyBase64())
			fmt.Fprintf(out, "GATEWAY_OPERATOR_PUBLIC_KEY=%s\n", s.PublicKeyBase64())
			return nil
		},
	}

	cmd.AddCommand(operator, keygen)
	return cmd
}
