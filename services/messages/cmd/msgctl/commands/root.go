package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"xmtp-legacy/services/messages/pkg/msgclient"
)

var (
	home        string
	messagesURL string
	keysURL     string
	verbose     bool

	profile Profile
)

func Execute() error {
	return newRoot().Execute()
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "msgctl",
		Short:         "Legacy XMTP messaging client",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".msgctl")
			}
			p, err := loadProfile(home)
			if err != nil {
				return err
			}
			if messagesURL != "" {
				p.MessagesURL = messagesURL
			}
			if keysURL != "" {
				p.KeysURL = keysURL
			}
			profile = p

			level := slog.LevelWarn
			if verbose || strings.EqualFold(p.LogLevel, "debug") {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "state dir (default ~/.msgctl)")
	root.PersistentFlags().StringVar(&messagesURL, "messages-url", "", "messages or gateway base URL")
	root.PersistentFlags().StringVar(&keysURL, "keys-url", "", "keys or gateway base URL")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		initCmd(),
		whoamiCmd(),
		contactCmd(),
		conversationsCmd(),
		sendCmd(),
		messagesCmd(),
		consentCmd(),
		hmacKeysCmd(),
		tokenCmd(),
	)
	return root
}

// session is an open client plus the cache it owns.
type session struct {
	client *msgclient.Client
	cache  *msgclient.TopicCache
}

func (s *session) Close() {
	_ = s.client.Close()
	_ = s.cache.Close()
}

func openSession(ctx context.Context) (*session, error) {
	state, err := msgclient.LoadStateFile(filepath.Join(home, stateFile))
	if err != nil {
		return nil, fmt.Errorf("load state (run msgctl init first): %w", err)
	}
	bundle, err := state.KeyBundle()
	if err != nil {
		return nil, err
	}
	cache, err := msgclient.OpenTopicCache(state.CacheDir)
	if err != nil {
		return nil, err
	}
	opts := clientOptions()
	opts.Cache = cache
	client, err := msgclient.FromBundle(bundle, opts)
	if err != nil {
		_ = cache.Close()
		return nil, err
	}
	return &session{client: client, cache: cache}, nil
}

func clientOptions() msgclient.ClientOptions {
	opts := msgclient.ClientOptions{
		API:    msgclient.NewHTTPClient(profile.MessagesURL),
		Logger: slog.Default(),
	}
	if profile.KeysURL != "" {
		opts.Directory = msgclient.NewKeysClient(profile.KeysURL)
	}
	return opts
}
