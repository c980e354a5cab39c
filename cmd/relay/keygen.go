package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
	"mercator-hq/relay/pkg/cli"
	"mercator-hq/relay/pkg/config"
)

type keygenOptions struct {
	bytes  int
	output string
}

func newKeygenCmd() *cobra.Command {
	opts := &keygenOptions{}
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a hop secret",
		Long: `Generate a random hop secret, hex encoded.

Both processes must share the same value in hop.secret. Keep it out of
version control; the config accepts env:NAME and file:/path references.

Examples:
  relay keygen
  relay keygen --bytes 64 --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := cli.ParseFormat(opts.output)
			if err != nil {
				return err
			}
			secret, err := generateSecret(opts.bytes)
			if err != nil {
				return cli.NewCommandError("keygen", err)
			}
			return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), cli.Fields{
				{Name: "secret", Value: secret},
			})
		},
	}

	cmd.Flags().IntVar(&opts.bytes, "bytes", 32, "random bytes before hex encoding")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "text", "output format: text, json")
	return cmd
}

// generateSecret returns n random bytes hex encoded. The encoded length
// must satisfy the configured minimum.
func generateSecret(n int) (string, error) {
	if n*2 < config.MinSecretLength {
		return "", fmt.Errorf("secret must be at least %d bytes", config.MinSecretLength/2)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
