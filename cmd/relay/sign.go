package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"mercator-hq/relay/pkg/cli"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/signing"
)

type signOptions struct {
	data     string
	dataFile string
	method   string
	path     string
	secret   string
	output   string
}

func newSignCmd(root *rootOptions) *cobra.Command {
	opts := &signOptions{}
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print hop headers for a backend request body",
		Long: `Sign a request body the way the gateway does and print the hop headers.

The secret comes from --secret or, when omitted, from hop.secret in the
config file. The path defaults to backend.chat_path. Text output is one
"Header: value" line per header.

Examples:
  # Sign an inline body
  relay sign --data '{"messages":[{"role":"user","content":"hi"}]}'

  # Sign a file and build curl arguments
  relay sign --data-file body.json | sed 's/^/-H /'

  # JSON output
  relay sign --data-file - --output json < body.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSign(cmd, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.data, "data", "d", "", "request body")
	cmd.Flags().StringVar(&opts.dataFile, "data-file", "", "read the request body from a file (- for stdin)")
	cmd.Flags().StringVarP(&opts.method, "method", "X", http.MethodPost, "request method")
	cmd.Flags().StringVar(&opts.path, "path", "", "request path (default backend.chat_path)")
	cmd.Flags().StringVar(&opts.secret, "secret", "", "hop secret (default hop.secret from config)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "text", "output format: text, json")
	cmd.MarkFlagsMutuallyExclusive("data", "data-file")
	return cmd
}

func runSign(cmd *cobra.Command, root *rootOptions, opts *signOptions) error {
	format, err := cli.ParseFormat(opts.output)
	if err != nil {
		return err
	}

	body, err := readBody(cmd.InOrStdin(), opts)
	if err != nil {
		return cli.NewCommandError("sign", err)
	}

	secret, path := opts.secret, opts.path
	if secret == "" {
		cfg, err := root.load()
		if err != nil {
			return err
		}
		secret = cfg.Hop.Secret
		if path == "" {
			path = cfg.Backend.ChatPath
		}
	}
	if path == "" {
		path = config.NewDefaultConfig().Backend.ChatPath
	}

	env, err := signing.NewSigner([]byte(secret), nil).Envelope(opts.method, path, body)
	if err != nil {
		return cli.NewCommandError("sign", err)
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), envelopeFields(env))
}

func readBody(stdin io.Reader, opts *signOptions) ([]byte, error) {
	switch opts.dataFile {
	case "":
		return []byte(opts.data), nil
	case "-":
		return io.ReadAll(stdin)
	default:
		data, err := os.ReadFile(opts.dataFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read body: %w", err)
		}
		return data, nil
	}
}

func envelopeFields(env signing.Envelope) cli.Fields {
	return cli.Fields{
		{Name: signing.HeaderTimestamp, Value: strconv.FormatInt(env.Timestamp, 10)},
		{Name: signing.HeaderNonce, Value: env.Nonce},
		{Name: signing.HeaderBodyDigest, Value: env.BodyDigest},
		{Name: signing.HeaderSignature, Value: env.Signature},
	}
}
