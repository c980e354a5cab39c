/*
Package cli provides helpers shared by the relay subcommands.

Output Formatting:

Commands that print key/value results (hop headers, generated secrets,
version details) build a Fields list and render it as text or JSON:

	out := cli.Fields{{Name: "Request-Nonce", Value: nonce}}
	if err := cli.NewFormatter(cli.FormatJSON).FormatTo(os.Stdout, out); err != nil {
		return err
	}

Text output prints one "Name: value" line per field, which pastes directly
into curl -H arguments.

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()
*/
package cli
