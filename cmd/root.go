package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"

	"polychat/internal/server"
)

const description = "polychat is a multi-provider chat gateway that streams normalized answers over SSE."

type cliArgs struct {
	Config string `short:"c" env:"POLYCHAT_CONFIG" help:"Path to YAML configuration file; built-in defaults when empty."`

	Serve struct {
		Port int `help:"Override server port from configuration."`
	} `cmd:"" help:"Start the HTTP server."`

	Models struct{} `cmd:"" help:"List the model catalog of every provider."`

	Route struct {
		Model string `arg:"" help:"Model id to resolve."`
	} `cmd:"" help:"Print the provider a model id is routed to."`

	Version struct{} `cmd:"" help:"Print the version."`
}

// Execute runs the CLI dispatcher with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	return run(ctx, args, os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var cli cliArgs
	exited := false

	parser, err := kong.New(&cli,
		kong.Name("polychat"),
		kong.Description(description),
		kong.Writers(stdout, stderr),
		kong.Exit(func(int) { exited = true }),
	)
	if err != nil {
		return fmt.Errorf("build cli: %w", err)
	}

	kctx, err := parser.Parse(args)
	if exited {
		// --help was printed.
		return nil
	}
	if err != nil {
		return err
	}

	switch kctx.Command() {
	case "serve":
		return serve(ctx, cli.Config, cli.Serve.Port, stderr)
	case "models":
		return listModels(ctx, cli.Config, stdout, stderr)
	case "route <model>":
		return route(ctx, cli.Config, cli.Route.Model, stdout, stderr)
	case "version":
		_, err := fmt.Fprintf(stdout, "polychat %s\n", server.Version)
		return err
	default:
		return fmt.Errorf("unknown command %q", kctx.Command())
	}
}
