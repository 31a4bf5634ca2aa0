// Package cli parses the command line and starts either the stdio MCP
// server (the default) or the GUI daemon.
package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"parley/internal/client"
	"parley/internal/config"
	"parley/internal/daemon"
	"parley/internal/dispatch"
	"parley/internal/paths"
	"parley/internal/version"
)

// Exit codes.
const (
	ExitOK       = 0
	ExitInternal = 1
	ExitUsageErr = 2
)

// serveStdio is swapped in tests.
var serveStdio = func(s *mcpserver.MCPServer) error {
	return mcpserver.ServeStdio(s)
}

// Run is the main CLI entry point. Returns an exit code.
func Run(args []string) int {
	if len(args) > 0 {
		switch args[0] {
		case "version", "-v", "--version":
			fmt.Println("parley " + version.Version)
			return ExitOK
		case "help", "-h", "--help":
			printUsage(os.Stdout)
			return ExitOK
		case "gui":
			opts, err := parseGUIArgs(args[1:])
			if err != nil {
				fmt.Fprintf(os.Stderr, "parley: %v\n", err)
				return ExitUsageErr
			}
			if err := daemon.Run(opts); err != nil {
				fmt.Fprintf(os.Stderr, "parley gui: %v\n", err)
				return ExitInternal
			}
			return ExitOK
		default:
			fmt.Fprintf(os.Stderr, "parley: unknown command: %s\n", args[0])
			printUsage(os.Stderr)
			return ExitUsageErr
		}
	}

	return serve()
}

// serve runs the stdio MCP server until the client closes the pipe.
func serve() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		return ExitInternal
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parley: invalid config: %v\n", err)
		return ExitUsageErr
	}

	// stdout carries the MCP protocol; logs must stay on stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	c := client.New(client.Options{
		Port:            cfg.Port,
		EnableWebsocket: cfg.WebsocketEnabled(),
		Logger:          logger,
	})
	s := dispatch.NewServer(dispatch.Config{
		Client:         c,
		Logger:         logger,
		Version:        version.Version,
		DefaultTimeout: cfg.DefaultTimeout(),
		AttachmentDir:  paths.AttachmentDir(),
	})

	if err := serveStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		return ExitInternal
	}
	return ExitOK
}

func parseGUIArgs(args []string) (daemon.Options, error) {
	fs := flag.NewFlagSet("gui", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	headless := fs.Bool("headless", false, "run without the interactive surface")
	port := fs.Int("port", 0, "override the configured port")
	if err := fs.Parse(args); err != nil {
		return daemon.Options{}, err
	}
	if fs.NArg() > 0 {
		return daemon.Options{}, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	if *port < 0 || *port > 65535 {
		return daemon.Options{}, fmt.Errorf("port out of range: %d", *port)
	}
	return daemon.Options{Headless: *headless, Port: *port}, nil
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `parley - human-in-the-loop bridge for MCP tools

Usage:
  parley                      run the stdio MCP server (for MCP client configs)
  parley gui [flags]          run the GUI daemon that presents questions
  parley version              print the version

Flags for gui:
  --headless                  serve the bridge without an interactive surface
  --port N                    override the configured port

Config file: %s
`, config.ExampleConfigPath())
}
