// pio manages the services of a workspace through the orchestration engine
// and keeps deployed trees in sync with local edits (pio spin).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/pflag"
)

const version = "0.4.0"

// DefaultConfigPath is read when --config is not given
const DefaultConfigPath = "pio.yaml"

type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	configSet  bool
	verbose    bool
	debug      bool
	force      bool
}

type command struct {
	name    string
	args    string
	summary string
	run     func(a *app, ctx context.Context, args []string) error
}

var commands = []command{
	{name: "list", args: "[filter]", summary: "List services", run: (*app).list},
	{name: "deploy", args: "[service selector]", summary: "Deploy a service", run: (*app).deploy},
	{name: "info", args: "[service selector]", summary: "Config and runtime info", run: (*app).info},
	{name: "status", args: "[service selector]", summary: "Get the status of a service", run: (*app).status},
	{name: "test", args: "[service selector]", summary: "Test a service", run: (*app).test},
	{name: "publish", args: "[service selector]", summary: "Publish a service", run: (*app).publish},
	{name: "spin", summary: "Watch the workspace and sync changes to deployed services", run: (*app).spin},
	{name: "gen-uuid", summary: "Generate a new v4 UUID", run: (*app).genUUID},
	{name: "generate-config", summary: "Write the default configuration file", run: (*app).generateConfig},
	{name: "version", summary: "Show version information", run: (*app).printVersion},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{stdout: stdout, stderr: stderr}

	flagSet := pflag.NewFlagSet("pio", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&a.configPath, "config", "c", DefaultConfigPath, "path to configuration file")
	flagSet.BoolVarP(&a.verbose, "verbose", "v", false, "show verbose progress")
	flagSet.BoolVar(&a.debug, "debug", false, "show debug output")
	flagSet.BoolVarP(&a.force, "force", "f", false, "force an operation when it would normally be skipped")
	showVersion := flagSet.Bool("version", false, "show version information")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			a.printHelp(flagSet)
			return nil
		}
		return err
	}
	a.configSet = flagSet.Changed("config")

	if help, _ := flagSet.GetBool("help"); help {
		a.printHelp(flagSet)
		return nil
	}
	if *showVersion {
		return a.printVersion(ctx, nil)
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		a.printHelp(flagSet)
		return nil
	}

	for _, cmd := range commands {
		if cmd.name == rest[0] {
			return cmd.run(a, ctx, rest[1:])
		}
	}
	a.printHelp(flagSet)
	return fmt.Errorf("command %q not found", rest[0])
}

func (a *app) printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(a.stdout, "Usage:\n  pio [flags] <command> [args]\n\nCommands:\n")
	for _, cmd := range commands {
		usage := cmd.name
		if cmd.args != "" {
			usage += " " + cmd.args
		}
		fmt.Fprintf(a.stdout, "  %-30s %s\n", usage, cmd.summary)
	}
	fmt.Fprintf(a.stdout, "\nFlags:\n%s", flagSet.FlagUsages())
}

func (a *app) printVersion(ctx context.Context, args []string) error {
	fmt.Fprintf(a.stdout, "pio version %s\n", version)
	return nil
}
