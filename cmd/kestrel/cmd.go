package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mna/mainer"
	"github.com/rs/zerolog"

	"github.com/kestrel-lang/kestrel/bytecode"
	"github.com/kestrel-lang/kestrel/config"
	"github.com/kestrel-lang/kestrel/eventloop"
	"github.com/kestrel-lang/kestrel/internal/diagnostic"
	"github.com/kestrel-lang/kestrel/stdlib"
	"github.com/kestrel-lang/kestrel/vm"
)

const binName = "kestrel"

var shortUsage = fmt.Sprintf(`
usage: %s [<option>...] <program.kbc>
Run '%[1]s --help' for details.
`, binName)

var longUsage = fmt.Sprintf(`usage: %s [<option>...] <program.kbc>
       %[1]s -h|--help
       %[1]s -v|--version

Runs a kestrel bytecode assembly file to completion, draining its event
loop (timers, Promise reactions) after the top-level script halts.

Valid flag options are:
       -h --help                 Show this help and exit.
       -v --version              Print version and exit.
       --config <path>           Load engine tunables from a YAML file,
                                  overriding KESTREL_* environment
                                  variables (config.Engine).
`, binName)

// Cmd is kestrel's single command: assemble and run one bytecode file.
// Unlike the teacher's Cmd, which dispatches to one of several
// reflection-discovered subcommands (parse/resolve/tokenize), kestrel has
// exactly one thing to do, so Main runs it directly rather than building a
// command table.
type Cmd struct {
	BuildVersion string
	BuildDate    string

	Help    bool `flag:"h,help"`
	Version bool `flag:"v,version"`

	ConfigPath string `flag:"config"`

	args []string
}

func (c *Cmd) SetArgs(args []string)      { c.args = args }
func (c *Cmd) SetFlags(_ map[string]bool) {}

func (c *Cmd) Validate() error {
	if c.Help || c.Version {
		return nil
	}
	if len(c.args) != 1 {
		return errors.New("exactly one program path is required")
	}
	return nil
}

func (c *Cmd) Main(args []string, stdio mainer.Stdio) mainer.ExitCode {
	p := mainer.Parser{EnvVars: false, EnvPrefix: binName + "_"}
	if err := p.Parse(args, c); err != nil {
		fmt.Fprintf(stdio.Stderr, "invalid arguments: %s\n%s", err, shortUsage)
		return mainer.InvalidArgs
	}

	switch {
	case c.Help:
		fmt.Fprint(stdio.Stdout, longUsage)
		return mainer.Success
	case c.Version:
		fmt.Fprintf(stdio.Stdout, "%s %s %s\n", binName, c.BuildVersion, c.BuildDate)
		return mainer.Success
	}

	ctx := mainer.CancelOnSignal(context.Background(), os.Interrupt)
	if err := c.run(ctx, stdio, c.args[0]); err != nil {
		return mainer.Failure
	}
	return mainer.Success
}

func (c *Cmd) run(ctx context.Context, stdio mainer.Stdio, path string) error {
	cfg, err := config.Load(c.ConfigPath)
	if err != nil {
		fmt.Fprintln(stdio.Stderr, err)
		return err
	}

	resolved, err := resolveProgramPath(path, cfg.ModuleRoots)
	if err != nil {
		fmt.Fprintln(stdio.Stderr, err)
		return err
	}

	src, err := os.ReadFile(resolved)
	if err != nil {
		fmt.Fprintln(stdio.Stderr, err)
		return err
	}

	program, err := bytecode.Assemble(string(src))
	if err != nil {
		fmt.Fprintln(stdio.Stderr, err)
		return err
	}

	m := vm.New(program, nil)
	m.MaxSteps = cfg.MaxSteps
	m.MaxCallStackDepth = cfg.MaxCallStackDepth

	log := zerolog.New(stdio.Stderr).With().Timestamp().Logger()
	loop := eventloop.New(m)
	stdlib.Register(m, loop, stdlib.WithStdout(stdio.Stdout), stdlib.WithLogger(log))

	if err := loop.Run(ctx); err != nil {
		diagnostic.ReportFatal(log, m, err)
		return err
	}
	return nil
}

// resolveProgramPath returns path unchanged if it names an existing file;
// otherwise it tries path joined under each of roots in order, matching
// Node's CommonJS-style module resolution closely enough for a flat
// single-file program argument (no package.json/index.js walk, since
// kestrel has no module system beyond the VM's require module registry).
func resolveProgramPath(path string, roots []string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	for _, root := range roots {
		candidate := filepath.Join(root, path)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("kestrel: cannot find program %q", path)
}
