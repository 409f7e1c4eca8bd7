// Package console implements the interactive command loop of modhost run.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dshills/modhost/internal/plugin"
)

// ErrQuit is returned by Execute for the quit command.
var ErrQuit = errors.New("quit requested")

// ErrUnknownCommand is returned for a command the console does not know.
var ErrUnknownCommand = errors.New("unknown command")

type command struct {
	usage string
	help  string
	run   func(c *Console, ctx context.Context, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"list":   {"list", "list loaded modules in load order", (*Console).list},
		"load":   {"load <path>", "load a module from a directory or file", (*Console).load},
		"unload": {"unload <id>", "unload a module and its dependants", (*Console).unload},
		"reload": {"reload <id>...", "reload modules and their dependants", (*Console).reload},
		"deps":   {"deps <id>", "show a module's dependencies and dependants", (*Console).deps},
		"call":   {"call <id> <fn> [args...]", "call a global function of a Lua module", (*Console).call},
		"help":   {"help", "show this help", (*Console).help},
		"quit":   {"quit", "unload everything and exit", nil},
	}
}

// Console reads commands from in and drives a Manager.
type Console struct {
	manager *plugin.Manager
	in      io.Reader
	out     io.Writer
	prompt  string
}

// New creates a console over manager.
func New(manager *plugin.Manager, in io.Reader, out io.Writer) *Console {
	return &Console{manager: manager, in: in, out: out, prompt: "> "}
}

// Run reads and executes commands until quit, end of input or ctx is done.
// Command errors are printed and do not stop the loop.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(c.out, c.prompt)
		select {
		case <-ctx.Done():
			fmt.Fprintln(c.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(c.out)
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			err := c.Execute(ctx, line)
			switch {
			case errors.Is(err, ErrQuit):
				return nil
			case err != nil:
				fmt.Fprintf(c.out, "error: %v\n", err)
			}
		}
	}
}

// Execute runs one command line.
func (c *Console) Execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name, args := fields[0], fields[1:]
	if name == "exit" {
		name = "quit"
	}

	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("%w %q (try help)", ErrUnknownCommand, name)
	}
	if cmd.run == nil {
		return ErrQuit
	}
	return cmd.run(c, ctx, args)
}

func (c *Console) list(_ context.Context, _ []string) error {
	modules := c.manager.Modules()
	if len(modules) == 0 {
		fmt.Fprintln(c.out, "no modules loaded")
		return nil
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVERSION\tDEPENDS ON\tLOADED")
	for _, m := range modules {
		deps := strings.Join(m.Manifest().DependsOn, ",")
		if deps == "" {
			deps = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID(), m.Manifest().Version, deps, m.LoadedAt().Format(time.TimeOnly))
	}
	return tw.Flush()
}

func (c *Console) load(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("load")
	}
	m, err := c.manager.Load(ctx, args[0])
	if err != nil {
		return err
	}
	if m == nil {
		return errors.New("host is shutting down")
	}
	fmt.Fprintf(c.out, "loaded %s\n", m)
	return nil
}

func (c *Console) unload(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("unload")
	}
	ids, err := c.manager.UnloadByID(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "unloaded %s\n", strings.Join(ids, ", "))
	return nil
}

func (c *Console) reload(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("reload")
	}
	reloaded, err := c.manager.ReloadByID(ctx, args...)
	for _, m := range reloaded {
		fmt.Fprintf(c.out, "reloaded %s\n", m)
	}
	return err
}

func (c *Console) deps(_ context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("deps")
	}
	m, ok := c.manager.Get(args[0])
	if !ok {
		return fmt.Errorf("%w: %s", plugin.ErrModuleNotFound, args[0])
	}

	container := c.manager.Container()
	fmt.Fprintf(c.out, "%s\n", m)
	fmt.Fprintf(c.out, "  depends on: %s\n", joinIDs(container.Dependencies(m)))
	fmt.Fprintf(c.out, "  needed by:  %s\n", joinIDs(container.Dependants(m)))
	fmt.Fprintf(c.out, "  unload order: %s\n", joinIDs(append(reversed(container.OrderedDependants(m)), m)))
	return nil
}

func (c *Console) call(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usageError("call")
	}
	m, ok := c.manager.Get(args[0])
	if !ok {
		return fmt.Errorf("%w: %s", plugin.ErrModuleNotFound, args[0])
	}
	mod, ok := m.Instance().(*plugin.LuaModule)
	if !ok {
		return fmt.Errorf("%s is not a Lua module", m.ID())
	}

	callArgs := make([]any, 0, len(args)-2)
	for _, a := range args[2:] {
		callArgs = append(callArgs, parseArg(a))
	}
	results, err := mod.Call(ctx, args[1], callArgs...)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Fprintf(c.out, "%v\n", r)
	}
	return nil
}

func (c *Console) help(_ context.Context, _ []string) error {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(tw, "  %s\t%s\n", commands[name].usage, commands[name].help)
	}
	return tw.Flush()
}

func usageError(name string) error {
	return fmt.Errorf("usage: %s", commands[name].usage)
}

// parseArg turns a console word into a bool, number or string.
func parseArg(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func joinIDs(ms []*plugin.LoadedModule) string {
	if len(ms) == 0 {
		return "-"
	}
	ids := make([]string, len(ms))
	for i, m := range ms {
		ids[i] = m.ID()
	}
	return strings.Join(ids, ", ")
}

func reversed(ms []*plugin.LoadedModule) []*plugin.LoadedModule {
	out := make([]*plugin.LoadedModule, len(ms))
	for i, m := range ms {
		out[len(ms)-1-i] = m
	}
	return out
}
