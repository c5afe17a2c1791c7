package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/1broseidon/droidrelay/internal/control"
	"github.com/1broseidon/droidrelay/internal/ipc"
)

func main() {
	if len(os.Args) < 2 {
		printMainUsage(os.Stdout)
		os.Exit(0)
	}

	switch os.Args[1] {
	case "daemon":
		os.Exit(runDaemon(os.Args[2:]))
	case "status":
		os.Exit(runStatus(os.Args[2:]))
	case "open":
		os.Exit(runApp("open", os.Args[2:]))
	case "close":
		os.Exit(runApp("close", os.Args[2:]))
	case "reload":
		os.Exit(runReload(os.Args[2:]))
	case "config":
		os.Exit(runConfig(os.Args[2:]))
	case "mcp":
		os.Exit(runMCP(os.Args[2:]))
	case "help", "-h", "--help":
		printMainUsage(os.Stdout)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printMainUsage(os.Stderr)
		os.Exit(2)
	}
}

func printMainUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: droidrelay <command> [options]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  daemon              Start the relay daemon (foreground)")
	fmt.Fprintln(w, "  status              Show daemon status")
	fmt.Fprintln(w, "  open <app[/act]>    Open a window for a guest app")
	fmt.Fprintln(w, "  close <app>         Close the window for a guest app")
	fmt.Fprintln(w, "  reload              Re-read the configuration file")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  config validate     Validate configuration")
	fmt.Fprintln(w, "  config print        Print configuration")
	fmt.Fprintln(w, "  config explain      Explain a config value")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  mcp serve           Start MCP server (stdio transport)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Run 'droidrelay <command> --help' for command-specific options.")
}

// parseFlags parses args into fs. It returns -1 to continue, or the exit
// code to return.
func parseFlags(fs *pflag.FlagSet, args []string) int {
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	return -1
}

func runStatus(args []string) int {
	fs := pflag.NewFlagSet("status", pflag.ContinueOnError)
	asJSON := fs.Bool("json", false, "Print status as JSON (default when stdout is not a terminal)")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: droidrelay status [--json]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Show daemon status via IPC.")
		fmt.Fprintln(os.Stderr, fs.FlagUsages())
	}
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "status takes no arguments")
		fs.Usage()
		return 2
	}

	status, err := ipc.NewClient().GetStatus()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if *asJSON || !term.IsTerminal(int(os.Stdout.Fd())) {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}
	printStatus(os.Stdout, status)
	return 0
}

func printStatus(w io.Writer, status *ipc.StatusData) {
	fmt.Fprintf(w, "daemon_running: %v\n", status.DaemonRunning)
	fmt.Fprintf(w, "uptime_seconds: %d\n", status.UptimeSeconds)
	fmt.Fprintf(w, "focused:        %v\n", status.Focused)
	fmt.Fprintf(w, "registry_size:  %d\n", status.RegistrySize)
	fmt.Fprintf(w, "active_touches: %d\n", status.ActiveTouches)
	fmt.Fprintf(w, "ticks:          %d\n", status.Ticks)

	fmt.Fprintln(w, "channels:")
	for _, ch := range status.Channels {
		state := "waiting"
		if ch.Connected {
			state = "connected"
		}
		if ch.State != "" {
			state += " (" + ch.State + ")"
		}
		fmt.Fprintf(w, "  %-7s %-22s %s\n", ch.Name, state, ch.Socket)
	}

	fmt.Fprintln(w, "windows:")
	for _, win := range status.Windows {
		var marks []string
		if win.Primary {
			marks = append(marks, "primary")
		}
		if win.Focused {
			marks = append(marks, "focused")
		}
		name := win.App
		if win.Activity != "" {
			name += "/" + win.Activity
		}
		fmt.Fprintf(w, "  0x%08x %s", win.WindowID, name)
		if len(marks) > 0 {
			fmt.Fprintf(w, " [%s]", strings.Join(marks, ","))
		}
		fmt.Fprintln(w)
	}
}

// runApp handles "open" and "close". The argument uses the guest's command
// syntax, "<app>[/<activity>]".
func runApp(verb string, args []string) int {
	fs := pflag.NewFlagSet(verb, pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: droidrelay %s <app>[/<activity>]\n", verb)
	}
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "%s requires exactly one app\n", verb)
		fs.Usage()
		return 2
	}

	ev, err := control.ParseAppCommand(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	client := ipc.NewClient()
	if verb == "close" {
		err = client.CloseApp(ev.App, ev.Activity)
	} else {
		err = client.OpenApp(ev.App, ev.Activity)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func runReload(args []string) int {
	fs := pflag.NewFlagSet("reload", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: droidrelay reload")
	}
	if code := parseFlags(fs, args); code >= 0 {
		return code
	}
	if err := ipc.NewClient().Reload(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println("config reloaded")
	return 0
}
