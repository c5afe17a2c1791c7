package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/1broseidon/droidrelay/internal/config"
)

func loadConfigResult(path string) (*config.LoadResult, error) {
	if path == "" {
		return config.LoadWithSources()
	}
	return config.LoadFromPath(path)
}

const configUsage = `Usage:
  droidrelay config validate [--path PATH]
  droidrelay config print [--path PATH] [--defaults]
  droidrelay config explain [--path PATH] <yaml.path>`

func runConfig(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, configUsage)
		return 2
	}

	fs := pflag.NewFlagSet("config "+args[0], pflag.ContinueOnError)
	path := fs.String("path", "", "Config file path (default: ~/.config/droidrelay/config.yaml)")
	defaults := false

	var run func() error
	switch args[0] {
	case "validate":
		run = func() error { return configValidate(os.Stdout, *path) }
	case "print":
		fs.BoolVar(&defaults, "defaults", false, "Print built-in defaults (no files)")
		run = func() error { return configPrint(os.Stdout, *path, defaults) }
	case "explain":
		run = func() error {
			if fs.NArg() != 1 {
				return errors.New("explain requires exactly one <yaml.path>")
			}
			return configExplain(os.Stdout, *path, fs.Arg(0))
		}
	case "help", "-h", "--help":
		fmt.Fprintln(os.Stdout, configUsage)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config subcommand: %s\n", args[0])
		return 2
	}

	if code := parseFlags(fs, args[1:]); code >= 0 {
		return code
	}
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func configValidate(w io.Writer, path string) error {
	res, err := loadConfigResult(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "config: ok (%d file(s))\n", len(res.Files))
	return nil
}

func configPrint(w io.Writer, path string, defaults bool) error {
	cfg := config.DefaultConfig()
	if !defaults {
		res, err := loadConfigResult(path)
		if err != nil {
			return err
		}
		for _, f := range res.Files {
			fmt.Fprintf(w, "# file: %s\n", f)
		}
		cfg = res.Config
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

func configExplain(w io.Writer, path, key string) error {
	res, err := loadConfigResult(path)
	if err != nil {
		return err
	}
	value, src, err := config.Explain(res, key)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(value)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "path: %s\nsource: %s\nvalue:\n%s", key, formatSource(src), out)
	return nil
}

func formatSource(src config.Source) string {
	switch src.Kind {
	case config.SourceFile:
		if src.File == "" {
			return "file"
		}
		if src.Line > 0 {
			return fmt.Sprintf("file:%s:%d:%d", src.File, src.Line, src.Column)
		}
		return "file:" + src.File
	case config.SourceDefault:
		if src.Name != "" {
			return "default:" + src.Name
		}
		return "default"
	default:
		return string(src.Kind)
	}
}
