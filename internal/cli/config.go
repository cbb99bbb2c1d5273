// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/jeranaias/modelgate/internal/config"
)

// HandleConfig handles the "config" command and its subcommands.
func HandleConfig(args Args, w io.Writer) error {
	p := NewArgParser(args.Raw)

	switch args.Subcommand {
	case "", "show":
		return configShow(args, w)
	case "init":
		return configInit(args, p, w)
	case "path":
		return configPath(args, w)
	case "validate", "check":
		return configValidate(args, w)
	default:
		return usageErrorf("unknown config subcommand %q (want show, init, path or validate)", args.Subcommand)
	}
}

func configShow(args Args, w io.Writer) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	if args.JSON {
		return NewJSONResponse("config show", map[string]string{"toml": cfg.String()}).Print(w)
	}
	fmt.Fprint(w, cfg.String())
	return nil
}

// configInit writes the default configuration. It refuses to overwrite an
// existing file without --force.
func configInit(args Args, p *ArgParser, w io.Writer) error {
	path := p.Flag("path")
	if path == "" {
		path = p.Positional(1)
	}
	if path == "" {
		path = args.ConfigPath
	}
	if path == "" {
		var err error
		if path, err = config.ConfigPath(); err != nil {
			return err
		}
	}

	if _, err := os.Stat(path); err == nil && !p.BoolFlag("force") {
		return usageErrorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if err := config.SaveTOML(config.Default(), path); err != nil {
		return err
	}

	if args.JSON {
		return NewJSONResponse("config init", map[string]string{"path": path}).Print(w)
	}
	fmt.Fprintf(w, "%s Wrote %s\n", SuccessStyle.Render("[OK]"), path)
	fmt.Fprintln(w, DimStyle.Render("Set provider keys in the environment (see api_key_env), then run 'modelgate serve'."))
	return nil
}

func configPath(args Args, w io.Writer) error {
	path := args.ConfigPath
	if path == "" {
		var err error
		if path, err = config.ConfigPath(); err != nil {
			return err
		}
	}
	if args.JSON {
		return NewJSONResponse("config path", map[string]string{"path": path}).Print(w)
	}
	fmt.Fprintln(w, path)
	return nil
}

func configValidate(args Args, w io.Writer) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	if args.JSON {
		return NewJSONResponse("config validate", map[string]any{
			"valid":     true,
			"providers": len(cfg.Providers),
			"models":    len(cfg.Models),
		}).Print(w)
	}
	fmt.Fprintf(w, "%s Configuration is valid (%d providers, %d models)\n",
		SuccessStyle.Render("[OK]"), len(cfg.Providers), len(cfg.Models))
	return nil
}
