package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/VetCoders/ScreenScribe-sub000/internal/config"
	"github.com/VetCoders/ScreenScribe-sub000/internal/keywords"
)

func newConfigCmd() *cobra.Command {
	var (
		show         bool
		initConfig   bool
		initKeywords bool
		setKey       string
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or modify the screenscribe configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch {
			case initConfig:
				return runConfigInit(cmd)
			case initKeywords:
				return runKeywordsInit(cmd)
			case setKey != "":
				return runSetKey(setKey)
			default:
				if !show {
					printDefaultHint(cmd)
				}
				return runConfigShow(cmd)
			}
		},
	}

	fl := cmd.Flags()
	fl.BoolVar(&show, "show", false, "print the resolved configuration")
	fl.BoolVar(&initConfig, "init", false, "write a default config file")
	fl.BoolVar(&initKeywords, "init-keywords", false, "write the default keyword patterns to ./keywords.yaml")
	fl.StringVar(&setKey, "set-key", "", "set a config value, e.g. --set-key llm.model=gpt-4.1")

	return cmd
}

// configPath is where --init and --set-key write: the --config flag
// wins, then an existing discovered file, then the XDG config home.
func configPath() string {
	if configFile != "" {
		return configFile
	}
	if path := config.Discover(); path != "" {
		return path
	}
	return config.DefaultPath()
}

func runConfigShow(cmd *cobra.Command) error {
	path := configFile
	if path == "" {
		path = config.Discover()
	}

	var cfg *config.Config
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", path)
	} else {
		cfg = config.Default()
		fmt.Fprintln(cmd.OutOrStdout(), "# no config file found, showing defaults")
	}
	cfg.Resolve()

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func runConfigInit(cmd *cobra.Command) error {
	path := configPath()
	if err := config.Init(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}

func runKeywordsInit(cmd *cobra.Command) error {
	const path = "keywords.yaml"
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", path)
	}
	if err := os.WriteFile(path, keywords.DefaultYAML(), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s; edit it and pass --keywords-file %s\n", path, path)
	return nil
}

func runSetKey(kv string) error {
	key, value, ok := strings.Cut(kv, "=")
	if !ok {
		return errors.New(`--set-key expects KEY=VALUE, e.g. llm.model=gpt-4.1`)
	}
	return config.SetKey(configPath(), strings.TrimSpace(key), strings.TrimSpace(value))
}

func printDefaultHint(cmd *cobra.Command) {
	fmt.Fprintln(cmd.ErrOrStderr(), "no action given, showing configuration (see --help)")
}
