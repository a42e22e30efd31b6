package main

import (
	"flag"
	"fmt"
	"log/slog"

	"github.com/skein-dev/skein/internal/validation"
)

func cmdValidate(cfg Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	file := fs.String("f", "", "workflow definition file (YAML or JSON)")
	skipActions := fs.Bool("skip-actions", false, "skip action registration checks")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("validate requires -f <definition>")
	}

	def, err := loadDefinition(*file)
	if err != nil {
		return err
	}

	var lookup validation.ActionLookup
	if !*skipActions {
		reg, err := newRegistry(logger)
		if err != nil {
			return err
		}
		lookup = reg
	}

	wv, err := validation.NewWorkflowValidator(lookup)
	if err != nil {
		return err
	}

	result := wv.Validate(def)
	for _, w := range result.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	if !result.Valid() {
		for _, e := range result.Errors {
			fmt.Printf("error: %s\n", e)
		}
		return fmt.Errorf("%s: %d error(s)", *file, len(result.Errors))
	}

	fmt.Printf("%s: valid (%d nodes, %d connections)\n", *file, len(def.Nodes), len(def.Connections))
	return nil
}
