package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
)

func cmdActions(cfg Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("actions", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	reg, err := newRegistry(logger)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, info := range reg.List() {
		fmt.Fprintf(w, "%s\t%s\n", info.Name, info.Description)
	}
	return w.Flush()
}
