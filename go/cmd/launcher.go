package cmd

import (
	"fmt"
	"os"
)

// Subcommands register themselves from init in their own packages and
// Main dispatches on os.Args[1].
type subcommand struct {
	name string
	desc string
	run  func(args []string)
}

var subcommands []*subcommand

func Register(name, desc string, run func(args []string)) {
	subcommands = append(subcommands, &subcommand{name, desc, run})
}

func lookup(name string) *subcommand {
	for _, sc := range subcommands {
		if sc.name == name {
			return sc
		}
	}
	return nil
}

func usage() {
	w := 0
	for _, sc := range subcommands {
		if len(sc.name) > w {
			w = len(sc.name)
		}
	}
	fmt.Fprintln(os.Stderr, "Commands:")
	for _, sc := range subcommands {
		fmt.Fprintf(os.Stderr, "  %-*s  %s\n", w, sc.name, sc.desc)
	}
	fmt.Fprintf(os.Stderr, "\nExample: %s run -v init.img\n", os.Args[0])
}

func Main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	sc := lookup(os.Args[1])
	if sc == nil {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
	// argv[0] becomes "<binary> <command>" so flag errors name both
	sc.run(append([]string{os.Args[0] + " " + sc.name}, os.Args[2:]...))
}
