package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
)

type command interface {
	Name() string
	Init([]string) error
	Run(context.Context) error
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("oploader: ")

	cmds := []command{
		newEnvCommand(),
		newCacheCommand(),
		newTemplateCommand(),
		newVarsCommand(),
		newConfigCommand(),
		newTokenCommand(),
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	subcommand := os.Args[1]
	if subcommand == "-h" || subcommand == "--help" || subcommand == "help" {
		printUsage()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, cmd := range cmds {
		if cmd.Name() == subcommand {
			if err := cmd.Init(os.Args[2:]); err != nil {
				stop()
				log.Fatalf("Failed to initialize %s: %v", cmd.Name(), err)
			}
			if err := cmd.Run(ctx); err != nil {
				stop()
				log.Fatalf("%s failed:\n%v", cmd.Name(), err)
			}
			return
		}
	}

	fmt.Fprintf(os.Stderr, "Unknown command: %s\n", subcommand)
	printUsage()
	os.Exit(1)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: oploader <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Available commands:\n")
	fmt.Fprintf(os.Stderr, "  env       Print export statements for managed variables\n")
	fmt.Fprintf(os.Stderr, "  cache     Inspect or clear the encrypted secret cache\n")
	fmt.Fprintf(os.Stderr, "  template  Manage and render templated files\n")
	fmt.Fprintf(os.Stderr, "  vars      Map environment variables to 1Password references\n")
	fmt.Fprintf(os.Stderr, "  config    Read and change settings\n")
	fmt.Fprintf(os.Stderr, "  token     Manage the 1Password service account token\n\n")
	fmt.Fprintf(os.Stderr, "Use 'oploader <command> -h' for command-specific help\n")
}
