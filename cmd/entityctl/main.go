// entityctl inspects and provisions entity tables on any supported backend.
//
// # Commands
//
//	entityctl migrate   Create tables (and Postgres functions) on the backend
//	entityctl tables    List the tables of the schema and their methods
//	entityctl load      Print one row
//	entityctl scan      Print matching rows
//	entityctl remove    Remove one row
//
// # Configuration
//
// entityctl reads entityctl.yaml from the current directory or the closest
// parent directory that has one, or the file given with -config:
//
//	service: auth
//	schema: ./schema.yaml
//	backend:
//	  kind: postgres
//	  postgres:
//	    url: postgres://localhost/entities
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]
	logger := log.New(os.Stderr, "entityctl: ", log.LstdFlags)
	ctx := context.Background()

	var err error
	switch cmd {
	case "migrate":
		err = runMigrate(ctx, args, os.Stdout, logger)
	case "tables":
		err = runTables(ctx, args, os.Stdout, logger)
	case "load", "get":
		err = runLoad(ctx, args, os.Stdout, logger)
	case "scan":
		err = runScan(ctx, args, os.Stdout, logger)
	case "remove", "rm":
		err = runRemove(ctx, args, os.Stdout, logger)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return
	case "version", "-v", "--version":
		fmt.Printf("entityctl version %s\n", version)
		return
	default:
		fmt.Fprintf(os.Stderr, "entityctl: unknown command %q\n\n", cmd)
		printUsage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "entityctl %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `entityctl - entity table tooling

Usage:
  entityctl <command> [flags]

Commands:
  migrate   Create tables on the configured backend
  tables    List tables, owning services and methods
  load      Print one row as JSON
  scan      Print matching rows as JSON lines
  remove    Remove one row (only tables of the configured service)

Examples:
  entityctl migrate
  entityctl load -table secrets_entities -pk my-secret -rk secret
  entityctl scan -table wm_workers_entities -where 'state=running' -limit 20 -page 2

Configuration (optional):
  Create %s, searched from the current directory upwards:

    service: worker-manager
    backend:
      kind: badger        # one of %v
      badger:
        path: ./data

Run 'entityctl <command> -h' for more information on a command.
`, configFileName, backendKinds())
}
