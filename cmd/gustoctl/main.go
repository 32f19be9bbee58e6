package main

import (
	"fmt"
	"io"
	"os"
)

var version = "dev"

// stdout is where commands print results; tests replace it.
var stdout io.Writer = os.Stdout

var commands = map[string]func([]string) error{
	"exec":            runExec,
	"companies":       runCompanies,
	"schema":          runSchema,
	"auth-url":        runAuthURL,
	"exchange":        runExchange,
	"test-credential": runTestCredential,
	"validate":        runValidate,
}

func usage() {
	fmt.Fprintf(os.Stderr, `gustoctl - Gusto workflow CLI (version %s)

Usage:
  gustoctl <command> [options]

Commands:
  exec             Run a pipeline once with JSON trigger data
  companies        List the companies a credential can access
  schema           Print module, step and trigger schemas as JSON
  auth-url         Print the OAuth2 consent URL of a credential
  exchange         Trade an authorization code for a token
  test-credential  Call GET /v1/me with a credential
  validate         Validate a workflow configuration file

Run 'gustoctl <command> -h' for command-specific help.
`, version)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		usage()
		os.Exit(0)
	}
	if cmd == "-v" || cmd == "--version" || cmd == "version" {
		fmt.Println(version)
		os.Exit(0)
	}

	fn, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
	if err := fn(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
