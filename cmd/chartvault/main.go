// Command chartvault is the client CLI: it manages the local key pair and
// creates, shares and opens encrypted records on a ledger.
//
// Private keys are protected with the passphrase in CHARTVAULT_PASSPHRASE;
// an empty passphrase stores the key unprotected.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const usage = `Usage: chartvault [-config file] <command> [flags]

Key commands:
  keygen       generate and store a key pair for an account
  publish      publish the account's public key to the ledger
  pubkey       print the stored public key
  keydelete    delete the stored key (irreversible)

Record commands:
  create       encrypt a record and submit it
  delete       delete a record and all of its grants
  open         decrypt a record the account can access
  info         show the public view of a record
  grants       list the active grants of a record
  records      list the records owned by an account
  grant        grant an account access to a record
  revoke       revoke one grant
  revoke-all   revoke every non-owner grant of a record
  scope        change the scope of a grant
  privacy      switch a record between Authorized, Private and Public
  access       report whether an account can read a record

Provider commands:
  provider register|activate|deactivate|unregister|rate|show|list|grants
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "chartvault: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("chartvault", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", os.Getenv("CHARTVAULT_CONFIG"), "Path to YAML config file")
	verbose := global.Bool("verbose", false, "Enable debug logging")
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return fmt.Errorf("no command given")
	}

	name, rest := global.Arg(0), global.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		global.Usage()
		return fmt.Errorf("unknown command %q", name)
	}

	a, err := newApp(ctx, *configPath, *verbose, stdout, stderr)
	if err != nil {
		return err
	}
	defer a.Close()
	return cmd(ctx, a, rest)
}
