package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

const (
	endpointEnv     = "ESCROW_ENDPOINT"
	tokenEnv        = "ESCROW_TOKEN"
	defaultEndpoint = "http://127.0.0.1:7081"
)

const usageText = `Usage: escrow-cli [global flags] <command> [flags]

Global flags:
  -endpoint string          escrowd base URL (env ESCROW_ENDPOINT)
  -idempotency-key string   replay-safe key attached to mutating requests

Commands:
  token                     mint a bearer token from the shared secret
  status                    show service state and the caller's roles
  order <create|get|start|approve|cancel|judge|reassign>
  orders                    list orders for a party
  tokens <list|add|remove>  manage the payment currency allowlist
  fee <get|set-percent|set-receiver>
  withdraw                  emergency withdrawal from custody
  pause | resume            toggle the circuit breaker
  role <list|grant|revoke>  manage admin and adjudicator roles
  ledger <balance|credit|approve|block|unblock>
  custody                   compare custody holdings with obligations
  events                    page through the event journal
  watch                     follow the event journal over a websocket
`

type cli struct {
	client *apiClient
	stdout io.Writer
	stderr io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("escrow-cli", stderr)
	endpoint := fs.String("endpoint", envOr(endpointEnv, defaultEndpoint), "escrowd base URL")
	idempotencyKey := fs.String("idempotency-key", "", "idempotency key for mutating requests")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprint(stdout, usageText)
			return 0
		}
		return 1
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprint(stderr, usageText)
		return 1
	}
	c := &cli{
		client: newAPIClient(*endpoint, *idempotencyKey),
		stdout: stdout,
		stderr: stderr,
	}
	if err := c.dispatch(ctx, rest[0], rest[1:]); err != nil {
		printError(stderr, err)
		return 1
	}
	return 0
}

func (c *cli) dispatch(ctx context.Context, command string, args []string) error {
	switch command {
	case "token":
		return c.token(args)
	case "status":
		return c.get(ctx, "/v1/status")
	case "order":
		return c.order(ctx, args)
	case "orders":
		return c.partyOrders(ctx, args)
	case "tokens":
		return c.tokens(ctx, args)
	case "fee":
		return c.fee(ctx, args)
	case "withdraw":
		return c.withdraw(ctx, args)
	case "pause":
		return c.call(ctx, "POST", "/v1/admin/pause", nil)
	case "resume":
		return c.call(ctx, "POST", "/v1/admin/resume", nil)
	case "role":
		return c.role(ctx, args)
	case "ledger":
		return c.ledger(ctx, args)
	case "custody":
		return c.custody(ctx, args)
	case "events":
		return c.events(ctx, args)
	case "watch":
		return c.watch(ctx, args)
	case "help", "-h", "--help":
		fmt.Fprint(c.stdout, usageText)
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func newFlagSet(name string, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	return fs
}

func printError(w io.Writer, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(w, "Error: %s\n", err.Error())
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
