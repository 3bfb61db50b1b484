package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"gigescrow/services/escrowd/config"
	"gigescrow/services/escrowd/server"
)

// cliNow is swapped out by tests.
var cliNow = time.Now

func (c *cli) get(ctx context.Context, path string) error {
	return c.call(ctx, http.MethodGet, path, nil)
}

func (c *cli) call(ctx context.Context, method, path string, body any) error {
	data, err := c.client.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	return printJSON(c.stdout, data)
}

func (c *cli) token(args []string) error {
	fs := newFlagSet("token", c.stderr)
	secretValue := fs.String("secret", "", "HMAC secret (env "+config.JWTSecretEnv+")")
	subject := fs.String("sub", "", "address the token identifies")
	issuer := fs.String("iss", "", "issuer claim")
	audience := fs.String("aud", "", "audience claim")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key := strings.TrimSpace(*secretValue)
	if key == "" {
		key = envOr(config.JWTSecretEnv, "")
	}
	if key == "" {
		return errors.New("--secret or " + config.JWTSecretEnv + " is required")
	}
	sub, err := requireAddress("sub", *subject)
	if err != nil {
		return err
	}
	if *ttl <= 0 {
		return errors.New("--ttl must be positive")
	}
	signed, err := server.IssueToken(key, sub, *issuer, *audience, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, signed)
	return nil
}

func (c *cli) order(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("order requires a subcommand: create, get, start, approve, cancel, judge, reassign")
	}
	sub, args := args[0], args[1:]
	fs := newFlagSet("order "+sub, c.stderr)
	id := fs.String("id", "", "order id")
	switch sub {
	case "create":
		currency := fs.String("currency", "native", "payment currency address or native")
		title := fs.String("title", "", "order title")
		link := fs.String("link", "", "description link")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return c.call(ctx, http.MethodPost, "/v1/orders", map[string]string{
			"currency":        strings.TrimSpace(*currency),
			"title":           *title,
			"descriptionLink": *link,
		})
	case "get", "approve", "cancel":
		if err := fs.Parse(args); err != nil {
			return err
		}
		orderID, err := parseOrderID(*id)
		if err != nil {
			return err
		}
		if sub == "get" {
			return c.get(ctx, "/v1/orders/"+orderID)
		}
		return c.call(ctx, http.MethodPost, "/v1/orders/"+orderID+"/"+sub, nil)
	case "start":
		contractor := fs.String("contractor", "", "contractor address")
		price := fs.String("price", "", "order price in base units")
		deadline := fs.String("deadline", "", "deadline as +duration, RFC3339 or unix seconds")
		attached := fs.String("attached", "", "native amount sent with the call")
		if err := fs.Parse(args); err != nil {
			return err
		}
		orderID, err := parseOrderID(*id)
		if err != nil {
			return err
		}
		if _, err := requireAddress("contractor", *contractor); err != nil {
			return err
		}
		amount, err := parseAmount("price", *price, true)
		if err != nil {
			return err
		}
		due, err := parseDeadline(*deadline)
		if err != nil {
			return err
		}
		sent, err := parseAmount("attached", *attached, false)
		if err != nil {
			return err
		}
		return c.call(ctx, http.MethodPost, "/v1/orders/"+orderID+"/start", map[string]any{
			"contractor": strings.TrimSpace(*contractor),
			"deadline":   due,
			"price":      amount,
			"attached":   sent,
		})
	case "judge":
		contractorPct := fs.Uint64("contractor-percent", 0, "contractor share in basis points of 10000")
		customerPct := fs.Uint64("customer-percent", 0, "customer share in basis points of 10000")
		if err := fs.Parse(args); err != nil {
			return err
		}
		orderID, err := parseOrderID(*id)
		if err != nil {
			return err
		}
		return c.call(ctx, http.MethodPost, "/v1/orders/"+orderID+"/judge", map[string]uint64{
			"contractorPercent": *contractorPct,
			"customerPercent":   *customerPct,
		})
	case "reassign":
		contractor := fs.String("contractor", "", "new contractor address")
		if err := fs.Parse(args); err != nil {
			return err
		}
		orderID, err := parseOrderID(*id)
		if err != nil {
			return err
		}
		if _, err := requireAddress("contractor", *contractor); err != nil {
			return err
		}
		return c.call(ctx, http.MethodPut, "/v1/orders/"+orderID+"/contractor", map[string]string{
			"contractor": strings.TrimSpace(*contractor),
		})
	default:
		return fmt.Errorf("unknown order subcommand %q", sub)
	}
}

func (c *cli) partyOrders(ctx context.Context, args []string) error {
	fs := newFlagSet("orders", c.stderr)
	address := fs.String("address", "", "party address")
	role := fs.String("role", "customer", "customer or contractor")
	if err := fs.Parse(args); err != nil {
		return err
	}
	party, err := requireAddress("address", *address)
	if err != nil {
		return err
	}
	switch *role {
	case "customer", "contractor":
	default:
		return fmt.Errorf("--role must be customer or contractor")
	}
	query := url.Values{"role": {*role}}
	return c.get(ctx, "/v1/parties/"+party.Hex()+"/orders?"+query.Encode())
}

func (c *cli) tokens(ctx context.Context, args []string) error {
	sub := "list"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}
	fs := newFlagSet("tokens "+sub, c.stderr)
	currency := fs.String("currency", "", "token address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	switch sub {
	case "list":
		return c.get(ctx, "/v1/tokens")
	case "add":
		token, err := requireAddress("currency", *currency)
		if err != nil {
			return err
		}
		return c.call(ctx, http.MethodPost, "/v1/admin/tokens", map[string]string{"currency": token.Hex()})
	case "remove":
		token, err := requireAddress("currency", *currency)
		if err != nil {
			return err
		}
		return c.call(ctx, http.MethodDelete, "/v1/admin/tokens/"+token.Hex(), nil)
	default:
		return fmt.Errorf("unknown tokens subcommand %q", sub)
	}
}

func (c *cli) fee(ctx context.Context, args []string) error {
	sub := "get"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}
	fs := newFlagSet("fee "+sub, c.stderr)
	switch sub {
	case "get":
		if err := fs.Parse(args); err != nil {
			return err
		}
		return c.get(ctx, "/v1/fee")
	case "set-percent":
		percent := fs.Uint64("percent", 0, "fee in basis points of 10000")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return c.call(ctx, http.MethodPut, "/v1/admin/fee/percent", map[string]uint64{"percent": *percent})
	case "set-receiver":
		receiver := fs.String("receiver", "", "fee receiver address")
		if err := fs.Parse(args); err != nil {
			return err
		}
		addr, err := requireAddress("receiver", *receiver)
		if err != nil {
			return err
		}
		return c.call(ctx, http.MethodPut, "/v1/admin/fee/receiver", map[string]string{"receiver": addr.Hex()})
	default:
		return fmt.Errorf("unknown fee subcommand %q", sub)
	}
}

func (c *cli) withdraw(ctx context.Context, args []string) error {
	fs := newFlagSet("withdraw", c.stderr)
	currency := fs.String("currency", "native", "currency address or native")
	to := fs.String("to", "", "recipient address")
	amount := fs.String("amount", "", "amount in base units")
	if err := fs.Parse(args); err != nil {
		return err
	}
	recipient, err := requireAddress("to", *to)
	if err != nil {
		return err
	}
	value, err := parseAmount("amount", *amount, true)
	if err != nil {
		return err
	}
	return c.call(ctx, http.MethodPost, "/v1/admin/withdraw", map[string]string{
		"currency": strings.TrimSpace(*currency),
		"to":       recipient.Hex(),
		"amount":   value,
	})
}

func (c *cli) role(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("role requires a subcommand: list, grant, revoke")
	}
	sub, args := args[0], args[1:]
	fs := newFlagSet("role "+sub, c.stderr)
	role := fs.String("role", "", "admin or adjudicator")
	identity := fs.String("address", "", "member address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	name := strings.ToLower(strings.TrimSpace(*role))
	if name != "admin" && name != "adjudicator" {
		return errors.New("--role must be admin or adjudicator")
	}
	switch sub {
	case "list":
		return c.get(ctx, "/v1/admin/roles/"+name)
	case "grant":
		addr, err := requireAddress("address", *identity)
		if err != nil {
			return err
		}
		return c.call(ctx, http.MethodPost, "/v1/admin/roles/"+name, map[string]string{"identity": addr.Hex()})
	case "revoke":
		addr, err := requireAddress("address", *identity)
		if err != nil {
			return err
		}
		return c.call(ctx, http.MethodDelete, "/v1/admin/roles/"+name+"/"+addr.Hex(), nil)
	default:
		return fmt.Errorf("unknown role subcommand %q", sub)
	}
}

func (c *cli) ledger(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("ledger requires a subcommand: balance, credit, approve, block, unblock")
	}
	sub, args := args[0], args[1:]
	fs := newFlagSet("ledger "+sub, c.stderr)
	currency := fs.String("currency", "native", "currency address or native")
	account := fs.String("account", "", "account address")
	amount := fs.String("amount", "", "amount in base units")
	if err := fs.Parse(args); err != nil {
		return err
	}
	switch sub {
	case "balance":
		addr, err := requireAddress("account", *account)
		if err != nil {
			return err
		}
		return c.get(ctx, "/v1/ledger/"+url.PathEscape(strings.TrimSpace(*currency))+"/"+addr.Hex())
	case "credit":
		addr, err := requireAddress("account", *account)
		if err != nil {
			return err
		}
		value, err := parseAmount("amount", *amount, true)
		if err != nil {
			return err
		}
		return c.call(ctx, http.MethodPost, "/v1/ledger/credit", map[string]string{
			"currency": strings.TrimSpace(*currency),
			"account":  addr.Hex(),
			"amount":   value,
		})
	case "approve":
		value, err := parseAmount("amount", *amount, false)
		if err != nil {
			return err
		}
		return c.call(ctx, http.MethodPost, "/v1/ledger/approve", map[string]string{
			"currency": strings.TrimSpace(*currency),
			"amount":   value,
		})
	case "block", "unblock":
		addr, err := requireAddress("account", *account)
		if err != nil {
			return err
		}
		return c.call(ctx, http.MethodPost, "/v1/ledger/blocked", map[string]any{
			"account": addr.Hex(),
			"blocked": sub == "block",
		})
	default:
		return fmt.Errorf("unknown ledger subcommand %q", sub)
	}
}

func (c *cli) custody(ctx context.Context, args []string) error {
	fs := newFlagSet("custody", c.stderr)
	currency := fs.String("currency", "native", "currency address or native")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return c.get(ctx, "/v1/custody/"+url.PathEscape(strings.TrimSpace(*currency)))
}

func (c *cli) events(ctx context.Context, args []string) error {
	fs := newFlagSet("events", c.stderr)
	after := fs.Uint64("after", 0, "return records with a sequence above this cursor")
	limit := fs.Int("limit", 100, "maximum records to return")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("--limit must be positive")
	}
	query := url.Values{
		"after": {strconv.FormatUint(*after, 10)},
		"limit": {strconv.Itoa(*limit)},
	}
	return c.get(ctx, "/v1/events?"+query.Encode())
}

func requireAddress(name, value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return common.Address{}, fmt.Errorf("--%s is required", name)
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("--%s must be a hex address", name)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("--%s must not be the zero address", name)
	}
	return addr, nil
}

func parseOrderID(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", errors.New("--id is required")
	}
	id, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil || id == 0 {
		return "", errors.New("--id must be a positive integer")
	}
	return strconv.FormatUint(id, 10), nil
}

// parseAmount accepts a base-unit integer with optional underscores.
func parseAmount(name, value string, required bool) (string, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		if required {
			return "", fmt.Errorf("--%s is required", name)
		}
		return "0", nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return "", fmt.Errorf("--%s must be an integer", name)
	}
	if amount.Sign() < 0 {
		return "", fmt.Errorf("--%s must not be negative", name)
	}
	return amount.String(), nil
}

// parseDeadline resolves +duration (with a d suffix for days), RFC3339 or
// unix seconds into a unix timestamp.
func parseDeadline(value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, errors.New("--deadline is required")
	}
	if strings.HasPrefix(trimmed, "+") {
		dur, err := parseDeadlineDuration(strings.TrimPrefix(trimmed, "+"))
		if err != nil {
			return 0, err
		}
		if dur <= 0 {
			return 0, errors.New("--deadline must be in the future")
		}
		return cliNow().Add(dur).Unix(), nil
	}
	if ts, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return ts.Unix(), nil
	}
	unix, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, errors.New("invalid --deadline")
	}
	return unix, nil
}

func parseDeadlineDuration(value string) (time.Duration, error) {
	if strings.HasSuffix(value, "d") || strings.HasSuffix(value, "D") {
		daysStr := strings.TrimSuffix(strings.TrimSuffix(value, "d"), "D")
		days, err := strconv.ParseFloat(daysStr, 64)
		if daysStr == "" || err != nil {
			return 0, errors.New("invalid deadline duration")
		}
		return time.Duration(days * 24 * float64(time.Hour)), nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.New("invalid deadline duration")
	}
	return dur, nil
}
