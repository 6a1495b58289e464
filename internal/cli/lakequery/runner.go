// Package lakequery implements the CLI behind cmd/lakequery: load
// configuration from the environment, build the credential chain and the
// statement client, run one query, print the result.
package lakequery

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lakequery/lakequery/auth"
	"github.com/lakequery/lakequery/internal/config"
	"github.com/lakequery/lakequery/internal/observability"
	"github.com/lakequery/lakequery/statement"
)

type Options struct {
	Lookup    config.LookupFunc
	Transport statement.Transport
	Identity  auth.IdentityTokenSource
	Secrets   auth.SecretClient
	Stdout    io.Writer
	Stderr    io.Writer
}

func Run(ctx context.Context, args []string, opts Options) int {
	stdout := opts.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	fs := flag.NewFlagSet("lakequery", flag.ContinueOnError)
	fs.SetOutput(stderr)
	rowLimit := fs.Int("row-limit", -1, "Maximum rows to return (0 = unlimited, -1 = use config)")
	timeout := fs.Duration("timeout", 0, "Overall timeout for the statement (e.g. 5m); 0 waits indefinitely")
	raw := fs.Bool("raw", false, "Print the raw terminal response as JSON")
	params := fs.String("params", "", "Named statement parameters as k=v pairs, comma separated")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, "usage: lakequery [flags] <sql>")
		fs.PrintDefaults()
		return 2
	}
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))

	cfg, err := config.Load("lakequery", lookup)
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return 2
	}
	if *rowLimit >= 0 {
		cfg.Warehouse.RowLimit = *rowLimit
	}

	logger := observability.NewLogger(cfg, stderr)

	identity := opts.Identity
	if identity == nil && cfg.Auth.ManagedIdentity {
		identity = auth.NewAzureIMDSTokenSource()
	}
	resolver, err := auth.NewResolver(auth.ResolverConfig{
		Endpoint:    cfg.Warehouse.Endpoint,
		WarehouseID: cfg.Warehouse.WarehouseID,
		Logger:      logger,
	}, auth.Chain(auth.ChainConfig{
		ManagedIdentity: cfg.Auth.ManagedIdentity,
		Identity:        identity,
		SecretStoreAddr: cfg.Auth.SecretStoreAddr,
		SecretName:      cfg.Auth.SecretName,
		Secrets:         opts.Secrets,
		StaticToken:     cfg.Auth.StaticToken,
	})...)
	if err != nil {
		fmt.Fprintf(stderr, "auth error: %v\n", err)
		return 2
	}

	transport := opts.Transport
	if transport == nil {
		transport = statement.NewHTTPTransport(cfg.Warehouse.HTTPTimeout)
	}
	client, err := statement.New(statement.Config{
		Endpoint:         resolver.Endpoint(),
		WarehouseID:      resolver.WarehouseID(),
		Auth:             resolver,
		Transport:        transport,
		PollInterval:     cfg.Warehouse.PollInterval,
		StatementTimeout: cfg.Warehouse.StatementTimeout,
		RowLimit:         cfg.Warehouse.RowLimit,
		Disposition:      cfg.Warehouse.Disposition,
		Logger:           logger,
	})
	if err != nil {
		fmt.Fprintf(stderr, "client error: %v\n", err)
		return 2
	}

	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	boundParams, err := parseParams(*params)
	if err != nil {
		fmt.Fprintf(stderr, "invalid -params: %v\n", err)
		return 2
	}

	resp, err := client.ExecuteRaw(ctx, query, boundParams)
	if err != nil {
		fmt.Fprintf(stderr, "execution error: %v\n", err)
		return 1
	}

	if *raw {
		encoder := json.NewEncoder(stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(resp); err != nil {
			fmt.Fprintf(stderr, "encode response: %v\n", err)
			return 1
		}
		return 0
	}

	if resp.State != statement.StateSucceeded {
		fmt.Fprintf(stderr, "statement %s finished in state %s: %s (code %s)\n",
			resp.StatementID, resp.State, resp.ErrorMessage, resp.ErrorCode)
		return 1
	}
	return printRows(stdout, stderr, resp)
}

func printRows(stdout, stderr io.Writer, resp *statement.Response) int {
	if resp.Result == nil {
		return 0
	}
	columns := resp.Result.ColumnNames()
	encoder := json.NewEncoder(stdout)
	for _, row := range resp.Result.Rows {
		record := make(map[string]any, len(columns))
		for i, name := range columns {
			if i < len(row) {
				record[name] = row[i]
			}
		}
		if err := encoder.Encode(record); err != nil {
			fmt.Fprintf(stderr, "encode row: %v\n", err)
			return 1
		}
	}
	for _, link := range resp.Result.ExternalLinks {
		fmt.Fprintf(stderr, "external result chunk: %s (%d bytes, expires %s)\n",
			link.FilePath, link.FileSize, link.ExpirationTime)
	}
	return 0
}

func parseParams(spec string) (map[string]string, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	params := map[string]string{}
	for _, pair := range strings.Split(spec, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("expected k=v, got %q", pair)
		}
		params[strings.TrimSpace(key)] = value
	}
	return params, nil
}
