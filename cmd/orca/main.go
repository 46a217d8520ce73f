// Command orca is the checkout decision engine CLI and server.
//
// Subcommands operate on raw decision requests (decide) or AP2 contract
// files (decide-file, decide-stdin, validate, explain); serve exposes
// the engine over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ocn-ai/orca/pkg/config"
	"github.com/ocn-ai/orca/pkg/contracts"
	"github.com/ocn-ai/orca/pkg/engine"
	"github.com/ocn-ai/orca/pkg/schema"
)

const usage = `usage: orca <command> [options]

commands:
  decide <json>          decide a raw request given as a JSON argument
  decide-file <path>     decide from an AP2 contract file
  decide-stdin           decide from an AP2 contract on stdin
  validate <path>        schema-validate an AP2 contract file
  create-sample <path>   write a skeleton AP2 contract
  explain <path>         print the deterministic narrative for a contract
  serve                  run the HTTP decision endpoint
`

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches subcommands; exit codes are 0 success, 1 validation or
// logic failure, 2 usage.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	switch args[1] {
	case "decide":
		return runDecide(args[2:], stdout, stderr)
	case "decide-file":
		return runDecideFile(args[2:], stdout, stderr)
	case "decide-stdin":
		return runDecideStdin(os.Stdin, stdout, stderr)
	case "validate":
		return runValidate(args[2:], stdout, stderr)
	case "create-sample":
		return runCreateSample(args[2:], stdout, stderr)
	case "explain":
		return runExplain(args[2:], stdout, stderr)
	case "serve":
		return runServe(args[2:], stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "orca: unknown command %q\n", args[1])
		fmt.Fprint(stderr, usage)
		return 2
	}
}

func newEngine(stderr io.Writer) (*engine.Engine, error) {
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return engine.New(config.Load(), engine.WithLogger(logger))
}

func runDecide(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: orca decide <json>")
		return 2
	}
	req, err := parseRequest([]byte(args[0]))
	if err != nil {
		fmt.Fprintf(stderr, "orca: %v\n", err)
		return 1
	}
	return decideAndPrint(req, stdout, stderr, false)
}

func runDecideFile(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("decide-file", flag.ContinueOnError)
	fs.SetOutput(stderr)
	output := fs.String("output", "", "write the resulting contract to this path instead of stdout")
	legacy := fs.Bool("legacy-json", false, "emit the internal decision response instead of the contract")
	withExplain := fs.Bool("explain", false, "also print the narrative to stderr")
	validateOnly := fs.Bool("validate-only", false, "validate the input contract and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: orca decide-file <path> [--output <path>] [--legacy-json] [--explain] [--validate-only]")
		return 2
	}

	raw, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "orca: %v\n", err)
		return 1
	}
	if *validateOnly {
		return validateContract(raw, stdout, stderr)
	}

	req, err := requestFromContractJSON(raw)
	if err != nil {
		fmt.Fprintf(stderr, "orca: %v\n", err)
		return 1
	}

	e, err := newEngine(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "orca: %v\n", err)
		return 1
	}
	resp, contract, err := e.Decide(context.Background(), req)
	if err != nil {
		fmt.Fprintf(stderr, "orca: %v\n", err)
		return 1
	}
	e.Drain()

	if *withExplain {
		fmt.Fprintln(stderr, resp.Explanation)
	}

	var out any = contract
	if *legacy {
		out = resp
	}
	rendered, err := marshalIndent(out)
	if err != nil {
		fmt.Fprintf(stderr, "orca: %v\n", err)
		return 1
	}
	if *output != "" {
		if err := os.WriteFile(*output, rendered, 0o644); err != nil {
			fmt.Fprintf(stderr, "orca: %v\n", err)
			return 1
		}
		return 0
	}
	fmt.Fprintln(stdout, string(rendered))
	return 0
}

func runDecideStdin(stdin io.Reader, stdout, stderr io.Writer) int {
	raw, err := io.ReadAll(stdin)
	if err != nil {
		fmt.Fprintf(stderr, "orca: %v\n", err)
		return 1
	}
	req, err := requestFromContractJSON(raw)
	if err != nil {
		fmt.Fprintf(stderr, "orca: %v\n", err)
		return 1
	}
	return decideAndPrint(req, stdout, stderr, false)
}

func decideAndPrint(req *contracts.DecisionRequest, stdout, stderr io.Writer, legacy bool) int {
	e, err := newEngine(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "orca: %v\n", err)
		return 1
	}
	resp, contract, err := e.Decide(context.Background(), req)
	if err != nil {
		fmt.Fprintf(stderr, "orca: %v\n", err)
		return 1
	}
	e.Drain()

	var out any = contract
	if legacy {
		out = resp
	}
	rendered, err := marshalIndent(out)
	if err != nil {
		fmt.Fprintf(stderr, "orca: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, string(rendered))
	return 0
}

func runValidate(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: orca validate <path>")
		return 2
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "orca: %v\n", err)
		return 1
	}
	return validateContract(raw, stdout, stderr)
}

func validateContract(raw []byte, stdout, stderr io.Writer) int {
	v := schema.New()
	if errs := v.ValidateMandate("ap2_contract", raw); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(stderr, "invalid: %s\n", e.Error())
		}
		return 1
	}
	fmt.Fprintln(stdout, "valid")
	return 0
}

func runCreateSample(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("create-sample", flag.ContinueOnError)
	fs.SetOutput(stderr)
	amount := fs.Float64("amount", 120.50, "cart total")
	currency := fs.String("currency", "USD", "ISO currency code")
	channel := fs.String("channel", "web", "checkout channel: web or pos")
	modality := fs.String("modality", "immediate", "payment modality: immediate or deferred")
	country := fs.String("country", "US", "billing country")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: orca create-sample <path> [--amount N] [--currency C] [--channel web|pos] [--modality immediate|deferred] [--country XX]")
		return 2
	}

	contract, err := sampleContract(*amount, *currency, *channel, *modality, *country)
	if err != nil {
		fmt.Fprintf(stderr, "orca: %v\n", err)
		return 2
	}
	rendered, err := marshalIndent(contract)
	if err != nil {
		fmt.Fprintf(stderr, "orca: %v\n", err)
		return 1
	}
	if err := os.WriteFile(fs.Arg(0), rendered, 0o644); err != nil {
		fmt.Fprintf(stderr, "orca: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "sample contract written to %s\n", fs.Arg(0))
	return 0
}

func runExplain(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "usage: orca explain <path>")
		return 2
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "orca: %v\n", err)
		return 1
	}
	narrative, err := narrativeFromContractJSON(raw)
	if err != nil {
		fmt.Fprintf(stderr, "orca: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, narrative)
	return 0
}

func runServe(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", ":8080", "listen address")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger := slog.New(slog.NewTextHandler(stderr, nil))
	slog.SetDefault(logger)

	cfg := config.Load()
	logger.Info("starting decision engine", "config", cfg.String())

	e, err := engine.New(cfg, engine.WithLogger(logger))
	if err != nil {
		logger.Error("engine init failed", "error", err)
		return 1
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           decisionHandler(e, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", *addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			return 1
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
		e.Drain()
	}
	return 0
}
