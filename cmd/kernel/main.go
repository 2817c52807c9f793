package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/aikernel/core/internal/llm"
	"github.com/aikernel/core/internal/shell"
)

var (
	setupLog logr.Logger

	registryPath string
	historyPath  string
	badgerDir    string
	nodeID       string
	decisionsPath string
	spansPath     string
	verbose       bool
)

func init() {
	flag.StringVar(&registryPath, "registry-path", "kernel-registry.json", "path to the model registry JSON file")
	flag.StringVar(&historyPath, "history-path", "kernel-registry.log", "path to the append-only registry history log")
	flag.StringVar(&badgerDir, "badger-dir", "", "directory for the badger model index (empty = in-memory)")
	flag.StringVar(&nodeID, "node-id", "", "this node's identifier, recorded in the registry history log")
	flag.StringVar(&decisionsPath, "decisions-path", "var-log-decisions.json", "path to the decision log")
	flag.StringVar(&spansPath, "spans-path", "otel-spans.json", "path to the exported OTel span file")
	flag.BoolVar(&verbose, "verbose", false, "enable development-mode logging")
	flag.Parse()

	var zapLog *zap.Logger
	var err error
	if verbose {
		zapLog, err = zap.NewDevelopment()
	} else {
		zapLog, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to build logger: %v\n", err)
		os.Exit(1)
	}
	setupLog = zapr.NewLogger(zapLog).WithName("setup")
}

func main() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	registry, err := llm.NewRegistry(registryPath, historyPath, badgerDir, nodeID)
	if err != nil {
		setupLog.Error(err, "unable to open model registry")
		os.Exit(1)
	}
	defer registry.Close()

	backend := llm.NewStubBackend()
	llm.SetGlobalBackend(backend)

	logFile, err := os.OpenFile("kernel.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		setupLog.Error(err, "unable to open kernel log")
		os.Exit(1)
	}
	defer logFile.Close()

	k := shell.NewKernel(registry, backend, decisionsPath, spansPath, logFile)
	sh := shell.NewShell(k)

	setupLog.Info("kernel shell ready", "registry", registryPath, "decisions", decisionsPath)

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			out, err := sh.Dispatch(line)
			if out != "" {
				fmt.Fprint(os.Stdout, out)
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
		}
	}()

	select {
	case <-stop:
		setupLog.Info("shutting down")
	case <-done:
	}
}
