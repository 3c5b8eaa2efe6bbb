// Command-line entry point for the cellgraph server: loads the TOML
// configuration, opens the cell store, and serves the graph HTTP API.

package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cellgraph/cellgraph/cellgraph"
	"github.com/cellgraph/cellgraph/server"
	"github.com/cellgraph/cellgraph/storage"

	// Register the available cell store engines.
	_ "github.com/cellgraph/cellgraph/storage/badgerstore"
	_ "github.com/cellgraph/cellgraph/storage/memstore"
)

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("verbose", false, "")

	// Path to the TOML configuration file.
	configFile = flag.String("config", "", "")

	// Address for http communication; overrides the configuration file.
	httpAddress = flag.String("http", "", "")
)

const helpMessage = `
cellgraph is a property-graph server over a cell-oriented key-value store

Usage: cellgraph [options] serve

      -config     =string   Path to TOML configuration file (required).
      -http       =string   Address for HTTP communication; overrides config.
      -verbose    (flag)    Run in verbose mode.
  -h, -help       (flag)    Show help message

Available cell store engines:

`

func usage() {
	fmt.Print(helpMessage)
	fmt.Printf("	%s\n\n", storage.EnginesAvailable())
}

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = usage
	flag.Parse()

	if *showHelp || flag.NArg() == 0 || flag.Args()[0] != "serve" {
		flag.Usage()
		os.Exit(0)
	}
	if *runVerbose {
		cellgraph.Verbose = true
		cellgraph.SetLogMode(cellgraph.DebugMode)
	}
	if *configFile == "" {
		fmt.Println("The -config option must point at a TOML configuration file.")
		os.Exit(1)
	}

	tc, err := server.LoadConfig(*configFile)
	if err != nil {
		fmt.Printf("Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if *httpAddress != "" {
		tc.Server.HTTPAddress = *httpAddress
	}

	s, err := server.OpenFromConfig(tc)
	if err != nil {
		fmt.Printf("Error initializing server: %v\n", err)
		os.Exit(1)
	}

	// Shutdown on SIGINT or SIGTERM, draining in-flight requests.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-stop
		cellgraph.Infof("Got signal %s, shutting down...\n", sig)
		s.Shutdown()
		os.Exit(0)
	}()

	if err := s.ServeHTTP(); err != nil {
		cellgraph.Criticalf("Web server failed: %v\n", err)
		s.Shutdown()
		os.Exit(1)
	}
	s.Shutdown()
}
