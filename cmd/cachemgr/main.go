// Cachemgr coordinates invalidation of a reverse-proxy page cache. It binds
// admin pages to their cache entries, exposes cache actions over HTTP and
// purges pages when content leaves its published state.
package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "configs/cachemgr.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("cachemgr", version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
