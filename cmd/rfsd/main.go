// rfsd is the remote file server's process entry point: flag parsing and
// wiring only, no protocol logic (spec §1's explicit non-goal).
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"rfsd/internal/fsadapter"
	log "rfsd/internal/minilog"
	"rfsd/internal/rfsserver"
)

var (
	f_addr      string
	f_root      string
	f_semantics string
	f_level     string
)

var rootCmd = &cobra.Command{
	Use:   "rfsd",
	Short: "rfsd serves files over the remote file protocol",
	RunE:  runServer,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&f_addr, "addr", ":9876", "udp address to listen on")
	flags.StringVar(&f_root, "root", ".", "server file root")
	flags.StringVar(&f_semantics, "semantics", "at-most-once", "invocation semantics: at-most-once or at-least-once")
	flags.StringVar(&f_level, "level", "info", "log level: debug, info, warn, error, fatal")
}

func runServer(cmd *cobra.Command, args []string) error {
	level, err := log.LevelFromString(f_level)
	if err != nil {
		return err
	}
	log.AddLogger("stderr", os.Stderr, level)

	var semantics rfsserver.InvocationSemantics
	switch f_semantics {
	case "at-most-once":
		semantics = rfsserver.AtMostOnce
	case "at-least-once":
		semantics = rfsserver.AtLeastOnce
	default:
		return fmt.Errorf("unknown invocation semantics: %s", f_semantics)
	}

	addr, err := net.ResolveUDPAddr("udp", f_addr)
	if err != nil {
		return fmt.Errorf("resolving -addr: %w", err)
	}

	adapter, err := fsadapter.New(f_root)
	if err != nil {
		return fmt.Errorf("initializing file adapter at %s: %w", f_root, err)
	}

	srv := rfsserver.New(rfsserver.Config{
		ListenAddr: addr,
		Adapter:    adapter,
		Semantics:  semantics,
	})

	log.Infoln("rfsd starting on ", addr, " root=", f_root, " semantics=", semantics)
	if err := srv.ListenAndServe(); err != nil {
		return fmt.Errorf("rfsd: %w", err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
