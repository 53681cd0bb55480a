// rfsc is a minimal client driver: it resolves flags, performs exactly
// one Client Core operation, and prints the result. The interactive
// command parser and human-readable rendering a real CLI would have are
// explicitly out of scope (spec §1) — this is wiring, not a shell.
package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"rfsd/internal/client"
	log "rfsd/internal/minilog"
)

var (
	f_server    string
	f_port      int
	f_cache     string
	f_freshness time.Duration
	f_level     string
)

var rootCmd = &cobra.Command{
	Use:           "rfsc",
	Short:         "rfsc talks to a remote file server",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&f_server, "server", "127.0.0.1:9876", "server udp address")
	flags.IntVar(&f_port, "port", 0, "local port sent to the server and bound for update notifications when subscribing")
	flags.StringVar(&f_cache, "cache", "./rfsc-cache", "client cache directory")
	flags.DurationVar(&f_freshness, "freshness", 10*time.Second, "cache freshness interval")
	flags.StringVar(&f_level, "level", "warn", "log level: debug, info, warn, error, fatal")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := log.LevelFromString(f_level)
		if err != nil {
			return err
		}
		log.AddLogger("stderr", os.Stderr, level)
		return nil
	}

	rootCmd.AddCommand(readCmd, writeCmd, appendCmd, deleteCmd, mtimeCmd, subscribeCmd)
}

func newClient() *client.Client {
	serverAddr, err := net.ResolveUDPAddr("udp", f_server)
	if err != nil {
		fmt.Fprintln(os.Stderr, "resolving -server:", err)
		os.Exit(1)
	}

	localIP := [4]byte{127, 0, 0, 1}
	return client.New(client.Config{
		ClientIP:          localIP,
		ClientPort:        uint32(f_port),
		ServerAddr:        serverAddr,
		CacheDir:          f_cache,
		FreshnessInterval: f_freshness,
	})
}

var readCmd = &cobra.Command{
	Use:   "read <path> <offset> <nbytes>",
	Short: "read a byte range from a file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		offset, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return err
		}
		nbytes, err := strconv.ParseUint(args[2], 10, 32)
		if err != nil {
			return err
		}
		content, err := newClient().Read(args[0], uint32(offset), uint32(nbytes), nil)
		if err != nil {
			return err
		}
		os.Stdout.Write(content)
		return nil
	},
}

var writeCmd = &cobra.Command{
	Use:   "write <path> <offset> <content>",
	Short: "write content to a file at an offset",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		offset, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return err
		}
		ok, err := newClient().Write(args[0], uint32(offset), []byte(args[2]), nil)
		if err != nil {
			return err
		}
		fmt.Println("success:", ok)
		return nil
	},
}

var appendCmd = &cobra.Command{
	Use:   "append <path> <content>",
	Short: "append content to a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := newClient().Append(args[0], []byte(args[1]), nil)
		if err != nil {
			return err
		}
		fmt.Println("success:", ok)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <path>",
	Short: "delete a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := newClient().Delete(args[0], nil)
		if err != nil {
			return err
		}
		fmt.Println("success:", ok)
		return nil
	},
}

var mtimeCmd = &cobra.Command{
	Use:   "mtime <path>",
	Short: "query a file's server modification time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mtime, ok, err := newClient().ServerModTime(args[0], nil)
		if err != nil {
			return err
		}
		fmt.Println("success:", ok, "mtime:", mtime)
		return nil
	},
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe <path> <interval_seconds>",
	Short: "subscribe to update notifications for a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		seconds, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return err
		}
		return newClient().Subscribe(args[0], time.Duration(seconds)*time.Second, nil)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "rfsc:", err)
		os.Exit(1)
	}
}
