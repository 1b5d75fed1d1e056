package cmd

import (
	"fmt"
	"os"

	"github.com/duplexio/duplex/cmd/client"
	"github.com/duplexio/duplex/cmd/serve"
	"github.com/duplexio/duplex/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "duplex",
		Short: "bidirectional RPC transport over a single stream connection",
		Long: fmt.Sprintf(`duplex (v%s)

A bidirectional RPC transport library written in Go. One stream connection
carries fire-and-forget messages and correlated request/response calls in
both directions, demonstrated here with a small echo server and client.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of duplex",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("duplex v%s\n", Version)
		},
	}
)

func init() {
	// Add subcommands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(client.ClientCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "codec"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("codec to use (json, gob, binary)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
