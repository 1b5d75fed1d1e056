package client

import (
	"context"
	"fmt"
	"strconv"
	"time"

	cmdUtil "github.com/duplexio/duplex/cmd/util"
	"github.com/duplexio/duplex/peer"
	"github.com/duplexio/duplex/registry"
	"github.com/duplexio/duplex/transport"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	clientPeer    *peer.Peer
	clientSession *transport.Session

	// ClientCommands represents the client command group
	ClientCommands = &cobra.Command{
		Use:               "client",
		Short:             "Send messages and calls to a duplex server",
		PersistentPreRunE: setupClient,
		PersistentPostRun: teardownClient,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// Add common peer flags to the client command group
	cmdUtil.SetupPeerFlags(ClientCommands)

	// Add subcommands
	ClientCommands.AddCommand(echoCmd)
	ClientCommands.AddCommand(notifyCmd)
	ClientCommands.AddCommand(pingCmd)
}

// setupClient creates the peer and dials the configured endpoint
func setupClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	config := cmdUtil.GetPeerConfig()

	cdc, err := cmdUtil.GetCodec()
	if err != nil {
		return err
	}

	clientPeer = peer.New(*config, cdc, registry.New(cmdUtil.ClientCandidates()))

	clientSession, err = clientPeer.Dial(config.Endpoint)
	if err != nil {
		return err
	}

	if config.PingIntervalSec > 0 {
		go clientPeer.PingLoop(cmd.Context(), clientSession, time.Duration(config.PingIntervalSec)*time.Second)
	}

	return nil
}

// teardownClient closes the peer after the subcommand ran
func teardownClient(_ *cobra.Command, _ []string) {
	if clientPeer != nil {
		_ = clientPeer.Close()
	}
}

// callTimeout returns the configured call timeout
func callTimeout() time.Duration {
	return time.Duration(viper.GetInt64("timeout")) * time.Second
}

var (
	echoCmd = &cobra.Command{
		Use:   "echo [value]",
		Short: "Issue an echo call and print the echoed value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("value must be a number: %w", err)
			}

			call, err := clientPeer.Call(
				clientSession,
				cmdUtil.TypeEchoRequest,
				&cmdUtil.EchoRequest{Value: value},
				cmdUtil.TypeEchoResponse,
				callTimeout(),
			)
			if err != nil {
				return err
			}

			resp, err := call.Await(context.Background())
			if err != nil {
				return err
			}

			fmt.Printf("echo: %d\n", resp.(*cmdUtil.EchoResponse).Value)
			return nil
		},
	}
	notifyCmd = &cobra.Command{
		Use:   "notify [text]",
		Short: "Send a fire-and-forget notification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientPeer.Send(clientSession, cmdUtil.TypeNotify, &cmdUtil.NotifyMessage{Text: args[0]}); err != nil {
				return err
			}
			fmt.Println("notification sent")
			return nil
		},
	}
	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Probe the server with the built-in ping pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()

			call, err := clientPeer.Ping(clientSession, callTimeout())
			if err != nil {
				return err
			}

			if _, err := call.Await(context.Background()); err != nil {
				return err
			}

			fmt.Printf("pong after %s\n", time.Since(start))
			return nil
		},
	}
)
