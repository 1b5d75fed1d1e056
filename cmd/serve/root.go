package serve

import (
	"net/http"

	"github.com/VictoriaMetrics/metrics"
	cmdUtil "github.com/duplexio/duplex/cmd/util"
	"github.com/duplexio/duplex/common"
	"github.com/duplexio/duplex/peer"
	"github.com/duplexio/duplex/registry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	_ "net/http/pprof"
)

var (
	serveCmdConfig = &common.PeerConfig{}

	// ServeCmd starts the demo echo server
	ServeCmd = &cobra.Command{
		Use:     "serve",
		Short:   "Start the duplex demo server",
		Long:    `Start the duplex demo server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DUPLEX_<flag> (e.g. DUPLEX_ENDPOINT=localhost:7070)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add the common peer flags
	cmdUtil.SetupPeerFlags(ServeCmd)

	key := "debug-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address of an HTTP debug listener exposing /metrics and pprof (empty = disabled)"))
}

// processConfig reads the configuration from the command line flags and
// environment variables
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	*serveCmdConfig = *cmdUtil.GetPeerConfig()
	return nil
}

// run starts the demo server
func run(_ *cobra.Command, _ []string) error {
	cdc, err := cmdUtil.GetCodec()
	if err != nil {
		return err
	}

	reg := registry.New(cmdUtil.ServerCandidates())
	p := peer.New(*serveCmdConfig, cdc, reg)
	defer p.Close()

	// optional debug listener with prometheus metrics and pprof
	if endpoint := viper.GetString("debug-endpoint"); endpoint != "" {
		go func() {
			http.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
				metrics.WritePrometheus(w, true)
			})
			if err := http.ListenAndServe(endpoint, nil); err != nil {
				peer.Logger.Errorf("debug listener failed: %v", err)
			}
		}()
	}

	return p.Listen()
}
