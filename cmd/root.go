package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/astro/pkg/protocol"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/astro/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile           string
	verbose           bool
	flagID            uint32
	flagUAVRadius     float32
	flagMsgRange      float32
	flagContactRatio  float32
	flagMaxV          float32
)

var rootCmd = &cobra.Command{
	Use:   "astro",
	Short: "astro — single-agent control process for one UAV in a decentralized swarm",
	Long: "astro runs the per-agent control loop: contact tracking, distributed tree " +
		"formation, recursive task subdivision and collision avoidance, talking to the " +
		"GPS oracle, velocity actuator and peer comm relay over a framed Unix socket.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgent()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "optional JSON5 overlay file for tunable defaults")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.Flags().Uint32Var(&flagID, "id", 0, "this agent's node id (required, nonzero; 0 is reserved for the GCS)")
	rootCmd.Flags().Float32Var(&flagUAVRadius, "uav-radius", 0, "this UAV's physical radius, in meters (required)")
	rootCmd.Flags().Float32Var(&flagMsgRange, "msg-range", 0, "raw radio message range, in meters (required)")
	rootCmd.Flags().Float32Var(&flagContactRatio, "contact-range-ratio", 0.95, "fraction of msg-range treated as reliable contact range")
	rootCmd.Flags().Float32Var(&flagMaxV, "max-v", 0, "this UAV's maximum speed, in meters/second (required)")

	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("astro %s (protocol %d)\n", Version, protocol.ProtocolVersion)
		},
	}
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
