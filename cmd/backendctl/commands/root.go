package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	sockPath string
	addr     string
)

// NewRootCmd builds the backendctl command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "backendctl",
		Short: "Administer a backendpool daemon's backend registry",
	}
	rootCmd.PersistentFlags().StringVar(&sockPath, "sock", "", "unix socket path for modelrunnerd (default: $BACKENDPOOL_SOCK or backendpool.sock)")
	rootCmd.PersistentFlags().StringVar(&addr, "addr", os.Getenv("BACKENDPOOL_ADDR"), "TCP address for modelrunnerd, overrides --sock")
	rootCmd.AddCommand(
		newListCmd(),
		newAddCmd(),
		newEditCmd(),
		newDeleteCmd(),
		newReloadCmd(),
		newStatusCmd(),
	)
	return rootCmd
}

func client() *apiClient {
	sock := sockPath
	if sock == "" {
		sock = defaultSockPath()
	}
	return newAPIClient(sock, addr)
}
