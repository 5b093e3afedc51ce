package commands

import (
	"fmt"
	"os"

	"github.com/opd-ai/dschat/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	dataDir string
	db      *store.Store
)

// Execute builds and runs the dschat-demo command tree.
func Execute() error {
	root := &cobra.Command{
		Use:   "dschat-demo",
		Short: "Exercise the dschat protocol core from the command line",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dataDir == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("resolving home directory: %w", err)
				}
				dataDir = dir + "/.dschat-demo"
			}
			if err := os.MkdirAll(dataDir, 0o700); err != nil {
				return fmt.Errorf("creating data dir: %w", err)
			}

			s, err := store.Open(dataDir)
			if err != nil {
				return fmt.Errorf("opening persistence database: %w", err)
			}
			db = s
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if db != nil {
				return db.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "database and received-file directory (default ~/.dschat-demo)")

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	root.AddCommand(initCmd(), addContactCmd(), listContactsCmd(), runCmd())
	return root.Execute()
}
