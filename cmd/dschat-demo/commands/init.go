package commands

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/opd-ai/dschat/contact"
	"github.com/opd-ai/dschat/crypto"
	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	var localName string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a new local identity and print its uuid",
		RunE: func(cmd *cobra.Command, args []string) error {
			keyPair, err := crypto.GenerateIdentityKeyPair()
			if err != nil {
				return fmt.Errorf("generating identity keypair: %w", err)
			}

			identity := &contact.Identity{
				UUID:           uuid.NewString(),
				LocalName:      localName,
				SigningKeyPair: keyPair,
			}
			if err := db.SaveIdentity(identity); err != nil {
				return fmt.Errorf("persisting identity: %w", err)
			}

			fmt.Printf("identity created\n  uuid:       %s\n  public_key: %x\n", identity.UUID, identity.SigningKeyPair.Public)
			return nil
		},
	}
	cmd.Flags().StringVar(&localName, "name", "", "local display name for this identity")
	return cmd
}
