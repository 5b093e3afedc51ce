package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/opd-ai/dschat/contact"
	"github.com/spf13/cobra"
)

func addContactCmd() *cobra.Command {
	var identityUUID, name, pubKeyHex, address string

	cmd := &cobra.Command{
		Use:   "add-contact",
		Short: "Trust a remote peer's public key and onion address",
		RunE: func(cmd *cobra.Command, args []string) error {
			keyBytes, err := hex.DecodeString(pubKeyHex)
			if err != nil || len(keyBytes) != 32 {
				return fmt.Errorf("--pubkey must be 64 hex characters (32 bytes)")
			}
			var pubKey [32]byte
			copy(pubKey[:], keyBytes)

			ct := contact.New(uuid.NewString(), identityUUID, name, pubKey, address)
			if err := db.SaveContact(ct); err != nil {
				return fmt.Errorf("persisting contact: %w", err)
			}

			fmt.Printf("contact added\n  uuid: %s\n", ct.UUID)
			return nil
		},
	}
	cmd.Flags().StringVar(&identityUUID, "identity", "", "owning local identity uuid")
	cmd.Flags().StringVar(&name, "name", "", "display name for the contact")
	cmd.Flags().StringVar(&pubKeyHex, "pubkey", "", "contact's 32-byte Ed25519 public key, hex-encoded")
	cmd.Flags().StringVar(&address, "address", "", "contact's onion address (host:port)")
	_ = cmd.MarkFlagRequired("identity")
	_ = cmd.MarkFlagRequired("pubkey")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func listContactsCmd() *cobra.Command {
	var identityUUID string

	cmd := &cobra.Command{
		Use:   "list-contacts",
		Short: "List every contact trusted by an identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			contacts, err := db.ListContactsByIdentity(identityUUID)
			if err != nil {
				return fmt.Errorf("listing contacts: %w", err)
			}
			for _, c := range contacts {
				fmt.Printf("%s  %-20s %s\n", c.UUID, c.Name, c.RemoteOnionAddress)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&identityUUID, "identity", "", "owning local identity uuid")
	_ = cmd.MarkFlagRequired("identity")
	return cmd
}
