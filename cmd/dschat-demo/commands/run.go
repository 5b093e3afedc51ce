package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	dschat "github.com/opd-ai/dschat"
	"github.com/opd-ai/dschat/events"
	"github.com/opd-ai/dschat/messaging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var identityUUID, listenAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Listen for inbound peers and drive a chat session from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := db.LoadIdentity(identityUUID)
			if err != nil {
				return fmt.Errorf("loading identity %s: %w", identityUUID, err)
			}

			cfg := dschat.DefaultConfig()
			cfg.DataDir = dataDir
			cfg.ReceiveDir = dataDir + "/received"
			if err := os.MkdirAll(cfg.ReceiveDir, 0o700); err != nil {
				return fmt.Errorf("creating receive dir: %w", err)
			}

			engine, err := dschat.NewEngine(cfg, identity, db, newLocalController(listenAddr), localDialer{})
			if err != nil {
				return fmt.Errorf("constructing engine: %w", err)
			}
			defer engine.Close()

			engine.Events().Subscribe(events.KindReceivedMessage, func(payload any) {
				p := payload.(events.ReceivedMessage)
				fmt.Printf("\n[message %s] conversation=%s\n> ", p.MessageID, p.ConversationUUID)
			})
			engine.Events().Subscribe(events.KindReceivedFileOffer, func(payload any) {
				p := payload.(events.ReceivedFileOffer)
				fmt.Printf("\n[file offer] %s (%d bytes) file_id=%s\n> ", p.Name, p.Size, p.FileID)
			})
			engine.Events().Subscribe(events.KindIncomingPeer, func(payload any) {
				p := payload.(events.IncomingPeer)
				fmt.Printf("\n[peer connected] contact=%s\n> ", p.ContactUUID)
			})
			engine.Events().Subscribe(events.KindFileStateChanged, func(payload any) {
				p := payload.(events.FileStateChanged)
				fmt.Printf("\n[file %s] %s -> %s (%s)\n> ", p.FileID, p.OldState, p.NewState, p.Reason)
			})
			engine.Events().Subscribe(events.KindAddMeRequest, func(payload any) {
				p := payload.(events.AddMeRequest)
				fmt.Printf("\n[contact request] nick=%q pubkey=%x address=%s\n> ", p.Nick, p.PubKey, p.Address)
			})

			if err := engine.Listen(); err != nil {
				return fmt.Errorf("listening on %s: %w", listenAddr, err)
			}
			logrus.WithFields(logrus.Fields{
				"function":    "run",
				"listen_addr": listenAddr,
			}).Info("Listening for inbound peers")

			fmt.Println("commands: dial <contact>, send <contact> <text...>, offer <contact> <path>, accept <file-id>, quit")
			fmt.Print("> ")
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				runLine(engine, scanner.Text())
				fmt.Print("> ")
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringVar(&identityUUID, "identity", "", "local identity uuid to run as")
	cmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:9001", "local address to bind for inbound peer connections")
	_ = cmd.MarkFlagRequired("identity")
	return cmd
}

func runLine(engine *dschat.Engine, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	switch fields[0] {
	case "quit":
		os.Exit(0)

	case "dial":
		if len(fields) != 2 {
			fmt.Println("usage: dial <contact-uuid>")
			return
		}
		ct, err := db.Contact(fields[1])
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		if _, err := engine.Dial(ct); err != nil {
			fmt.Println("error:", err)
		}

	case "send":
		if len(fields) < 3 {
			fmt.Println("usage: send <contact-uuid> <text...>")
			return
		}
		ct, err := db.Contact(fields[1])
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		text := strings.Join(fields[2:], " ")
		if _, err := engine.SendMessage(ct, messaging.EncodingUTF8, []byte(text)); err != nil {
			fmt.Println("error:", err)
		}

	case "offer":
		if len(fields) != 3 {
			fmt.Println("usage: offer <contact-uuid> <path>")
			return
		}
		ct, err := db.Contact(fields[1])
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		f, err := engine.OfferFile(ct, fields[2])
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Printf("offered file_id=%s\n", f.ID)

	case "accept":
		if len(fields) != 2 {
			fmt.Println("usage: accept <file-id>")
			return
		}
		f, ok := engine.Files().File(fields[1])
		if !ok {
			fmt.Println("unknown file id")
			return
		}
		ct, err := db.Contact(f.ContactID)
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		if _, err := engine.AcceptFile(ct, f); err != nil {
			fmt.Println("error:", err)
		}

	default:
		fmt.Println("unknown command")
	}
}
