package relayerd

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/majednitol/scai-solana-bridge/pkg/bridgemsg"
	"github.com/majednitol/scai-solana-bridge/pkg/common"
	"github.com/majednitol/scai-solana-bridge/pkg/signer"
	"github.com/spf13/cobra"
)

type signFlags struct {
	signerURI   string
	environment string
	source      uint64
	dest        uint64
	order       string
	recipient   string
	amount      uint64
	nonce       uint64
	timestamp   uint64
}

var signArgs signFlags

func init() {
	fs := SignCmd.Flags()
	fs.StringVar(&signArgs.signerURI, "signer", "", "Signer URI (file://path or amazonkms://arn)")
	fs.StringVar(&signArgs.environment, "environment", "prod", "Environment: prod, test or dev")
	fs.Uint64Var(&signArgs.source, "source", 0, "Source chain id")
	fs.Uint64Var(&signArgs.dest, "dest", 0, "Destination chain id")
	fs.StringVar(&signArgs.order, "order", "", "Order id, 32 bytes hex")
	fs.StringVar(&signArgs.recipient, "recipient", "", "Recipient address, hex (20 or 32 bytes)")
	fs.Uint64Var(&signArgs.amount, "amount", 0, "Amount in the smallest unit")
	fs.Uint64Var(&signArgs.nonce, "nonce", 0, "Nonce")
	fs.Uint64Var(&signArgs.timestamp, "timestamp", 0, "Unix timestamp of the source event (default now)")
	_ = SignCmd.MarkFlagRequired("signer")
	_ = SignCmd.MarkFlagRequired("order")
	_ = SignCmd.MarkFlagRequired("recipient")
}

// SignCmd signs a bridge message by hand, e.g. to attest an order that the relayers missed.
var SignCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a bridge message with a validator key",
	Run:   runSign,
	Args:  cobra.NoArgs,
}

func (f signFlags) message(now time.Time) (*bridgemsg.BridgeMessage, error) {
	order, err := bridgemsg.StringToOrderID(f.order)
	if err != nil {
		return nil, fmt.Errorf("invalid order id: %w", err)
	}
	recipient, err := bridgemsg.StringToAddress(f.recipient)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	if f.amount == 0 {
		return nil, common.ErrInvalidAmount
	}
	if f.source == f.dest {
		return nil, fmt.Errorf("source and destination chain are both %d", f.source)
	}
	ts := f.timestamp
	if ts == 0 {
		ts = uint64(now.Unix())
	}
	return &bridgemsg.BridgeMessage{
		SourceChainID: f.source,
		DestChainID:   f.dest,
		OrderID:       order,
		Recipient:     recipient,
		Amount:        f.amount,
		Nonce:         f.nonce,
		Timestamp:     ts,
	}, nil
}

func runSign(cmd *cobra.Command, args []string) {
	setRestrictiveUmask()

	env, err := common.ParseEnvironment(signArgs.environment)
	if err != nil {
		log.Fatal(err)
	}
	msg, err := signArgs.message(time.Now())
	if err != nil {
		log.Fatalf("invalid message: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := signer.NewSignerFromUri(ctx, signArgs.signerURI, env)
	if err != nil {
		log.Fatalf("failed to create signer: %v", err)
	}
	sig, err := signer.SignMessage(ctx, s, msg)
	if err != nil {
		log.Fatalf("failed to sign: %v", err)
	}

	fmt.Printf("signer:    %s\n", signer.Address(ctx, s).Hex())
	fmt.Printf("message:   %s\n", msg.MessageID())
	fmt.Printf("digest:    %s\n", msg.SigningDigest().Hex())
	fmt.Printf("signature: %s\n", sig)
}
