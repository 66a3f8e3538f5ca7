package relayerd

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"log"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/majednitol/scai-solana-bridge/pkg/signer"
	"github.com/spf13/cobra"
)

var keyDescription *string

func init() {
	keyDescription = KeygenCmd.Flags().String("desc", "", "Human-readable key description (optional)")
}

var KeygenCmd = &cobra.Command{
	Use:   "keygen [KEYFILE]",
	Short: "Create a validator or sender key at the specified path",
	Run:   runKeygen,
	Args:  cobra.ExactArgs(1),
}

func runKeygen(cmd *cobra.Command, args []string) {
	setRestrictiveUmask()

	log.Print("Creating new key at ", args[0])

	key, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	if err != nil {
		log.Fatalf("failed to generate key: %v", err)
	}

	if err := signer.WriteArmoredKey(key, *keyDescription, args[0], false); err != nil {
		log.Fatalf("failed to write key: %v", err)
	}
	fmt.Println(ethcrypto.PubkeyToAddress(key.PublicKey).Hex())
}
