// Package solana submits attested messages to the bridge program on Solana.
package solana

import (
	"crypto/sha256"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/majednitol/scai-solana-bridge/pkg/bridgemsg"
	"github.com/majednitol/scai-solana-bridge/pkg/common"
	"github.com/near/borsh-go"
)

// PDA seeds of the bridge program.
var (
	seedConfig   = []byte("config")
	seedExecuted = []byte("exec")
	seedBurn     = []byte("burn")
)

// Offsets of the executed flag in the anchor accounts (after the 8 byte discriminator).
const (
	executedFlagOffset  = 8
	burnOrderFlagOffset = 8 + 8 + 20
)

// instructionArgs is the borsh layout of (msg: BridgeMessage, signatures: Vec<[u8; 65]>).
type instructionArgs struct {
	SourceChainID uint64
	DestChainID   uint64
	OrderID       [32]byte
	Recipient     [32]byte
	Amount        uint64
	Nonce         uint64
	Timestamp     uint64
	Signatures    [][65]byte
}

// discriminator returns the anchor instruction selector sha256("global:<name>")[:8].
func discriminator(name string) []byte {
	h := sha256.Sum256([]byte("global:" + name))
	return h[:8]
}

func instructionName(op common.Operation) (string, error) {
	switch op {
	case common.OpExecuteMint:
		return "execute_mint", nil
	case common.OpConfirmUnlock:
		return "confirm_unlock", nil
	default:
		return "", fmt.Errorf("operation %s is not supported by the Solana program", op)
	}
}

func encodeInstruction(op common.Operation, msg *bridgemsg.BridgeMessage, sigs []bridgemsg.SignatureData) ([]byte, error) {
	name, err := instructionName(op)
	if err != nil {
		return nil, err
	}
	args := instructionArgs{
		SourceChainID: msg.SourceChainID,
		DestChainID:   msg.DestChainID,
		OrderID:       msg.OrderID,
		Recipient:     msg.Recipient,
		Amount:        msg.Amount,
		Nonce:         msg.Nonce,
		Timestamp:     msg.Timestamp,
		Signatures:    make([][65]byte, len(sigs)),
	}
	for i := range sigs {
		args.Signatures[i] = sigs[i]
	}
	body, err := borsh.Serialize(args)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s arguments: %w", name, err)
	}
	return append(discriminator(name), body...), nil
}

// Accounts holds the fixed accounts of a bridge deployment.
type Accounts struct {
	Program      solana.PublicKey
	ValidatorSet solana.PublicKey
	Mint         solana.PublicKey
}

func (a *Accounts) configPDA() (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress([][]byte{seedConfig}, a.Program)
	return pda, err
}

// flagAccount returns the account holding the executed flag for op and the offset of the flag in it.
func (a *Accounts) flagAccount(op common.Operation, id bridgemsg.OrderID) (solana.PublicKey, int, error) {
	seed, offset := seedExecuted, executedFlagOffset
	if op == common.OpConfirmUnlock {
		seed, offset = seedBurn, burnOrderFlagOffset
	}
	pda, _, err := solana.FindProgramAddress([][]byte{seed, id[:]}, a.Program)
	return pda, offset, err
}

// instruction builds the program instruction for op, paid by payer.
func (a *Accounts) instruction(op common.Operation, msg *bridgemsg.BridgeMessage, sigs []bridgemsg.SignatureData, payer solana.PublicKey) (solana.Instruction, error) {
	data, err := encodeInstruction(op, msg, sigs)
	if err != nil {
		return nil, err
	}
	config, err := a.configPDA()
	if err != nil {
		return nil, err
	}
	flag, _, err := a.flagAccount(op, msg.OrderID)
	if err != nil {
		return nil, err
	}

	var accounts solana.AccountMetaSlice
	switch op {
	case common.OpExecuteMint:
		accounts = solana.AccountMetaSlice{
			solana.Meta(config).WRITE(),
			solana.Meta(a.ValidatorSet).WRITE(),
			solana.Meta(flag).WRITE(),
			solana.Meta(a.Mint).WRITE(),
			solana.Meta(solana.PublicKeyFromBytes(msg.Recipient[:])).WRITE(),
			solana.Meta(solana.TokenProgramID),
			solana.Meta(payer).WRITE().SIGNER(),
			solana.Meta(solana.SystemProgramID),
		}
	case common.OpConfirmUnlock:
		accounts = solana.AccountMetaSlice{
			solana.Meta(config).WRITE(),
			solana.Meta(flag).WRITE(),
			solana.Meta(a.ValidatorSet).WRITE(),
		}
	}

	return solana.NewInstruction(a.Program, accounts, data), nil
}
