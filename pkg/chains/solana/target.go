package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/majednitol/scai-solana-bridge/pkg/bridgemsg"
	"github.com/majednitol/scai-solana-bridge/pkg/common"
	"github.com/majednitol/scai-solana-bridge/pkg/submitter"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"
)

const DefaultConfirmPollInterval = 500 * time.Millisecond

// Client is the part of *rpc.Client used by the target.
type Client interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
}

var _ Client = (*rpc.Client)(nil)

// Target executes messages against the bridge program. One target serves one operation, since the executed
// flag of a mint and of a burn confirmation live in different accounts.
type Target struct {
	name         string
	client       Client
	accounts     Accounts
	op           common.Operation
	payer        solana.PrivateKey
	commitment   rpc.CommitmentType
	pollInterval time.Duration
	logger       *zap.Logger
}

var _ submitter.Target = (*Target)(nil)

func NewTarget(name string, client Client, accounts Accounts, op common.Operation, payer solana.PrivateKey, logger *zap.Logger) (*Target, error) {
	if _, err := instructionName(op); err != nil {
		return nil, err
	}
	if accounts.Program.IsZero() {
		return nil, &common.ConfigError{Field: "programId", Reason: "must be set"}
	}
	return &Target{
		name:         name,
		client:       client,
		accounts:     accounts,
		op:           op,
		payer:        payer,
		commitment:   rpc.CommitmentConfirmed,
		pollInterval: DefaultConfirmPollInterval,
		logger:       logger.With(zap.String("target", name), zap.Stringer("program", accounts.Program)),
	}, nil
}

func (t *Target) Name() string {
	return t.name
}

func (t *Target) IsExecuted(ctx context.Context, id bridgemsg.OrderID) (bool, error) {
	acc, offset, err := t.accounts.flagAccount(t.op, id)
	if err != nil {
		return false, err
	}
	info, err := t.client.GetAccountInfoWithOpts(ctx, acc, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: t.commitment,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, common.NewTransientError(fmt.Errorf("failed to fetch account %s: %w", acc, err))
	}
	if info.Value == nil || info.Value.Data == nil {
		return false, nil
	}
	if !info.Value.Owner.Equals(t.accounts.Program) {
		return false, fmt.Errorf("account %s has unexpected owner %s", acc, info.Value.Owner)
	}
	data := info.Value.Data.GetBinary()
	if len(data) <= offset {
		return false, fmt.Errorf("account %s too short (%d bytes)", acc, len(data))
	}
	return data[offset] != 0, nil
}

func (t *Target) Submit(ctx context.Context, op common.Operation, msg *bridgemsg.BridgeMessage, sigs []bridgemsg.SignatureData, _ uint64) (*submitter.Receipt, error) {
	if op != t.op {
		return nil, fmt.Errorf("target %s only serves %s, not %s", t.name, t.op, op)
	}

	payer := t.payer.PublicKey()
	ix, err := t.accounts.instruction(op, msg, sigs, payer)
	if err != nil {
		return nil, err
	}

	recent, err := t.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, common.NewTransientError(fmt.Errorf("failed to get recent blockhash: %w", err))
	}

	tx, err := solana.NewTransaction([]solana.Instruction{ix}, recent.Value.Blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &t.payer
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := t.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{PreflightCommitment: t.commitment})
	if err != nil {
		return nil, classifySendError(err)
	}
	t.logger.Info("submitted transaction",
		zap.String("operation", string(op)),
		zap.Stringer("order_id", msg.OrderID),
		zap.Stringer("signature", sig))

	slot, err := t.waitForConfirmation(ctx, sig)
	if err != nil {
		if common.IsTransient(err) {
			return nil, err
		}
		if executed, qerr := t.IsExecuted(ctx, msg.OrderID); qerr == nil && executed {
			return nil, fmt.Errorf("%w: transaction %s failed", common.ErrAlreadyExecuted, sig)
		}
		return nil, err
	}
	return &submitter.Receipt{TxID: sig.String(), Height: slot}, nil
}

// waitForConfirmation polls the signature status until it reaches the target commitment or fails.
func (t *Target) waitForConfirmation(ctx context.Context, sig solana.Signature) (uint64, error) {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		out, err := t.client.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			t.logger.Debug("failed to query signature status", zap.Stringer("signature", sig), zap.Error(err))
		} else if len(out.Value) > 0 && out.Value[0] != nil {
			status := out.Value[0]
			if status.Err != nil {
				failure := fmt.Errorf("transaction %s failed: %v", sig, status.Err)
				if kind := programErrorKind(fmt.Sprint(status.Err)); kind != nil {
					return 0, fmt.Errorf("%w: %v", kind, failure)
				}
				return 0, failure
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return status.Slot, nil
			}
		}

		select {
		case <-ctx.Done():
			return 0, common.NewTransientError(fmt.Errorf("waiting for %s: %w", sig, ctx.Err()))
		case <-ticker.C:
		}
	}
}

// anchorErrorOffset is the number of the first custom error of an Anchor program.
const anchorErrorOffset = 6000

// programErrors are the bridge program's errors in declaration order: Paused, InvalidSignatures, Replay,
// Expired, ThresholdNotMet, SupplyInvariant, Unauthorized, Overflow.
var programErrors = []error{
	common.ErrPaused,
	common.ErrInsufficientSignatures,
	common.ErrAlreadyExecuted,
	common.ErrExpired,
	common.ErrInsufficientSignatures,
	common.ErrSupplyInvariant,
	common.ErrUnauthorized,
	common.ErrOverflow,
}

// Custom error numbers as they appear in preflight messages (hex), program logs and transaction statuses.
var (
	customErrorHex    = regexp.MustCompile(`custom program error: 0x([0-9a-f]+)`)
	customErrorNumber = regexp.MustCompile(`error number: (\d+)|custom"?:\s?(\d+)`)
)

// programErrorKind returns the rejection kind of the bridge program error mentioned in detail, or nil.
func programErrorKind(detail string) error {
	detail = strings.ToLower(detail)

	var candidates []uint64
	for _, m := range customErrorHex.FindAllStringSubmatch(detail, -1) {
		if n, err := strconv.ParseUint(m[1], 16, 32); err == nil {
			candidates = append(candidates, n)
		}
	}
	for _, m := range customErrorNumber.FindAllStringSubmatch(detail, -1) {
		if n, err := strconv.ParseUint(m[1]+m[2], 10, 32); err == nil {
			candidates = append(candidates, n)
		}
	}

	for _, n := range candidates {
		if n >= anchorErrorOffset && n-anchorErrorOffset < uint64(len(programErrors)) {
			return programErrors[n-anchorErrorOffset]
		}
	}
	return nil
}

// classifySendError separates preflight rejections from network failures. Program errors keep their
// rejection kind. Replays also surface as an "already in use" error on the executed account.
func classifySendError(err error) error {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		detail := fmt.Sprintf("%s %v", rpcErr.Message, rpcErr.Data)
		if kind := programErrorKind(detail); kind != nil {
			return fmt.Errorf("%w: %s", kind, rpcErr.Message)
		}
		detail = strings.ToLower(detail)
		if strings.Contains(detail, "already in use") {
			return fmt.Errorf("%w: %s", common.ErrAlreadyExecuted, rpcErr.Message)
		}
		if strings.Contains(detail, "blockhash not found") {
			return common.NewTransientError(err)
		}
		return fmt.Errorf("transaction rejected in preflight: %w", err)
	}
	return common.NewTransientError(err)
}

// ParsePayerKey accepts a base58 encoded secret key or the JSON byte array written by solana-keygen.
func ParsePayerKey(value string) (solana.PrivateKey, error) {
	value = strings.TrimSpace(value)
	var raw []byte
	if strings.HasPrefix(value, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(value), &ints); err != nil {
			return nil, fmt.Errorf("invalid keypair array: %w", err)
		}
		raw = make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("invalid keypair byte %d at %d", v, i)
			}
			raw[i] = byte(v)
		}
	} else {
		var err error
		raw, err = base58.Decode(value)
		if err != nil {
			return nil, fmt.Errorf("invalid base58 key: %w", err)
		}
	}
	if len(raw) != 64 {
		return nil, fmt.Errorf("secret key must be 64 bytes, got %d", len(raw))
	}
	return solana.PrivateKey(raw), nil
}

// Dial returns an RPC client for endpoint.
func Dial(endpoint string) *rpc.Client {
	return rpc.New(endpoint)
}
