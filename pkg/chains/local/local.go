// Package local connects the relayer to bridges running in the same process. It backs devnets and the
// end-to-end tests.
package local

import (
	"context"
	"fmt"

	"github.com/majednitol/scai-solana-bridge/pkg/bridge"
	"github.com/majednitol/scai-solana-bridge/pkg/bridgemsg"
	"github.com/majednitol/scai-solana-bridge/pkg/common"
	"github.com/majednitol/scai-solana-bridge/pkg/submitter"
	"github.com/majednitol/scai-solana-bridge/pkg/watcher"
)

// NewSource exposes the event log of b to a watcher.
func NewSource(b *bridge.Bridge) watcher.Source {
	return b.Events()
}

// Target executes attested messages against an in-process bridge.
type Target struct {
	name   string
	bridge *bridge.Bridge
}

var _ submitter.Target = (*Target)(nil)

func NewTarget(name string, b *bridge.Bridge) *Target {
	return &Target{name: name, bridge: b}
}

func (t *Target) Name() string {
	return t.name
}

func (t *Target) Bridge() *bridge.Bridge {
	return t.bridge
}

func (t *Target) IsExecuted(ctx context.Context, id bridgemsg.OrderID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, common.NewTransientError(err)
	}
	return t.bridge.IsExecuted(id)
}

// Submit runs op synchronously. The resource limit is meaningless in process and ignored.
func (t *Target) Submit(ctx context.Context, op common.Operation, msg *bridgemsg.BridgeMessage, sigs []bridgemsg.SignatureData, _ uint64) (*submitter.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.NewTransientError(err)
	}

	var err error
	switch op {
	case common.OpExecuteUnlock:
		err = t.bridge.ExecuteUnlock(msg, sigs)
	case common.OpExecuteMint:
		err = t.bridge.ExecuteMint(msg, sigs)
	case common.OpConfirmUnlock:
		err = t.bridge.ConfirmUnlock(msg, sigs)
	default:
		return nil, fmt.Errorf("unsupported operation %q", op)
	}
	if err != nil {
		return nil, err
	}

	height, _ := t.bridge.Events().CurrentHeight(ctx)
	return &submitter.Receipt{
		TxID:   fmt.Sprintf("%s/%s", op, msg.MessageID()),
		Height: height,
	}, nil
}
