package node

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/majednitol/scai-solana-bridge/pkg/common"
	"github.com/majednitol/scai-solana-bridge/pkg/db"
	"github.com/majednitol/scai-solana-bridge/pkg/relayer"
	"github.com/majednitol/scai-solana-bridge/pkg/signer"
	"github.com/majednitol/scai-solana-bridge/pkg/submitter"
	"github.com/majednitol/scai-solana-bridge/pkg/supervisor"
	"github.com/majednitol/scai-solana-bridge/pkg/watcher"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Option struct {
	name         string
	dependencies []string                                        // Names of options that must be applied first.
	f            func(context.Context, *zap.Logger, *Node) error // Run once while the node starts.
}

// OptionDatabase persists watcher cursors in database. A nil database keeps them in memory.
// Dependencies: none
func OptionDatabase(database *db.Database) *Option {
	return &Option{
		name: "database",
		f: func(ctx context.Context, logger *zap.Logger, n *Node) error {
			n.db = database
			if database == nil {
				logger.Warn("no database configured, cursors are kept in memory")
				n.cursors = watcher.NewMemoryCursorStore()
				return nil
			}
			n.cursors = db.NewCursorDB(database)
			return nil
		}}
}

// OptionNetworks registers the chains the node talks to.
// Dependencies: none
func OptionNetworks(networks map[string]*Network) *Option {
	return &Option{
		name: "networks",
		f: func(ctx context.Context, logger *zap.Logger, n *Node) error {
			if len(networks) == 0 {
				return &common.ConfigError{Field: "networks", Reason: "at least one network is required"}
			}
			n.networks = networks
			return nil
		}}
}

// OptionSigners configures the validator keys this node attests with.
// Dependencies: none
func OptionSigners(signers []signer.Signer, threshold int) *Option {
	return &Option{
		name: "signers",
		f: func(ctx context.Context, logger *zap.Logger, n *Node) error {
			attester, err := relayer.NewAttester(signers, threshold, logger.Named("attester"))
			if err != nil {
				return err
			}
			for i, s := range signers {
				logger.Info("validator signer loaded",
					zap.Int("index", i),
					zap.String("type", s.TypeAsString()),
					zap.Stringer("address", signer.Address(ctx, s)))
			}
			n.relayer, err = relayer.New(attester, relayer.DefaultCompletedCacheSize, logger.Named("relayer"))
			return err
		}}
}

// RouteOptions configures one relay route.
type RouteOptions struct {
	Name      string
	Source    string
	Event     common.EventKind
	Dest      string
	Operation common.Operation
	// Confirm is the network that receives confirmUnlock once Dest executed. Empty disables confirmation.
	Confirm       string
	ResourceLimit uint64

	StartHeight  uint64
	PollInterval time.Duration
	MaxRange     uint64
	Submit       submitter.Config
}

// OptionRoute starts a watcher on the source network whose events are relayed to the destination.
// Dependencies: database, networks, signers
func OptionRoute(opts RouteOptions) *Option {
	return &Option{
		name:         "route-" + opts.Name,
		dependencies: []string{"database", "networks", "signers"},
		f: func(ctx context.Context, logger *zap.Logger, n *Node) error {
			src, ok := n.networks[opts.Source]
			if !ok || src.Source == nil {
				return &common.ConfigError{Field: "routes." + opts.Name + ".source", Reason: "network " + opts.Source + " cannot be watched"}
			}
			dest, ok := n.networks[opts.Dest]
			if !ok {
				return &common.ConfigError{Field: "routes." + opts.Name + ".dest", Reason: "unknown network " + opts.Dest}
			}
			target, err := dest.Target(opts.Operation)
			if err != nil {
				return err
			}

			route := relayer.Route{
				Name:          opts.Name,
				DestChainID:   dest.ChainID,
				Operation:     opts.Operation,
				Destination:   submitter.New(target, opts.Submit, logger.Named(opts.Name)),
				ResourceLimit: opts.ResourceLimit,
			}
			if opts.Confirm != "" {
				confirm, ok := n.networks[opts.Confirm]
				if !ok {
					return &common.ConfigError{Field: "routes." + opts.Name + ".confirm", Reason: "unknown network " + opts.Confirm}
				}
				ct, err := confirm.Target(common.OpConfirmUnlock)
				if err != nil {
					return err
				}
				route.Confirm = submitter.New(ct, opts.Submit, logger.Named(opts.Name+"-confirm"))
			}

			w, err := watcher.New(watcher.Config{
				Name:         opts.Name,
				Kind:         opts.Event,
				StartHeight:  opts.StartHeight,
				PollInterval: opts.PollInterval,
				MaxRange:     opts.MaxRange,
			}, src.Source, n.relayer.Handler(route), n.cursors, n.Readiness())
			if err != nil {
				return err
			}

			n.mu.Lock()
			n.watchers[opts.Name] = w
			n.mu.Unlock()
			n.runnablesWithScissors["route-"+opts.Name] = w.Run

			logger.Info("route configured",
				zap.String("route", opts.Name),
				zap.String("source", opts.Source),
				zap.String("event", string(opts.Event)),
				zap.String("dest", opts.Dest),
				zap.String("operation", string(opts.Operation)),
				zap.String("confirm", opts.Confirm))
			return nil
		}}
}

// OptionStatusServer serves /readyz, /metrics and /v1/cursors on statusAddr. An empty address disables it.
// Dependencies: none
func OptionStatusServer(statusAddr string) *Option {
	return &Option{
		name: "status-server",
		f: func(_ context.Context, _ *zap.Logger, n *Node) error {
			if statusAddr == "" {
				return nil
			}
			server := &http.Server{
				Addr:              statusAddr,
				Handler:           n.statusRouter(),
				ReadHeaderTimeout: time.Second, // SECURITY defense against Slowloris Attack
				ReadTimeout:       time.Second,
				WriteTimeout:      time.Second,
			}

			n.runnables["status-server"] = func(ctx context.Context) error {
				logger := supervisor.Logger(ctx)
				go func() {
					if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
						logger.Error("status server crashed", zap.Error(err))
					}
				}()
				logger.Info("status server listening", zap.String("status_addr", statusAddr))

				<-ctx.Done()
				//nolint:contextcheck // ctx is already cancelled here and Shutdown would return immediately.
				if err := server.Shutdown(context.Background()); err != nil {
					logger.Error("error while shutting down status server", zap.Error(err))
				}
				return nil
			}
			return nil
		}}
}

// statusRouter uses its own router so handlers registered on http.DefaultServeMux are never exposed.
func (n *Node) statusRouter() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/readyz", n.Readiness().Handler)
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/v1/cursors", n.cursorsHandler).Methods(http.MethodGet)
	router.HandleFunc("/v1/cursors/{route}", n.cursorsHandler).Methods(http.MethodGet)
	return router
}

type cursorResponse struct {
	Route               string `json:"route"`
	LastProcessedHeight uint64 `json:"lastProcessedHeight"`
}

func (n *Node) cursorsHandler(w http.ResponseWriter, r *http.Request) {
	cursors := n.Cursors()

	var resp []cursorResponse
	if route, ok := mux.Vars(r)["route"]; ok {
		h, found := cursors[route]
		if !found {
			http.Error(w, "unknown route", http.StatusNotFound)
			return
		}
		resp = append(resp, cursorResponse{Route: route, LastProcessedHeight: h})
	} else {
		for _, name := range sortedKeys(cursors) {
			resp = append(resp, cursorResponse{Route: name, LastProcessedHeight: cursors[name]})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func sortedKeys(m map[string]uint64) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
