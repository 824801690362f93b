// Command clustercored wires together the cluster registry (C2), the
// file-list catalog (C3/C4), the WAL-to-storage mover (C5), the deletion
// coordinator (C6), and the WebSocket router/worker endpoints (C7/C8)
// according to this process's node_role (spec §6).
//
// A rungroup starts every named component together and tears the rest
// down as soon as the first one exits.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openobserve-go/clustercore/catalog"
	"github.com/openobserve-go/clustercore/cluster"
	"github.com/openobserve-go/clustercore/cmn"
	"github.com/openobserve-go/clustercore/gc"
	"github.com/openobserve-go/clustercore/kvstore"
	"github.com/openobserve-go/clustercore/mover"
	"github.com/openobserve-go/clustercore/objstore"
	"github.com/openobserve-go/clustercore/wsrouter"
	"github.com/openobserve-go/clustercore/wsworker"
)

var log = cmn.NewLogger("clustercored")

// runner is a named component this process starts and stops together
// with its siblings (rungroup, below).
type runner interface {
	Name() string
	Run(ctx context.Context) error
}

func main() {
	cfg, err := cmn.LoadConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutting down")
		cancel()
	}()

	rg := newRungroup()

	// node_role=All is local/standalone mode: it rejects cluster
	// membership outright (spec §6 process environment — "All ⇒ local
	// mode rejects any cluster membership; effect: C2 skips
	// registration"). Every other role combination joins the cluster
	// registry, since get_node_from_consistent_hash is cluster-wide, not
	// per-role.
	var registry *cluster.Registry
	if !cmn.HasRole(cfg.NodeRoles, cmn.RoleAll) {
		kv, err := kvstore.DialEtcd(etcdEndpoints(), cfg.Cluster.HeartbeatTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("dial etcd")
		}
		defer kv.Close()

		self := &cluster.Node{
			UUID:     uuid.NewString(),
			Name:     hostname(),
			Roles:    cfg.NodeRoles,
			HTTPAddr: os.Getenv("http_addr"),
			GRPCAddr: os.Getenv("grpc_addr"),
			Status:   cluster.StatusPrepare,
		}
		isIngester := cmn.HasRole(cfg.NodeRoles, cmn.RoleIngester)
		registry = cluster.NewRegistry(kv, cfg.Cluster, self, isIngester, nil)
		if err := registry.Register(ctx); err != nil {
			log.Fatal().Err(err).Msg("register with cluster")
		}
		rg.add(namedRunnerFunc("cluster-liveness", func(ctx context.Context) error {
			registry.Liveness(ctx)
			return nil
		}))
	}

	var store *catalog.Store
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			log.Fatal().Err(err).Msg("connect to catalog database")
		}
		defer pool.Close()
		store = catalog.NewStore(pool, cfg.Catalog)
	}

	if cmn.HasRole(cfg.NodeRoles, cmn.RoleIngester) && store != nil {
		// MemQueue stands in for a durable pending-delete backend; nothing
		// in this core persists that queue to disk or a table yet (see
		// gc.MemQueue's doc comment).
		coord := gc.NewCoordinator(gc.NewMemQueue())
		objects := objstore.NewS3Client(nil)
		diskFS := &mover.DiskFS{CacheDir: os.Getenv("cache_dir")}
		m := mover.New(mover.Config{MoverConf: cfg.Mover, WALDir: os.Getenv("data_wal_dir")},
			store, objects, coord, nil, nil, nil, nil, diskFS)
		rg.add(namedRunnerFunc("mover", m.Run))
	}

	if cmn.HasRole(cfg.NodeRoles, cmn.RoleQuerier) {
		worker := wsworker.New(nil)
		rg.add(httpRunner("wsworker", os.Getenv("worker_listen_addr"), worker))
	}

	if cmn.HasRole(cfg.NodeRoles, cmn.RoleRouter) && registry != nil {
		router := wsrouter.New(cfg.Session, registry, func(uuid string) (string, bool) {
			n := firstNode(registry, uuid)
			if n == nil {
				return "", false
			}
			return n.HTTPAddr, true
		}, nil, nil)
		rg.add(httpRunner("wsrouter", os.Getenv("router_listen_addr"), routerMux(router)))
		rg.add(namedRunnerFunc("wsrouter-reaper", router.ReapSessions))
	}

	if err := rg.run(ctx); err != nil {
		log.Error().Err(err).Msg("exited with error")
		os.Exit(1)
	}
}

func firstNode(r *cluster.Registry, uuid string) *cluster.Node {
	nodes := r.GetCachedOnlineNodes(func(n *cluster.Node) bool { return n.UUID == uuid })
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

func routerMux(rt *wsrouter.Router) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/v2/", func(w http.ResponseWriter, req *http.Request) {
		org, clientID := parseWSPath(req.URL.Path)
		rt.ServeHTTP(w, req, org, clientID)
	})
	return mux
}

// parseWSPath extracts {org}/{client_id} from /ws/v2/{org}/{client_id}
// (spec §6 endpoint shape).
func parseWSPath(path string) (org, clientID string) {
	const prefix = "/ws/v2/"
	rest := path[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:]
		}
	}
	return rest, ""
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func etcdEndpoints() []string {
	if v := os.Getenv("etcd_endpoints"); v != "" {
		return splitComma(v)
	}
	return []string{"127.0.0.1:2379"}
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// namedRunnerFunc and httpRunner adapt plain functions / http.Handlers to
// the runner interface, each wrapping one long-lived loop.

type namedRunner struct {
	name string
	fn   func(ctx context.Context) error
}

func namedRunnerFunc(name string, fn func(ctx context.Context) error) runner {
	return &namedRunner{name: name, fn: fn}
}

func (r *namedRunner) Name() string                  { return r.name }
func (r *namedRunner) Run(ctx context.Context) error { return r.fn(ctx) }

type httpServerRunner struct {
	name string
	addr string
	h    http.Handler
}

func httpRunner(name, addr string, h http.Handler) runner {
	return &httpServerRunner{name: name, addr: addr, h: h}
}

func (r *httpServerRunner) Name() string { return r.name }

func (r *httpServerRunner) Run(ctx context.Context) error {
	if r.addr == "" {
		<-ctx.Done()
		return ctx.Err()
	}
	srv := &http.Server{Addr: r.addr, Handler: r.h}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		return err
	}
}

// rungroup: every runner starts together; the first one to exit tears
// the rest down via ctx cancellation.
type rungroup struct {
	runners []runner
}

func newRungroup() *rungroup { return &rungroup{} }

func (g *rungroup) add(r runner) { g.runners = append(g.runners, r) }

func (g *rungroup) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(g.runners))
	var wg sync.WaitGroup
	for _, r := range g.runners {
		wg.Add(1)
		go func(r runner) {
			defer wg.Done()
			err := r.Run(ctx)
			if err != nil {
				log.Warn().Err(err).Str("runner", r.Name()).Msg("runner exited")
			}
			errCh <- err
		}(r)
	}

	first := <-errCh
	cancel()
	wg.Wait()
	return first
}
