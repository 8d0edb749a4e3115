package main

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harry-0909/ic/internal/costconfig"
	"github.com/harry-0909/ic/internal/engine"
	"github.com/harry-0909/ic/internal/logging"
	"github.com/harry-0909/ic/internal/pagemap"
	"github.com/harry-0909/ic/internal/rpc"
	"github.com/harry-0909/ic/internal/sandbox"
)

// options holds the flag values newRootCommand binds; runSandbox turns them
// into a running process.
type options struct {
	configPath string
	listen     string
	workers    int
}

// newRootCommand builds the sandboxd CLI, mirroring the teacher corpus's
// own cobra convention of a constructor returning a *cobra.Command with
// RunE set, rather than package-level flag state.
func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "sandboxd",
		Short: "Runs a canister sandbox process over a controller RPC connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSandbox(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "path to the sandbox YAML config file (costs, workers, memory limit)")
	flags.StringVar(&opts.listen, "listen", "127.0.0.1:0", "address to accept the controller's connection on")
	flags.IntVar(&opts.workers, "workers", 0, "worker pool size; overrides the config file's workers setting when non-zero")

	return cmd
}

// runSandbox wires config → logger → engine → manager → RPC and blocks
// serving exactly one controller connection (the lifetime of a canister
// sandbox process, per spec.md §2's one-sandbox-per-canister model).
func runSandbox(ctx context.Context, opts *options) error {
	cfg := costconfig.Default()
	if opts.configPath != "" {
		loaded, err := costconfig.Load(opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if opts.workers > 0 {
		cfg.Workers = opts.workers
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	runtime, err := engine.NewRuntime(ctx, engine.Config{MemoryLimitPages: cfg.MemoryLimitPages})
	if err != nil {
		return fmt.Errorf("sandboxd: start engine: %w", err)
	}
	defer runtime.Close(ctx)

	listen := opts.listen
	if cfg.Listen != "" && listen == "127.0.0.1:0" {
		listen = cfg.Listen
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("sandboxd: listen on %s: %w", listen, err)
	}
	defer ln.Close()
	logger.Info("waiting for controller connection", zap.String("addr", ln.Addr().String()))

	conn, err := ln.Accept()
	if err != nil {
		return fmt.Errorf("sandboxd: accept controller connection: %w", err)
	}
	defer conn.Close()
	logger.Info("controller connected", zap.String("remote", conn.RemoteAddr().String()))

	return serve(ctx, conn, runtime, cfg, logger)
}

// serve builds the Manager/Server/ControllerClient triangle around conn and
// runs the peer's read loop until the connection closes, terminate fires, or
// a send failure makes the sandbox layer unrecoverable (spec.md §4.2).
func serve(ctx context.Context, conn net.Conn, runtime *engine.Runtime, cfg costconfig.Config, logger *zap.Logger) error {
	var subnetAvailable atomic.Int64
	subnetAvailable.Store(cfg.SubnetAvailableMemory)

	alloc := pagemap.NewHeapAllocator()
	transport := rpc.NewTransport(conn)

	var server *rpc.Server
	handler := func(kind string, req rpc.Frame) (string, interface{}, error) {
		return server.Handle(kind, req)
	}
	peer := rpc.NewPeer(transport, handler)

	done := make(chan struct{})
	closeOnce := func() {
		select {
		case <-done:
		default:
			close(done)
		}
	}

	var terminated atomic.Bool
	onTerminate := func() {
		terminated.Store(true)
		closeOnce()
	}

	var fatalMu sync.Mutex
	var fatal error
	onSendFailure := func(err error) {
		fatalMu.Lock()
		if fatal == nil {
			fatal = err
		}
		fatalMu.Unlock()
		logger.Error("execution_finished send failed; terminating", zap.Error(err))
		closeOnce()
	}

	controller := rpc.NewControllerClient(peer, alloc, onSendFailure)

	manager := sandbox.NewManager(sandbox.Config{
		Runtime:    runtime,
		Controller: controller,
		CostTable:  cfg.CostTable(),
		Workers:    cfg.Workers,
	})
	server = rpc.NewServer(manager, alloc, &subnetAvailable, onTerminate)

	go func() {
		<-done
		conn.Close()
	}()

	serveErr := peer.Serve()

	fatalMu.Lock()
	fatalErr := fatal
	fatalMu.Unlock()
	if fatalErr != nil {
		return fmt.Errorf("sandboxd: execution_finished notify failed: %w", fatalErr)
	}
	if terminated.Load() {
		logger.Info("controller requested terminate", zap.Error(serveErr))
		return nil
	}
	if serveErr != nil {
		return fmt.Errorf("sandboxd: controller connection: %w", serveErr)
	}
	return nil
}
