// Package chand wires the chan/shm scheme cores, their transports and the
// reactor event loop into a runnable daemon, plus the ambient stack
// (diagnostics HTTP, stats ticker, readiness signal) that surrounds the
// core scheme protocol. The shape mirrors lxd.Daemon: a struct built once
// at startup, started, and torn down on shutdown.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/user"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/redox-os/ipcd/internal/logger"
	"github.com/redox-os/ipcd/reactor"
	"github.com/redox-os/ipcd/scheme/shmscheme"
	"github.com/redox-os/ipcd/transport"
)

// Daemon owns every long-lived component chand starts: the two scheme
// transports, the reactor loop driving both cores, the diagnostics HTTP
// server and the stats ticker. Matches lxd.Daemon's field-bag shape
// (lxd/daemon.go), reduced to this daemon's much smaller surface.
type Daemon struct {
	id     string
	cfg    Config
	start  time.Time
	loop   *reactor.Loop
	diag   *http.Server
	ticker *cron.Cron

	chanConn transport.Conn
	shmConn  transport.Conn
}

// NewDaemon builds a Daemon from cfg but does not bind any socket or start
// any goroutine yet — call Run for that.
func NewDaemon(cfg Config) *Daemon {
	logger.SetDebug(cfg.Debug)

	return &Daemon{
		id:    uuid.NewString(),
		cfg:   cfg,
		start: time.Now(),
	}
}

// Run binds both scheme transports, starts the reactor loop, the
// diagnostics server and the stats ticker, signals readiness, and blocks
// until ctx is cancelled or the reactor loop exits (with an error, or
// normally once both schemes have unmounted).
func (d *Daemon) Run(ctx context.Context) error {
	chanConn, err := d.listenScheme("chan", d.cfg.ChanSocket, d.cfg.ChanVsockPort)
	if err != nil {
		return fmt.Errorf("binding chan scheme: %w", err)
	}
	d.chanConn = chanConn

	shmConn, err := d.listenScheme("shm", d.cfg.ShmSocket, d.cfg.ShmVsockPort)
	if err != nil {
		return fmt.Errorf("binding shm scheme: %w", err)
	}
	d.shmConn = shmConn

	chanCore := reactor.NewChanCore(chanConn)
	shmCore := shmscheme.NewCore()

	d.loop = reactor.NewLoop(chanConn, shmConn, reactor.NewChanCoreAdapter(chanCore), reactor.NewShmCoreAdapter(shmCore))

	if d.cfg.DiagAddr != "" {
		d.diag = newDiagServer(d.cfg.DiagAddr, d)
		go func() {
			logger.Info("starting diagnostics server", logger.Ctx{"addr": d.cfg.DiagAddr})
			if err := d.diag.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("diagnostics server stopped", logger.Ctx{"err": err})
			}
		}()
	}

	if d.cfg.StatsInterval != "" {
		d.ticker, err = newStatsTicker(d.cfg.StatsInterval, d)
		if err != nil {
			return fmt.Errorf("starting stats ticker: %w", err)
		}
		d.ticker.Start()
	}

	if err := signalReady(); err != nil {
		logger.Warn("readiness signal failed", logger.Ctx{"err": err})
	}

	logger.Info("chand started", logger.Ctx{"id": d.id, "chan_socket": d.cfg.ChanSocket, "shm_socket": d.cfg.ShmSocket})

	err = d.loop.Run(ctx)

	d.shutdown()

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("reactor loop: %w", err)
	}

	return nil
}

func (d *Daemon) shutdown() {
	if d.ticker != nil {
		stopCtx := d.ticker.Stop()
		<-stopCtx.Done()
	}

	if d.diag != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.diag.Shutdown(shutdownCtx)
	}

	if d.chanConn != nil {
		_ = d.chanConn.Close()
	}

	if d.shmConn != nil {
		_ = d.shmConn.Close()
	}
}

// listenScheme picks the Unix-socket or vsock transport backend for one
// scheme: which one backs chan vs shm is a config-time choice, not a
// core-semantics one. A non-empty socket path wins over a vsock port.
func (d *Daemon) listenScheme(name, socketPath string, vsockPort uint32) (transport.Conn, error) {
	if socketPath != "" {
		conn, err := transport.ListenUnix(socketPath)
		if err != nil {
			return nil, err
		}

		if d.cfg.Group != "" {
			if err := chownSocketGroup(socketPath, d.cfg.Group); err != nil {
				logger.Warn("failed setting socket group", logger.Ctx{"scheme": name, "path": socketPath, "err": err})
			}
		}

		if err := conn.Accept(); err != nil {
			return nil, fmt.Errorf("accepting on %s socket: %w", name, err)
		}

		return conn, nil
	}

	if vsockPort != 0 {
		conn, err := transport.ListenVsock(vsockPort)
		if err != nil {
			return nil, err
		}

		if err := conn.Accept(); err != nil {
			return nil, fmt.Errorf("accepting on %s vsock: %w", name, err)
		}

		return conn, nil
	}

	return nil, fmt.Errorf("%s scheme has neither a socket path nor a vsock port configured", name)
}

// chownSocketGroup mirrors lxd/daemon.go's control-socket group ownership
// handling: restrict the scheme socket to members of cfg.Group.
func chownSocketGroup(path, group string) error {
	g, err := user.LookupGroup(group)
	if err != nil {
		return fmt.Errorf("looking up group %q: %w", group, err)
	}

	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return fmt.Errorf("parsing gid for group %q: %w", group, err)
	}

	return os.Chown(path, -1, gid)
}
