// Package launch holds the launchers of every backend and the worker side
// entry of re-executed worker processes.
package launch

import (
	"net"
	"os"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/launchpad/config"
	"github.com/warriorguo/launchpad/program"
	"github.com/warriorguo/launchpad/serialization"
	"github.com/warriorguo/launchpad/store"
	"github.com/warriorguo/launchpad/store/postgres"
	"github.com/warriorguo/launchpad/types"
)

// Environment of a worker process.
const (
	EnvWorkerPayload = "LP_WORKER_PAYLOAD"
	EnvWorkerIndex   = "LP_WORKER_INDEX"
	EnvLaunchType    = "LP_LAUNCH_TYPE"
	EnvLauncherPID   = "LP_LAUNCHER_PID"
	EnvLaunchConfig  = "LP_LAUNCH_CONFIG"
	// group of a colocated node, its entry is labelled after the colocation
	EnvGroupLabel = "LP_GROUP_LABEL"
)

// Backend option keys.
const (
	OptExecutable = "executable"
	OptArgs       = "args"
	OptOutputDir  = "output_dir"
	OptSSHCommand = "ssh_command"
	OptBinary     = "binary"
	OptStagingDir = "staging_dir"
	OptSubmitter  = "submitter"
	OptSSHClient  = "ssh_client"
)

// Resource keys of a group.
const (
	ResEnv      = "env"
	ResHost     = "host"
	ResReplicas = "replicas"
	// ports of the courier nodes of a group on its remote host, in node order
	ResPorts = "ports"

	// native ssh client only
	ResUser            = "user"
	ResPort            = "port"
	ResKeyPath         = "key_path"
	ResKnownHosts      = "known_hosts"
	ResInsecureHostKey = "insecure_host_key"
)

// Values of OptSSHClient.
const (
	SSHClientCommand = "command"
	SSHClientNative  = "native"
)

const (
	TerminalCurrent = "current_terminal"
	TerminalFiles   = "output_to_files"
)

// checkSerializable validates every group, nothing is started on failure.
func checkSerializable(p *program.Program) error {
	for _, g := range p.Groups() {
		if err := serialization.CheckNodesAreSerializable(g.Label(), g.Nodes()); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// openStore picks the worker record store: an explicit postgres config,
// then an explicit store, then the configured database. nil means memory.
func openStore(opts *types.LaunchOptions) (store.Store, error) {
	if opts.PostgresDSN != "" {
		pg, err := postgres.ParseDSN(opts.PostgresDSN)
		if err != nil {
			return nil, errors.Trace(err)
		}
		s, err := postgres.NewPostgresStore(pg)
		return s, errors.Trace(err)
	}
	if opts.Store != nil {
		return opts.Store, nil
	}
	if pg := config.Default().PostgresConfig(); pg != nil {
		s, err := postgres.NewPostgresStore(pg)
		if err != nil {
			log.Warnf("worker records stay in memory, postgres unavailable: %v", err)
			return nil, nil
		}
		return s, nil
	}
	return nil, nil
}

// terminationNotice resolves a negative launch option to the configured default.
func terminationNotice(opts *types.LaunchOptions) int {
	if opts.TerminationNoticeSecs < 0 {
		return config.Default().TerminationNoticeSecs
	}
	return opts.TerminationNoticeSecs
}

func managerOptions(opts *types.LaunchOptions, s store.Store) []types.ManagerOption {
	return []types.ManagerOption{
		types.WithManagerContext(opts.Ctx),
		types.SetTerminationNoticeSecs(terminationNotice(opts)),
		types.WithRecordStore(s),
	}
}

// listenCouriers binds every courier node to a fresh local listener. The
// couriers of process colocations only get a free port, their subprocess
// listens on it.
func listenCouriers(p *program.Program) (map[*program.Handle]net.Listener, error) {
	listeners := make(map[*program.Handle]net.Listener)
	reserved := make(map[*program.Handle]net.Listener)
	defer closeListeners(reserved)

	var walk func(nodes []program.Node, inProcess bool) error
	walk = func(nodes []program.Node, inProcess bool) error {
		for _, n := range nodes {
			if coloc, ok := n.(*program.ColocationNode); ok {
				if err := walk(coloc.Nodes(), inProcess && coloc.Mode() == program.ColocateThreads); err != nil {
					return err
				}
				continue
			}
			if n.Kind() != program.KindCourier {
				continue
			}
			lis, err := net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				return errors.Annotatef(err, "listen for %s", n.Handle().Name())
			}
			n.Handle().Bind(lis.Addr().String())
			if inProcess {
				listeners[n.Handle()] = lis
			} else {
				reserved[n.Handle()] = lis
			}
		}
		return nil
	}
	if err := walk(p.AllNodes(), true); err != nil {
		closeListeners(listeners)
		return nil, errors.Trace(err)
	}
	return listeners, nil
}

func closeListeners(listeners map[*program.Handle]net.Listener) {
	for _, lis := range listeners {
		lis.Close()
	}
}

// bindFreePorts reserves a local port for every courier node. The worker
// process listens on it once started.
func bindFreePorts(p *program.Program) error {
	listeners, err := listenCouriers(p)
	if err != nil {
		return errors.Trace(err)
	}
	closeListeners(listeners)
	return nil
}

func executable(opts *types.LaunchOptions, key string) (string, error) {
	if path, exists := opts.BackendOptions.GetString(key); exists && path != "" {
		return path, nil
	}
	path, err := os.Executable()
	return path, errors.Annotatef(err, "resolve executable")
}
