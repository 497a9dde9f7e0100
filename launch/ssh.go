package launch

import (
	"bytes"
	"net"
	"os/exec"
	"strconv"
	"strings"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/launchpad/program"
	"github.com/warriorguo/launchpad/runtime"
	"github.com/warriorguo/launchpad/serialization"
	"github.com/warriorguo/launchpad/types"
)

var defaultSSHCommand = []string{"ssh"}

// SSHMultiMachines runs every node as a process on the host named by the
// "host" resource of its group. The payload is streamed over the ssh
// connection, the remote binary is the local executable path unless the
// "binary" option names another one.
//
// The "ssh_client" option selects the transport: "command" (default) runs
// the ssh binary, "native" dials the hosts itself with the user, port,
// key_path and known_hosts resources of each group.
func SSHMultiMachines(p *program.Program, opts *types.LaunchOptions) (types.Controller, error) {
	if err := checkSerializable(p); err != nil {
		return nil, errors.Trace(err)
	}
	binary, err := executable(opts, OptBinary)
	if err != nil {
		return nil, errors.Trace(err)
	}
	sshCommand, exists := opts.BackendOptions.GetStringSlice(OptSSHCommand)
	if !exists || len(sshCommand) == 0 {
		sshCommand = defaultSSHCommand
	}
	extraArgs, _ := opts.BackendOptions.GetStringSlice(OptArgs)
	client, _ := opts.BackendOptions.GetString(OptSSHClient)
	if client == "" {
		client = SSHClientCommand
	}
	if client != SSHClientCommand && client != SSHClientNative {
		return nil, errors.NotSupportedf("ssh client %q", client)
	}

	type groupLaunch struct {
		label   string
		host    string
		target  *sshTarget
		env     []string
		payload []byte
		nodes   int
	}
	// every courier is bound before any payload holding its handle is built
	hosts := make(map[string]string)
	for _, g := range p.Groups() {
		resources := opts.GroupResources(g.Label())
		host, _ := resources.GetString(ResHost)
		if host == "" {
			return nil, errors.BadRequestf("group %s has no %s resource", g.Label(), ResHost)
		}
		if err = bindRemoteCouriers(g, host, resources); err != nil {
			return nil, errors.Trace(err)
		}
		hosts[g.Label()] = host
	}

	launches := make([]groupLaunch, 0)
	for _, g := range p.Groups() {
		resources := opts.GroupResources(g.Label())
		host := hosts[g.Label()]
		var target *sshTarget
		if client == SSHClientNative {
			if target, err = newSSHTarget(host, resources); err != nil {
				return nil, errors.Annotatef(err, "group %s", g.Label())
			}
		}
		env, err := workerEnv(types.SSHMultiMachines, resources)
		if err != nil {
			return nil, errors.Trace(err)
		}
		payload, err := serialization.Serialize(g.Label(), g.Nodes())
		if err != nil {
			return nil, errors.Trace(err)
		}
		launches = append(launches, groupLaunch{g.Label(), host, target, env, payload, g.Len()})
	}

	s, err := openStore(opts)
	if err != nil {
		return nil, errors.Trace(err)
	}
	m := runtime.NewWorkerManager(types.SSHMultiMachines, managerOptions(opts, s)...)
	notice := terminationNotice(opts)
	for _, l := range launches {
		for i := 0; i < l.nodes; i++ {
			env := append(append([]string{}, l.env...),
				EnvWorkerPayload+"=-",
				EnvWorkerIndex+"="+strconv.Itoa(i),
			)
			if l.target != nil {
				command := strings.Join(remoteCommand(env, binary, extraArgs), " ")
				if _, err := m.ThreadWorker(l.label, l.target.worker(m, command, l.payload, notice)); err != nil {
					m.Abort(nil)
					return nil, errors.Trace(err)
				}
				continue
			}
			args := sshArgs(sshCommand, l.host, env, binary, extraArgs)
			cmd := exec.Command(args[0], args[1:]...)
			cmd.Stdin = bytes.NewReader(l.payload)
			if _, err := m.ProcessWorker(l.label, cmd); err != nil {
				m.Abort(nil)
				return nil, errors.Trace(err)
			}
		}
	}
	log.Debugf("program %s launched on %d groups over ssh", p.Name(), len(launches))
	return m, nil
}

// bindRemoteCouriers binds the unbound courier nodes of g on host to the
// ports listed by the "ports" resource.
func bindRemoteCouriers(g *program.Group, host string, resources types.Data) error {
	ports, _ := resources.GetStringSlice(ResPorts)
	if i := strings.LastIndex(host, "@"); i >= 0 {
		host = host[i+1:]
	}
	next := 0
	for _, n := range program.Expand(g.Nodes()) {
		if n.Kind() != program.KindCourier || n.Handle().Address() != "" {
			continue
		}
		if next >= len(ports) {
			return errors.BadRequestf("group %s needs a %s resource entry for %s", g.Label(), ResPorts, n.Handle().Name())
		}
		n.Handle().Bind(net.JoinHostPort(host, ports[next]))
		next++
	}
	return nil
}

// sshArgs builds `ssh <host> env K=V... <binary> <args>`. The remote shell
// parses the command again, so everything after the host is quoted.
func sshArgs(sshCommand []string, host string, env []string, binary string, extraArgs []string) []string {
	args := append([]string{}, sshCommand...)
	args = append(args, host)
	return append(args, remoteCommand(env, binary, extraArgs)...)
}

// remoteCommand is the quoted `env K=V... <binary> <args>` run by the
// remote shell.
func remoteCommand(env []string, binary string, extraArgs []string) []string {
	args := []string{"env"}
	for _, kv := range env {
		args = append(args, shellQuote(kv))
	}
	args = append(args, shellQuote(binary))
	for _, a := range extraArgs {
		args = append(args, shellQuote(a))
	}
	return args
}

func shellQuote(s string) string {
	if s != "" && strings.Trim(s, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-./=:,") == "" {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
