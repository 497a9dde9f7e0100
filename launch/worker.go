package launch

import (
	"io"
	"net"
	"os"
	"syscall"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/warriorguo/launchpad/config"
	"github.com/warriorguo/launchpad/program"
	"github.com/warriorguo/launchpad/runtime"
	"github.com/warriorguo/launchpad/serialization"
	"github.com/warriorguo/launchpad/types"
	"github.com/warriorguo/launchpad/utils"
)

// RunWorkerIfRequested runs the node this process was started for and
// exits. It returns false in any process which is not a worker, so call it
// first thing in main (or TestMain).
func RunWorkerIfRequested() bool {
	if os.Getenv(EnvWorkerPayload) == "" {
		return false
	}
	if err := config.ConfigureLogging(config.Default()); err != nil {
		log.Warnf("configure logging: %v", err)
	}
	if err := runWorker(os.Getenv, os.Stdin); err != nil {
		log.Errorf("worker failed: %v", errors.ErrorStack(err))
		os.Exit(1)
	}
	os.Exit(0)
	return true
}

// LauncherPID is the pid of the launching process when running inside a
// worker process, 0 otherwise.
func LauncherPID() int {
	return cast.ToInt(os.Getenv(EnvLauncherPID))
}

func runWorker(getenv func(string) string, stdin io.Reader) error {
	entry, err := readEntry(getenv, stdin)
	if err != nil {
		return errors.Trace(err)
	}
	lt, err := types.ParseLaunchType(getenv(EnvLaunchType))
	if err != nil {
		return errors.Trace(err)
	}
	launchConfig := types.Data{}
	if raw := getenv(EnvLaunchConfig); raw != "" {
		if err := utils.Unserialize([]byte(raw), &launchConfig); err != nil {
			return errors.Annotatef(err, "decode %s", EnvLaunchConfig)
		}
	}

	n, err := entry.Node()
	if err != nil {
		return errors.Trace(err)
	}
	m := runtime.NewWorkerManager(lt)
	launcherPID := cast.ToInt(getenv(EnvLauncherPID))
	label := entry.Label
	if group := getenv(EnvGroupLabel); group != "" {
		label = group
	}
	newContext := func() types.Context {
		return &workerContext{Context: m.NodeContext(label, launchConfig), launcherPID: launcherPID}
	}
	listen := func(h *program.Handle) (net.Listener, error) {
		return net.Listen("tcp", listenAddress(lt, h.Address()))
	}
	fn, err := nodeWorker(m, n, newContext, listen)
	if err != nil {
		m.Abort(nil)
		return errors.Trace(err)
	}

	log.Debugf("worker %s running %s %s", entry.Name(), entry.Kind, entry.Function)
	if _, err := m.ThreadWorker(entry.Label, fn); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(m.Wait())
}

// readEntry decodes the payload, a file path or - for stdin, and picks the
// entry of this worker.
func readEntry(getenv func(string) string, stdin io.Reader) (*serialization.Entry, error) {
	source := getenv(EnvWorkerPayload)
	var (
		b   []byte
		err error
	)
	if source == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "read payload %s", source)
	}

	entries, err := serialization.Decode(b)
	if err != nil {
		return nil, errors.Trace(err)
	}
	index, err := cast.ToIntE(getenv(EnvWorkerIndex))
	if err != nil {
		return nil, errors.BadRequestf("%s: %q", EnvWorkerIndex, getenv(EnvWorkerIndex))
	}
	if index < 0 || index >= len(entries) {
		return nil, errors.NotFoundf("entry %d of %d", index, len(entries))
	}
	return &entries[index], nil
}

// workerContext forwards StopProgram to the launching process, which stops
// every other worker.
type workerContext struct {
	types.Context

	launcherPID int
}

func (c *workerContext) StopProgram() {
	if c.launcherPID > 0 {
		if err := syscall.Kill(c.launcherPID, syscall.SIGTERM); err != nil {
			log.Warnf("stop launcher %d: %v", c.launcherPID, err)
		}
	}
	c.Context.StopProgram()
}

// listenAddress is the address a courier worker listens on. Remote hosts
// listen on every interface at the bound port.
func listenAddress(lt types.LaunchType, address string) string {
	if lt != types.SSHMultiMachines || address == "" {
		return address
	}
	_, port, err := net.SplitHostPort(address)
	if err != nil {
		return address
	}
	return net.JoinHostPort("", port)
}
