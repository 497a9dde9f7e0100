package launch

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/launchpad/program"
	"github.com/warriorguo/launchpad/runtime"
	"github.com/warriorguo/launchpad/serialization"
	"github.com/warriorguo/launchpad/types"
	"github.com/warriorguo/launchpad/utils"
)

// LocalMultiProcessing runs every node in its own process re-executing the
// current binary, which must call RunWorkerIfRequested first thing.
func LocalMultiProcessing(p *program.Program, opts *types.LaunchOptions) (types.Controller, error) {
	return launchProcesses(p, opts, types.LocalMultiProcessing, opts.Terminal)
}

// TestMultiProcessing is LocalMultiProcessing with the output of every
// worker in the current terminal.
func TestMultiProcessing(p *program.Program, opts *types.LaunchOptions) (types.Controller, error) {
	return launchProcesses(p, opts, types.TestMultiProcessing, TerminalCurrent)
}

// processController removes the payload files once the workers are done.
type processController struct {
	*runtime.WorkerManager

	payloadDir string
}

// abort releases a launch which failed before every worker was started.
func (c *processController) abort() {
	c.Abort(func() {
		if err := os.RemoveAll(c.payloadDir); err != nil {
			log.Warnf("remove payloads %s: %v", c.payloadDir, err)
		}
	})
}

func (c *processController) Wait() error {
	err := c.WorkerManager.Wait()
	if rmErr := os.RemoveAll(c.payloadDir); rmErr != nil {
		log.Warnf("remove payloads %s: %v", c.payloadDir, rmErr)
	}
	return err
}

func launchProcesses(p *program.Program, opts *types.LaunchOptions, lt types.LaunchType, terminal string) (types.Controller, error) {
	if terminal != TerminalCurrent && terminal != TerminalFiles {
		return nil, errors.NotSupportedf("terminal %s", terminal)
	}
	if err := checkSerializable(p); err != nil {
		return nil, errors.Trace(err)
	}
	binary, err := executable(opts, OptExecutable)
	if err != nil {
		return nil, errors.Trace(err)
	}
	extraArgs, _ := opts.BackendOptions.GetStringSlice(OptArgs)

	if err := bindFreePorts(p); err != nil {
		return nil, errors.Trace(err)
	}
	payloadDir, err := os.MkdirTemp("", "launchpad-")
	if err != nil {
		return nil, errors.Annotatef(err, "create payload dir")
	}
	payloads, err := writePayloads(p, payloadDir)
	if err != nil {
		os.RemoveAll(payloadDir)
		return nil, errors.Trace(err)
	}
	outputDir := ""
	if terminal == TerminalFiles {
		outputDir, _ = opts.BackendOptions.GetString(OptOutputDir)
		if outputDir == "" {
			outputDir = payloadDir
		}
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			os.RemoveAll(payloadDir)
			return nil, errors.Annotatef(err, "create output dir")
		}
	}

	s, err := openStore(opts)
	if err != nil {
		os.RemoveAll(payloadDir)
		return nil, errors.Trace(err)
	}
	m := runtime.NewWorkerManager(lt, managerOptions(opts, s)...)
	c := &processController{WorkerManager: m, payloadDir: payloadDir}

	for _, g := range p.Groups() {
		env, err := workerEnv(lt, opts.GroupResources(g.Label()))
		if err != nil {
			c.abort()
			return nil, errors.Trace(err)
		}
		for i, n := range g.Nodes() {
			cmd := exec.Command(binary, extraArgs...)
			cmd.Env = append(os.Environ(), env...)
			cmd.Env = append(cmd.Env,
				EnvWorkerPayload+"="+payloads[g.Label()],
				EnvWorkerIndex+"="+strconv.Itoa(i),
				EnvLauncherPID+"="+strconv.Itoa(os.Getpid()),
			)
			if err := startProcess(m, g.Label(), cmd, outputDir, n.Handle()); err != nil {
				c.abort()
				return nil, errors.Trace(err)
			}
		}
	}
	log.Debugf("program %s launched with %d worker processes", p.Name(), p.NumNodes())
	return c, nil
}

func startProcess(m *runtime.WorkerManager, label string, cmd *exec.Cmd, outputDir string, h *program.Handle) error {
	if outputDir == "" {
		cmd.Stdin = nil
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		_, err := m.ProcessWorker(label, cmd)
		return errors.Trace(err)
	}

	logPath := filepath.Join(outputDir, fmt.Sprintf("%s_%d.log", label, h.Index()))
	f, err := os.Create(logPath)
	if err != nil {
		return errors.Annotatef(err, "create output of %s", h.Name())
	}
	defer f.Close()
	cmd.Stdout = f
	cmd.Stderr = f
	_, err = m.ProcessWorker(label, cmd)
	return errors.Trace(err)
}

// writePayloads writes one payload file per group and returns their paths
// keyed by group label.
func writePayloads(p *program.Program, dir string) (map[string]string, error) {
	payloads := make(map[string]string)
	for i, g := range p.Groups() {
		path := filepath.Join(dir, fmt.Sprintf("%03d.json", i))
		if err := serialization.SerializeFunctions(path, g.Label(), g.Nodes()); err != nil {
			return nil, errors.Trace(err)
		}
		payloads[g.Label()] = path
	}
	return payloads, nil
}

// workerEnv is the environment shared by the workers of one group.
func workerEnv(lt types.LaunchType, resources types.Data) ([]string, error) {
	env := []string{EnvLaunchType + "=" + lt.String()}
	if resources == nil {
		return env, nil
	}
	b, err := utils.Serialize(resources)
	if err != nil {
		return nil, errors.Annotatef(err, "encode launch config")
	}
	env = append(env, EnvLaunchConfig+"="+string(b))

	extra, _ := resources.GetStringMapString(ResEnv)
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env, nil
}
