package types

import (
	"context"
	"time"

	"google.golang.org/grpc"
)

type LaunchType string

const (
	// LocalMultiThreading runs every node as a goroutine of the launching process.
	LocalMultiThreading LaunchType = "local_mt"
	// LocalMultiProcessing runs every node in its own OS process on this host.
	LocalMultiProcessing LaunchType = "local_mp"
	// SSHMultiMachines runs every node as a process on a remote host reached over ssh.
	SSHMultiMachines LaunchType = "ssh"
	// VertexAI submits every group as a cloud job.
	VertexAI LaunchType = "vertex_ai"
	// TestMultiThreading is LocalMultiThreading with test friendly defaults.
	TestMultiThreading LaunchType = "test_mt"
	// TestMultiProcessing is LocalMultiProcessing with test friendly defaults.
	TestMultiProcessing LaunchType = "test_mp"
)

var launchTypes = []LaunchType{
	LocalMultiThreading,
	LocalMultiProcessing,
	SSHMultiMachines,
	VertexAI,
	TestMultiThreading,
	TestMultiProcessing,
}

// LaunchTypes returns the closed set of known launch types.
func LaunchTypes() []LaunchType {
	return append([]LaunchType(nil), launchTypes...)
}

func (t LaunchType) Valid() bool {
	for _, lt := range launchTypes {
		if lt == t {
			return true
		}
	}
	return false
}

func (t LaunchType) String() string {
	return string(t)
}

// IsLocal reports whether nodes run on this host outside of a test harness.
func (t LaunchType) IsLocal() bool {
	return t == LocalMultiThreading || t == LocalMultiProcessing
}

// IsLocalOrTest reports whether nodes run on this host.
func (t LaunchType) IsLocalOrTest() bool {
	return t.IsLocal() || t == TestMultiThreading || t == TestMultiProcessing
}

// ParseLaunchType converts a configuration value into a LaunchType.
func ParseLaunchType(s string) (LaunchType, error) {
	lt := LaunchType(s)
	if !lt.Valid() {
		return "", NewUnknownLaunchTypeError(s)
	}
	return lt, nil
}

type StatusType int32

const (
	None     StatusType = 0
	Pending  StatusType = 1
	Running  StatusType = 2
	Failed   StatusType = 5
	Finished StatusType = 10
)

func (s StatusType) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Failed:
		return "failed"
	case Finished:
		return "finished"
	}
	return "none"
}

// Context is handed to every node entry point. It is cancelled once the
// program stop signal fires, so Done() doubles as the raw stop handle.
type Context interface {
	context.Context

	LaunchType() LaunchType
	/**
	 * LaunchConfig is the per-group resource bag given at launch time,
	 * nil when the backend was not given one.
	 */
	LaunchConfig() Data
	// Label is the group label of the running node.
	Label() string

	WaitForStop() bool
	WaitForStopTimeout(timeout time.Duration) bool
	RegisterStopHandler(handler func())
	// StopProgram requests a stop of the whole program.
	StopProgram()
}

// NodeFunc is the entry point of a PyNode.
type NodeFunc func(ctx Context, args Data) error

// ServiceFunc registers the RPC surface of a CourierNode on srv. The
// launcher serves srv until the program stops.
type ServiceFunc func(ctx Context, srv *grpc.Server, args Data) error

// Controller is returned by launchers that support post-launch waiting.
type Controller interface {
	// Wait blocks until every node of the program has exited.
	Wait() error
}
