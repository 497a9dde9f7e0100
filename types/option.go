package types

import (
	"context"

	"github.com/mcuadros/go-defaults"
	"github.com/warriorguo/launchpad/store"
	"github.com/warriorguo/launchpad/store/postgres"
)

// SerializeCheck is the tri-state pre-flight serialization toggle.
type SerializeCheck int

const (
	// SerializeDefault lets the backend decide.
	SerializeDefault  SerializeCheck = 0
	SerializeEnabled  SerializeCheck = 1
	SerializeDisabled SerializeCheck = 2
)

// Resolve returns whether the check runs, falling back to backendDefault.
func (s SerializeCheck) Resolve(backendDefault bool) bool {
	switch s {
	case SerializeEnabled:
		return true
	case SerializeDisabled:
		return false
	}
	return backendDefault
}

func NewLaunchOptions() *LaunchOptions {
	opts := &LaunchOptions{Ctx: context.Background()}
	defaults.SetDefaults(opts)
	return opts
}

type LaunchOptions struct {
	Ctx context.Context
	/**
	 * LaunchType is resolved by the dispatcher: an explicit value wins,
	 * otherwise the process wide default from config is used.
	 */
	LaunchType LaunchType
	// raw value given through WithLaunchTypeString, validated by the dispatcher.
	LaunchTypeString string

	SerializeCheck SerializeCheck
	/**
	 * Resources maps a group label to a Data bag of per-group launch
	 * configuration (env, host, ...). Interpreted by backends only.
	 */
	Resources Data
	// BackendOptions is an opaque bag for the selected backend.
	BackendOptions Data
	/**
	 * default: current_terminal, only multi-processing backends use it.
	 * valid: current_terminal, output_to_files
	 */
	Terminal string `default:"current_terminal"`
	/**
	 * default: -1, meaning the configured process default.
	 * seconds between the stop notice and the hard kill of worker processes.
	 */
	TerminationNoticeSecs int `default:"-1"`

	// Store keeps worker records, MemStore when nil and PostgresDSN unset.
	Store store.Store
	// PostgresDSN takes precedence over Store.
	PostgresDSN string
}

type LaunchOption func(*LaunchOptions)

func WithContext(ctx context.Context) LaunchOption {
	return func(opts *LaunchOptions) {
		opts.Ctx = ctx
	}
}

func WithLaunchType(lt LaunchType) LaunchOption {
	return func(opts *LaunchOptions) {
		opts.LaunchType = lt
	}
}

// WithLaunchTypeString takes the launch type from a configuration string.
func WithLaunchTypeString(s string) LaunchOption {
	return func(opts *LaunchOptions) {
		opts.LaunchTypeString = s
	}
}

// WithSerializeCheck forces the pre-flight serialization check on or off.
func WithSerializeCheck(enabled bool) LaunchOption {
	return func(opts *LaunchOptions) {
		if enabled {
			opts.SerializeCheck = SerializeEnabled
		} else {
			opts.SerializeCheck = SerializeDisabled
		}
	}
}

func WithResources(resources Data) LaunchOption {
	return func(opts *LaunchOptions) {
		opts.Resources = resources
	}
}

func WithBackendOptions(backendOpts Data) LaunchOption {
	return func(opts *LaunchOptions) {
		opts.BackendOptions = backendOpts
	}
}

func WithTerminal(terminal string) LaunchOption {
	return func(opts *LaunchOptions) {
		opts.Terminal = terminal
	}
}

func WithTerminationNoticeSecs(secs int) LaunchOption {
	return func(opts *LaunchOptions) {
		opts.TerminationNoticeSecs = secs
	}
}

func WithStore(s store.Store) LaunchOption {
	return func(opts *LaunchOptions) {
		opts.Store = s
	}
}

// WithPostgresConfig keeps worker records in PostgreSQL
func WithPostgresConfig(config *postgres.Config) LaunchOption {
	return func(opts *LaunchOptions) {
		opts.PostgresDSN = config.DSN()
	}
}

// GroupResources returns the resource bag of one group, nil when absent.
func (o *LaunchOptions) GroupResources(label string) Data {
	if o == nil {
		return nil
	}
	res, _ := o.Resources.GetData(label)
	return res
}

func NewManagerOptions() *ManagerOptions {
	opts := &ManagerOptions{Ctx: context.Background()}
	defaults.SetDefaults(opts)
	return opts
}

type ManagerOptions struct {
	Ctx context.Context
	/**
	 * default: 10
	 * 0 kills worker processes right after the stop notice,
	 * negative disables the hard kill.
	 */
	TerminationNoticeSecs int `default:"10"`
	/**
	 * default: 100000
	 * upper bound of concurrently running thread workers.
	 */
	MaxWorkers int `default:"100000"`
	// the first failing worker stops the whole program.
	StopOnFailure bool `default:"true"`
	// SIGTERM and SIGINT of the launching process stop the program.
	HandleSignals bool `default:"true"`

	Store store.Store
}

type ManagerOption func(*ManagerOptions)

func WithManagerContext(ctx context.Context) ManagerOption {
	return func(opts *ManagerOptions) {
		opts.Ctx = ctx
	}
}

func SetTerminationNoticeSecs(secs int) ManagerOption {
	return func(opts *ManagerOptions) {
		opts.TerminationNoticeSecs = secs
	}
}

func SetMaxWorkers(n int) ManagerOption {
	return func(opts *ManagerOptions) {
		opts.MaxWorkers = n
	}
}

func DisableStopOnFailure() ManagerOption {
	return func(opts *ManagerOptions) {
		opts.StopOnFailure = false
	}
}

func DisableSignalHandling() ManagerOption {
	return func(opts *ManagerOptions) {
		opts.HandleSignals = false
	}
}

func WithRecordStore(s store.Store) ManagerOption {
	return func(opts *ManagerOptions) {
		opts.Store = s
	}
}
