package launch

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/launchpad/program"
	"github.com/warriorguo/launchpad/serialization"
	"github.com/warriorguo/launchpad/types"
)

// VertexAI writes the payload of every group into the staging dir and
// submits one job per group. There is nothing to wait for locally, the
// returned controller is nil.
func VertexAI(p *program.Program, opts *types.LaunchOptions) (types.Controller, error) {
	v, _ := opts.BackendOptions.Get(OptSubmitter)
	submitter, ok := v.(types.JobSubmitter)
	if !ok || submitter == nil {
		return nil, errors.BadRequestf("backend option %s should be a types.JobSubmitter", OptSubmitter)
	}

	// nothing is staged for a program which can not be transported
	if err := checkSerializable(p); err != nil {
		return nil, errors.Trace(err)
	}

	stagingDir, _ := opts.BackendOptions.GetString(OptStagingDir)
	if stagingDir == "" {
		dir, err := os.MkdirTemp("", "launchpad-"+p.Name()+"-")
		if err != nil {
			return nil, errors.Annotatef(err, "create staging dir")
		}
		stagingDir = dir
	} else if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, errors.Annotatef(err, "create staging dir %s", stagingDir)
	}

	jobs := make([]types.Job, 0, len(p.Groups()))
	for i, g := range p.Groups() {
		path := filepath.Join(stagingDir, fmt.Sprintf("%03d_%s.json", i, idString(g.Label())))
		if err := serialization.SerializeFunctions(path, g.Label(), g.Nodes()); err != nil {
			return nil, errors.Trace(err)
		}
		resources := opts.GroupResources(g.Label())
		env := map[string]string{}
		if extra, exists := resources.GetStringMapString(ResEnv); exists {
			for k, v := range extra {
				env[k] = v
			}
		}
		env[EnvLaunchType] = types.VertexAI.String()

		replicas := g.Len()
		if r, exists := resources.GetInt(ResReplicas); exists && r > 0 {
			replicas = r
		}
		jobs = append(jobs, types.Job{
			Label:       g.Label(),
			PayloadPath: path,
			Replicas:    replicas,
			Resources:   resources,
			Env:         env,
		})
	}

	if err := submitter.Submit(opts.Ctx, p.Name(), jobs); err != nil {
		return nil, errors.Annotatef(err, "submit %s", p.Name())
	}
	log.Infof("program %s submitted as %d jobs, payloads in %s", p.Name(), len(jobs), stagingDir)
	return nil, nil
}

func idString(s string) string {
	r := []rune(s)
	for i, ch := range r {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '-', ch == '_':
		default:
			r[i] = '_'
		}
	}
	return string(r)
}
