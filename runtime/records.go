package runtime

import (
	"context"

	"github.com/juju/errors"
	log "github.com/sirupsen/logrus"
	"github.com/warriorguo/launchpad/program"
	"github.com/warriorguo/launchpad/store"
	"github.com/warriorguo/launchpad/types"
	"github.com/warriorguo/launchpad/utils"
)

const (
	LaunchPath = "/launch/"
)

func recordSavePath(launchID string) string {
	return LaunchPath + launchID + "/workers/"
}

// saveRecord persists a worker record. Failures are logged only, records
// are diagnostics and never fail a worker.
func (m *WorkerManager) saveRecord(record *types.WorkerRecord) {
	b, err := utils.Serialize(record)
	if err != nil {
		log.Errorf("%s failed to serialize record of %s: %v", m.launchID, record.Name, err)
		return
	}
	if err := m.store.Set(context.Background(), recordSavePath(m.launchID), record.Name, b); err != nil {
		log.Errorf("%s failed to save record of %s: %v", m.launchID, record.Name, err)
	}
}

// Records loads the worker records of this launch keyed by worker name.
func (m *WorkerManager) Records(ctx context.Context) (map[string]*types.WorkerRecord, error) {
	records := make(map[string]*types.WorkerRecord)
	recordPath := recordSavePath(m.launchID)
	err := m.store.List(ctx, recordPath, func(name string) bool {
		b, err := m.store.Get(ctx, recordPath, name)
		if err != nil {
			log.Errorf("load %s %s from store failed: %v", recordPath, name, err)
			return true
		}
		if b == nil {
			return true
		}
		record := &types.WorkerRecord{}
		if err := utils.Unserialize(b, record); err != nil {
			log.Errorf("unserialize %s %s from store:%s failed: %v", recordPath, name, string(b), err)
			return true
		}
		records[name] = record
		return true
	})
	return records, errors.Trace(err)
}

// PurgeRecords drops the worker records of this launch from the store.
func (m *WorkerManager) PurgeRecords(ctx context.Context) error {
	return errors.Annotatef(store.RemovePrefix(ctx, m.store, recordSavePath(m.launchID)), "purge records of %s", m.launchID)
}

// RenderDOT draws p coloured by the worker records of this launch.
func (m *WorkerManager) RenderDOT(ctx context.Context, p *program.Program) (string, error) {
	records, err := m.Records(ctx)
	if err != nil {
		return "", errors.Trace(err)
	}
	return p.RenderDOT(records), nil
}
