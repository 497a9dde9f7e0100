package program

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warriorguo/launchpad/types"
)

func TestColocationNamesInnerHandles(t *testing.T) {
	server, _ := NewCourierNode("program_test.service", nil)
	coloc, err := NewMultiThreadingColocation([]Node{newWorker(t, 0)}, false)
	require.Nil(t, err)
	sh, err := coloc.AddNode(server)
	require.Nil(t, err)
	assert.Equal(t, KindCourier, sh.Kind())
	assert.Equal(t, 1, sh.Index())

	p := NewProgram("coloc")
	_, _ = p.AddNode(newWorker(t, 1), "g")
	h, err := p.AddNode(coloc, "g")
	require.Nil(t, err)
	assert.Equal(t, "g/1", h.Name())
	assert.Equal(t, KindColocation, h.Kind())
	assert.Equal(t, "g/1/1", sh.Name())
	assert.Equal(t, "g/1/0", coloc.Nodes()[0].Handle().Name())

	// sealed once part of the program
	_, err = coloc.AddNode(newWorker(t, 2))
	assert.True(t, types.IsInvalidTopology(err))

	g, _ := p.GroupByLabel("g")
	assert.Equal(t, 2, g.Len())
	assert.Equal(t, 3, len(Expand(g.Nodes())))
}

func TestNestedColocationHandles(t *testing.T) {
	inner, err := NewMultiThreadingColocation([]Node{newWorker(t, 0), newWorker(t, 1)}, false)
	require.Nil(t, err)
	outer, err := NewMultiThreadingColocation([]Node{newWorker(t, 2), inner}, false)
	require.Nil(t, err)

	p := NewProgram("nested")
	_, err = p.AddNode(outer, "node")
	require.Nil(t, err)
	assert.Equal(t, "node/0/1", inner.Handle().Name())
	assert.Equal(t, "node/0/1/0", inner.Nodes()[0].Handle().Name())
	assert.Equal(t, 3, len(Expand(p.AllNodes())))
}

func TestColocationRejectsInvalidNodes(t *testing.T) {
	empty, err := NewMultiThreadingColocation(nil, false)
	require.Nil(t, err)
	p := NewProgram("invalid")
	_, err = p.AddNode(empty, "g")
	assert.True(t, types.IsInvalidTopology(err))

	added := newWorker(t, 0)
	_, _ = p.AddNode(added, "g")
	_, err = NewMultiThreadingColocation([]Node{added}, false)
	assert.True(t, types.IsInvalidTopology(err))

	_, err = NewMultiProcessingColocation([]Node{newWorker(t, 1)}, -1)
	assert.True(t, types.IsInvalidTopology(err))

	_, err = NewMultiProcessingColocation([]Node{nil}, 0)
	assert.True(t, types.IsInvalidTopology(err))
}

func TestColocationModes(t *testing.T) {
	threads, _ := NewMultiThreadingColocation([]Node{newWorker(t, 0)}, true)
	assert.Equal(t, ColocateThreads, threads.Mode())
	assert.True(t, threads.ReturnOnFirstCompleted())
	assert.Equal(t, "MultiThreadingColocation", threads.Mode().String())

	processes, _ := NewMultiProcessingColocation([]Node{newWorker(t, 0)}, 2)
	assert.Equal(t, ColocateProcesses, processes.Mode())
	assert.Equal(t, 2, processes.RetriesOnFailure())
	assert.Equal(t, "MultiProcessingColocation", processes.Mode().String())
}

func TestRenderColocation(t *testing.T) {
	server, _ := NewCourierNode("program_test.service", nil)
	coloc, _ := NewMultiThreadingColocation(nil, false)
	sh, _ := coloc.AddNode(server)
	client, _ := NewPyNode("program_test.worker", types.Data{"server": sh})
	_, _ = coloc.AddNode(client)

	p := NewProgram("render")
	_, err := p.AddNode(coloc, "pair")
	require.Nil(t, err)

	now := time.Now()
	s := p.RenderDOT(map[string]*types.WorkerRecord{
		"pair/0/0": {Name: "pair/0/0", StartTime: now},
	})
	assert.Contains(t, s, "subgraph cluster_pair_0{")
	assert.Contains(t, s, "MultiThreadingColocation")
	assert.Contains(t, s, "pair_0_1 -> pair_0_0")
	assert.Contains(t, s, "color=\"yellow\"")
}
