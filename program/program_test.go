package program

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/warriorguo/launchpad/registry"
	"github.com/warriorguo/launchpad/types"
	"google.golang.org/grpc"
)

func init() {
	registry.RegisterFunc("program_test.worker", worker)
	registry.RegisterService("program_test.service", service)
}

func worker(ctx types.Context, args types.Data) error {
	return nil
}

func service(ctx types.Context, srv *grpc.Server, args types.Data) error {
	return nil
}

func newWorker(t *testing.T, id int) *PyNode {
	n, err := NewPyNode("program_test.worker", types.Data{"id": id})
	assert.Nil(t, err)
	return n
}

func TestAddNodeKeepsInsertionOrder(t *testing.T) {
	p := NewProgram("test")

	labels := []string{"actor", "learner", "actor", "replay", "actor", "learner"}
	for i, label := range labels {
		h, err := p.AddNode(newWorker(t, i), label)
		assert.Nil(t, err)
		assert.Equal(t, label, h.Label())
	}

	groups := p.Groups()
	assert.Equal(t, 3, len(groups))
	assert.Equal(t, "actor", groups[0].Label())
	assert.Equal(t, "learner", groups[1].Label())
	assert.Equal(t, "replay", groups[2].Label())

	ids := func(g *Group) []int {
		r := []int{}
		for _, n := range g.Nodes() {
			args := n.Arguments()
			id, _ := args.GetInt("id")
			r = append(r, id)
		}
		return r
	}
	assert.Equal(t, []int{0, 2, 4}, ids(groups[0]))
	assert.Equal(t, []int{1, 5}, ids(groups[1]))
	assert.Equal(t, []int{3}, ids(groups[2]))

	for i, n := range groups[0].Nodes() {
		assert.Equal(t, i, n.Handle().Index())
		assert.Equal(t, fmt.Sprintf("actor/%d", i), n.Handle().Name())
	}
	assert.Equal(t, 6, p.NumNodes())
}

func TestAddNodeWithoutEntryPoint(t *testing.T) {
	p := NewProgram("test")
	_, err := p.AddNode(newWorker(t, 0), "ok")
	assert.Nil(t, err)

	for _, n := range []Node{&PyNode{}, &CourierNode{}, nil} {
		_, err := p.AddNode(n, "bad")
		assert.True(t, types.IsInvalidTopology(err), "%v", err)
	}

	_, exists := p.GroupByLabel("bad")
	assert.False(t, exists)
	assert.Equal(t, 1, len(p.Groups()))
	assert.Equal(t, 1, p.NumNodes())
}

func TestNodeConstructionRequiresFunction(t *testing.T) {
	_, err := NewPyNode("", nil)
	assert.True(t, types.IsInvalidTopology(err))
	_, err = NewPyNode("program_test.missing", nil)
	assert.True(t, types.IsInvalidTopology(err))
	_, err = NewPyNodeFunc(nil, nil)
	assert.True(t, types.IsInvalidTopology(err))
	_, err = NewCourierNode("", nil)
	assert.True(t, types.IsInvalidTopology(err))
	_, err = NewCourierNodeFunc(nil, nil)
	assert.True(t, types.IsInvalidTopology(err))

	n, err := NewCourierNode("program_test.service", nil)
	assert.Nil(t, err)
	assert.Equal(t, KindCourier, n.Kind())
	assert.Equal(t, "program_test.service", n.Function())

	c, err := NewPyNodeFunc(worker, nil)
	assert.Nil(t, err)
	assert.Equal(t, "", c.Function())
	assert.NotNil(t, c.Func())
}

func TestAddNodeRejectsEmptyLabelAndDuplicates(t *testing.T) {
	p := NewProgram("test")
	_, err := p.AddNode(newWorker(t, 0), "")
	assert.True(t, types.IsInvalidTopology(err))

	n := newWorker(t, 1)
	_, err = p.AddNode(n, "a")
	assert.Nil(t, err)
	_, err = p.AddNode(n, "b")
	assert.True(t, types.IsInvalidTopology(err))
	assert.Equal(t, 1, p.NumNodes())
}

func TestGroupScope(t *testing.T) {
	p := NewProgram("test")

	var scope *Scope
	err := p.Group("workers", func(s *Scope) error {
		scope = s
		for i := 0; i < 3; i++ {
			if _, err := s.AddNode(newWorker(t, i)); err != nil {
				return errors.Trace(err)
			}
		}
		// routed into the scope when the label is omitted
		_, err := p.AddNode(newWorker(t, 3), "")
		assert.Nil(t, err)

		_, err = p.AddNode(newWorker(t, 4), "other")
		assert.True(t, types.IsInvalidTopology(err))

		nested := p.Group("inner", func(s *Scope) error { return nil })
		assert.True(t, types.IsInvalidTopology(nested))
		return nil
	})
	assert.Nil(t, err)

	g, exists := p.GroupByLabel("workers")
	assert.True(t, exists)
	assert.Equal(t, 4, g.Len())

	// closed scope
	_, err = scope.AddNode(newWorker(t, 5))
	assert.True(t, types.IsInvalidTopology(err))

	// the group itself stays open
	_, err = p.AddNode(newWorker(t, 6), "workers")
	assert.Nil(t, err)
	assert.Equal(t, 5, g.Len())

	// an empty label is rejected outside a scope
	_, err = p.AddNode(newWorker(t, 7), "")
	assert.True(t, types.IsInvalidTopology(err))
}

func TestGroupLabelCollisionIsSuffixed(t *testing.T) {
	p := NewProgram("test")
	_, err := p.AddNode(newWorker(t, 0), "workers")
	assert.Nil(t, err)

	labels := []string{}
	for i := 0; i < 2; i++ {
		err := p.Group("workers", func(s *Scope) error {
			labels = append(labels, s.Label())
			_, err := s.AddNode(newWorker(t, i))
			return err
		})
		assert.Nil(t, err)
	}
	assert.Equal(t, []string{"workers_1", "workers_2"}, labels)
	assert.Equal(t, 3, len(p.Groups()))
	for _, g := range p.Groups() {
		assert.Equal(t, 1, g.Len())
	}
}

func TestGroupPropagatesError(t *testing.T) {
	p := NewProgram("test")
	err := p.Group("g", func(s *Scope) error {
		return errors.New("boom")
	})
	assert.NotNil(t, err)
	// the scope is released even on failure
	_, err = p.AddNode(newWorker(t, 0), "h")
	assert.Nil(t, err)
}

func TestProgramIsConsumedOnce(t *testing.T) {
	p := NewProgram("test")
	_, err := p.AddNode(newWorker(t, 0), "a")
	assert.Nil(t, err)

	assert.Nil(t, p.MarkLaunched())
	assert.True(t, p.Launched())
	assert.True(t, types.IsInvalidTopology(p.MarkLaunched()))

	_, err = p.AddNode(newWorker(t, 1), "a")
	assert.True(t, types.IsInvalidTopology(err))
	assert.True(t, types.IsInvalidTopology(p.Group("b", func(s *Scope) error { return nil })))
	assert.Equal(t, 1, p.NumNodes())
}

func TestHandleArgument(t *testing.T) {
	p := NewProgram("test")
	server, err := NewCourierNode("program_test.service", nil)
	assert.Nil(t, err)
	h, err := p.AddNode(server, "server")
	assert.Nil(t, err)
	h.Bind("127.0.0.1:1234")

	args := types.Data{"server": h}
	got, err := HandleArg(args, "server")
	assert.Nil(t, err)
	assert.True(t, got == h)

	b, err := json.Marshal(args)
	assert.Nil(t, err)
	decoded := types.Data{}
	assert.Nil(t, json.Unmarshal(b, &decoded))
	got, err = HandleArg(decoded, "server")
	assert.Nil(t, err)
	assert.Equal(t, "server/0", got.Name())
	assert.Equal(t, KindCourier, got.Kind())
	assert.Equal(t, "127.0.0.1:1234", got.Address())

	_, err = HandleArg(decoded, "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestHandlesArgument(t *testing.T) {
	p := NewProgram("test")
	handles := []*Handle{}
	for i := 0; i < 2; i++ {
		server, err := NewCourierNode("program_test.service", nil)
		assert.Nil(t, err)
		h, err := p.AddNode(server, "producer")
		assert.Nil(t, err)
		h.Bind(fmt.Sprintf("127.0.0.1:%d", 7000+i))
		handles = append(handles, h)
	}

	args := types.Data{"producers": handles}
	got, err := HandlesArg(args, "producers")
	assert.Nil(t, err)
	assert.Equal(t, 2, len(got))

	b, err := json.Marshal(args)
	assert.Nil(t, err)
	decoded := types.Data{}
	assert.Nil(t, json.Unmarshal(b, &decoded))
	got, err = HandlesArg(decoded, "producers")
	assert.Nil(t, err)
	assert.Equal(t, 2, len(got))
	assert.Equal(t, "producer/1", got[1].Name())
	assert.Equal(t, "127.0.0.1:7001", got[1].Address())

	_, err = HandlesArg(decoded, "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestDialRequiresBoundCourier(t *testing.T) {
	p := NewProgram("test")
	h, err := p.AddNode(newWorker(t, 0), "py")
	assert.Nil(t, err)
	_, err = h.Dial(context.Background())
	assert.True(t, errors.IsNotSupported(err))

	server, _ := NewCourierNode("program_test.service", nil)
	h, err = p.AddNode(server, "server")
	assert.Nil(t, err)
	_, err = h.Dial(context.Background())
	assert.True(t, errors.IsNotProvisioned(err))
}

func TestRenderDOT(t *testing.T) {
	p := NewProgram("render")
	server, _ := NewCourierNode("program_test.service", nil)
	sh, _ := p.AddNode(server, "server")
	client, _ := NewPyNode("program_test.worker", types.Data{"server": sh})
	_, _ = p.AddNode(client, "client")

	now := time.Now()
	s := p.RenderDOT(map[string]*types.WorkerRecord{
		"server/0": {Name: "server/0", StartTime: now},
		"client/0": {Name: "client/0", StartTime: now, EndTime: now, Error: "failed"},
	})
	fmt.Printf("%s", s)
	assert.True(t, strings.HasPrefix(s, "digraph D {"))
	assert.Contains(t, s, "subgraph cluster_server{")
	assert.Contains(t, s, "subgraph cluster_client{")
	assert.Contains(t, s, "client_0 -> server_0")
	assert.Contains(t, s, "color=\"yellow\"")
	assert.Contains(t, s, "color=\"red\"")
	assert.Contains(t, s, "shape=\"component\"")
}
