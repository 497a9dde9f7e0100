package program

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/juju/errors"
	"github.com/warriorguo/launchpad/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Handle refers to a node added to a program. Handles may be put into the
// arguments of other nodes to wire them together.
type Handle struct {
	mu sync.RWMutex

	label   string
	index   int
	kind    NodeKind
	address string
}

type handleJSON struct {
	Label   string
	Index   int
	Kind    NodeKind
	Address string `json:",omitempty"`
}

func (h *Handle) Label() string {
	return h.label
}

func (h *Handle) Index() int {
	return h.index
}

func (h *Handle) Kind() NodeKind {
	return h.kind
}

// Name identifies the node inside its program.
func (h *Handle) Name() string {
	return fmt.Sprintf("%s/%d", h.label, h.index)
}

func (h *Handle) Address() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.address
}

// Bind is called by launchers once the node address is known.
func (h *Handle) Bind(address string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.address = address
}

// Dial connects to the RPC surface of a courier node.
func (h *Handle) Dial(ctx context.Context, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	if h.kind != KindCourier {
		return nil, errors.NotSupportedf("dial %s node %s", h.kind, h.Name())
	}
	address := h.Address()
	if address == "" {
		return nil, errors.NotProvisionedf("address of %s", h.Name())
	}
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.DialContext(ctx, address, opts...)
	if err != nil {
		return nil, errors.Annotatef(err, "dial %s at %s", h.Name(), address)
	}
	return conn, nil
}

func (h *Handle) MarshalJSON() ([]byte, error) {
	return json.Marshal(handleJSON{
		Label:   h.label,
		Index:   h.index,
		Kind:    h.kind,
		Address: h.Address(),
	})
}

func (h *Handle) UnmarshalJSON(b []byte) error {
	hj := handleJSON{}
	if err := json.Unmarshal(b, &hj); err != nil {
		return errors.Trace(err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.label, h.index, h.kind, h.address = hj.Label, hj.Index, hj.Kind, hj.Address
	return nil
}

// HandleArg returns the handle stored under key in the arguments of a node,
// whether it was passed in memory or decoded from a payload.
func HandleArg(args types.Data, key string) (*Handle, error) {
	v, exists := args.Get(key)
	if !exists {
		return nil, errors.NotFoundf("handle argument %s", key)
	}
	if h, ok := v.(*Handle); ok {
		return h, nil
	}
	h := &Handle{}
	if err := args.GetStruct(key, h); err != nil {
		return nil, errors.Annotatef(err, "decode handle argument %s", key)
	}
	return h, nil
}

// HandlesArg is HandleArg for a list of handles.
func HandlesArg(args types.Data, key string) ([]*Handle, error) {
	v, exists := args.Get(key)
	if !exists {
		return nil, errors.NotFoundf("handle argument %s", key)
	}
	if hs, ok := v.([]*Handle); ok {
		return hs, nil
	}
	hs := []*Handle{}
	if err := args.GetStruct(key, &hs); err != nil {
		return nil, errors.Annotatef(err, "decode handle argument %s", key)
	}
	return hs, nil
}
