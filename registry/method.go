// Package registry implements the method registry (C9) and the stream
// registry (C5).
package registry

import (
	"fmt"

	"github.com/gostdlib/base/concurrency/sync"

	"github.com/natebridge/muxrpc/codec"
)

// Kind is a call shape.
type Kind int

const (
	Unary Kind = iota
	ServerStream
	ClientStream
	Bidi
)

func (k Kind) String() string {
	switch k {
	case Unary:
		return "UNARY"
	case ServerStream:
		return "SERVER_STREAM"
	case ClientStream:
		return "CLIENT_STREAM"
	case Bidi:
		return "BIDI"
	default:
		return "UNKNOWN"
	}
}

// UnaryHandler handles a unary call: one request in, one response out.
type UnaryHandler func(ctx *CallContext, req []byte) ([]byte, error)

// ServerStreamHandler handles a server-streaming call: one request in, a
// sequence of responses out (emitted via send).
type ServerStreamHandler func(ctx *CallContext, req []byte, send func([]byte) error) error

// ClientStreamHandler handles a client-streaming call: a sequence of
// requests in (delivered via recv), one response out.
type ClientStreamHandler func(ctx *CallContext, recv func() ([]byte, bool, error)) ([]byte, error)

// BidiHandler handles a bidirectional-streaming call: independent inbound
// and outbound sequences.
type BidiHandler func(ctx *CallContext, recv func() ([]byte, bool, error), send func([]byte) error) error

// MethodDescriptor is the immutable registration record for one method
// (spec §3).
type MethodDescriptor struct {
	Service       string
	Method        string
	Kind          Kind
	RequestCodec  codec.Codec
	ResponseCodec codec.Codec

	Unary        UnaryHandler
	ServerStream ServerStreamHandler
	ClientStream ClientStreamHandler
	Bidi         BidiHandler
}

// Path returns the "/<service>/<method>" wire method path.
func (d *MethodDescriptor) Path() string {
	return "/" + d.Service + "/" + d.Method
}

// ErrAlreadyExists is returned by RegisterService when (service, method) is
// registered twice (spec §4.9).
type ErrAlreadyExists struct {
	Service, Method string
}

func (e *ErrAlreadyExists) Error() string {
	return fmt.Sprintf("registry: method %s/%s already registered", e.Service, e.Method)
}

// ServiceContract is implemented by user-defined services; Setup appends
// MethodDescriptors into b (spec §3, §6.3).
type ServiceContract interface {
	Setup(b *Builder)
}

// Builder is handed to a ServiceContract's Setup method to collect its
// method descriptors.
type Builder struct {
	service string
	descs   []*MethodDescriptor
}

// NewBuilder creates a Builder scoped to service.
func NewBuilder(service string) *Builder {
	return &Builder{service: service}
}

func (b *Builder) AddUnaryMethod(method string, h UnaryHandler, reqCodec, respCodec codec.Codec) {
	b.descs = append(b.descs, &MethodDescriptor{Service: b.service, Method: method, Kind: Unary, Unary: h, RequestCodec: reqCodec, ResponseCodec: respCodec})
}

func (b *Builder) AddServerStreamMethod(method string, h ServerStreamHandler, reqCodec, respCodec codec.Codec) {
	b.descs = append(b.descs, &MethodDescriptor{Service: b.service, Method: method, Kind: ServerStream, ServerStream: h, RequestCodec: reqCodec, ResponseCodec: respCodec})
}

func (b *Builder) AddClientStreamMethod(method string, h ClientStreamHandler, reqCodec, respCodec codec.Codec) {
	b.descs = append(b.descs, &MethodDescriptor{Service: b.service, Method: method, Kind: ClientStream, ClientStream: h, RequestCodec: reqCodec, ResponseCodec: respCodec})
}

func (b *Builder) AddBidiMethod(method string, h BidiHandler, reqCodec, respCodec codec.Codec) {
	b.descs = append(b.descs, &MethodDescriptor{Service: b.service, Method: method, Kind: Bidi, Bidi: h, RequestCodec: reqCodec, ResponseCodec: respCodec})
}

// MethodRegistry is the C9 method registry: write-once at setup, read-many
// at dispatch.
type MethodRegistry struct {
	mu      sync.RWMutex
	methods map[string]*MethodDescriptor
}

// NewMethodRegistry creates an empty registry.
func NewMethodRegistry() *MethodRegistry {
	return &MethodRegistry{methods: make(map[string]*MethodDescriptor)}
}

// RegisterService runs contract.Setup and adds every resulting descriptor.
// Double registration of the same (service, method) returns ErrAlreadyExists
// and leaves any already-added descriptors from this call registered (the
// caller should treat a RegisterService error as fatal to setup).
func (r *MethodRegistry) RegisterService(service string, contract ServiceContract) error {
	b := NewBuilder(service)
	contract.Setup(b)
	for _, d := range b.descs {
		if err := r.register(d); err != nil {
			return err
		}
	}
	return nil
}

func (r *MethodRegistry) register(d *MethodDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := d.Service + "/" + d.Method
	if _, exists := r.methods[key]; exists {
		return &ErrAlreadyExists{Service: d.Service, Method: d.Method}
	}
	r.methods[key] = d
	return nil
}

// Lookup resolves a "/<service>/<method>" path to its descriptor.
func (r *MethodRegistry) Lookup(path string) (*MethodDescriptor, bool) {
	service, method, ok := ParsePath(path)
	if !ok {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.methods[service+"/"+method]
	return d, ok
}

// ParsePath splits "/<service>/<method>" into its parts.
func ParsePath(path string) (service, method string, ok bool) {
	if len(path) == 0 || path[0] != '/' {
		return "", "", false
	}
	rest := path[1:]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:], true
		}
	}
	return "", "", false
}
