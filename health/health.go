// Package health implements a small health-checking service as a concrete
// registry.ServiceContract, in the shape of the teacher's health package but
// rebuilt on the JSON codec and registry types of this module rather than
// generated claw message types.
package health

import (
	"encoding/json"

	"github.com/gostdlib/base/concurrency/sync"
	"github.com/gostdlib/base/context"

	"github.com/natebridge/muxrpc/codec/jsoncodec"
	"github.com/natebridge/muxrpc/registry"
)

// ServingStatus is the health state of a service.
type ServingStatus int

const (
	Unknown ServingStatus = iota
	Serving
	NotServing
	ServiceUnknown
)

func (s ServingStatus) String() string {
	switch s {
	case Serving:
		return "SERVING"
	case NotServing:
		return "NOT_SERVING"
	case ServiceUnknown:
		return "SERVICE_UNKNOWN"
	default:
		return "UNKNOWN"
	}
}

// CheckRequest is the request message for the Check method.
type CheckRequest struct {
	Service string `json:"service"`
}

// CheckResponse is the response message for the Check method.
type CheckResponse struct {
	Status ServingStatus `json:"status"`
}

// Server implements the health check service.
// Use NewServer() to create an instance, then register it with an endpoint
// via Setup (it satisfies registry.ServiceContract).
type Server struct {
	mu       sync.RWMutex
	services map[string]ServingStatus
}

// NewServer creates a new health check server. By default the overall
// server health (empty service name) is set to Serving.
func NewServer() *Server {
	return &Server{
		services: map[string]ServingStatus{
			"": Serving,
		},
	}
}

// SetServingStatus sets the health status for a service. Use an empty
// string to set the overall server health status.
func (s *Server) SetServingStatus(service string, status ServingStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[service] = status
}

// ServingStatus returns the health status for a service. Returns
// ServiceUnknown if the service is not registered.
func (s *Server) ServingStatus(service string) ServingStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.services[service]
	if !ok {
		return ServiceUnknown
	}
	return status
}

// check handles a unary Check call.
func (s *Server) check(ctx *registry.CallContext, reqBytes []byte) ([]byte, error) {
	var req CheckRequest
	if err := json.Unmarshal(reqBytes, &req); err != nil {
		return nil, err
	}

	resp := CheckResponse{Status: s.ServingStatus(req.Service)}
	return json.Marshal(resp)
}

// Setup registers the Check method under the "Health" service, implementing
// registry.ServiceContract so Server can be passed directly to
// endpoint.RegisterService.
func (s *Server) Setup(b *registry.Builder) {
	b.AddUnaryMethod("Check", s.check, jsoncodec.New(), jsoncodec.New())
}

// UnaryCaller is the subset of a caller runtime this package's client helper
// needs: invoke one unary call and wait for its response. Declared locally
// so this package does not import the caller package.
type UnaryCaller interface {
	CallUnary(ctx context.Context, method string, req []byte) ([]byte, error)
}

// Check performs a health check against a remote endpoint. Use an empty
// service name to check overall server health.
func Check(ctx context.Context, caller UnaryCaller, service string) (ServingStatus, error) {
	reqBytes, err := json.Marshal(CheckRequest{Service: service})
	if err != nil {
		return Unknown, err
	}

	respBytes, err := caller.CallUnary(ctx, "/Health/Check", reqBytes)
	if err != nil {
		return Unknown, err
	}

	var resp CheckResponse
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return Unknown, err
	}
	return resp.Status, nil
}
