package registry

import (
	"testing"

	"github.com/natebridge/muxrpc/codec/jsoncodec"
)

type echoService struct{}

func (echoService) Setup(b *Builder) {
	b.AddUnaryMethod("Ping", func(ctx *CallContext, req []byte) ([]byte, error) {
		return req, nil
	}, jsoncodec.New(), jsoncodec.New())
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewMethodRegistry()
	if err := r.RegisterService("Echo", echoService{}); err != nil {
		t.Fatalf("RegisterService: %v", err)
	}
	d, ok := r.Lookup("/Echo/Ping")
	if !ok {
		t.Fatal("expected to find /Echo/Ping")
	}
	if d.Kind != Unary {
		t.Fatalf("got kind %v, want Unary", d.Kind)
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := NewMethodRegistry()
	if err := r.RegisterService("Echo", echoService{}); err != nil {
		t.Fatalf("first RegisterService: %v", err)
	}
	err := r.RegisterService("Echo", echoService{})
	if err == nil {
		t.Fatal("expected ErrAlreadyExists on duplicate registration")
	}
	if _, ok := err.(*ErrAlreadyExists); !ok {
		t.Fatalf("got %T, want *ErrAlreadyExists", err)
	}
}

func TestLookupUnknownMethod(t *testing.T) {
	r := NewMethodRegistry()
	_, ok := r.Lookup("/Unknown/Unknown")
	if ok {
		t.Fatal("expected lookup miss for unregistered method")
	}
}

func TestParsePath(t *testing.T) {
	service, method, ok := ParsePath("/Echo/Ping")
	if !ok || service != "Echo" || method != "Ping" {
		t.Fatalf("got %q %q %v", service, method, ok)
	}
	if _, _, ok := ParsePath("noleadingslash"); ok {
		t.Fatal("expected parse failure without leading slash")
	}
}
