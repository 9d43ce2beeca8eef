package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistersAndNilIsNoOp(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := New(reg)

	p.IncRequest("localhost:80")
	p.IncResponse("2xx")
	p.IncPoolCheckout("localhost:80")
	p.IncPoolMiss("localhost:80")
	p.IncPoolCheckin("localhost:80")
	p.IncReframed("request")
	p.IncRejection("request-head")
	p.IncUpstreamError("localhost:80")
	p.ObserveDuration(0.001)
	p.ConnOpened()
	p.ConnClosed()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatalf("expected registered metric families")
	}

	var nilProxy *Proxy
	nilProxy.IncRequest("x")
	nilProxy.ObserveDuration(1)
	nilProxy.ConnOpened()
}
