package filter

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zinic/pyrox/internal/message"
)

type recordingFilter struct {
	caps  Capability
	calls *[]string
	name  string
	act   Action
}

func (f *recordingFilter) Capabilities() Capability { return f.caps }
func (f *recordingFilter) OnRequestHead(req *message.Request) Action {
	*f.calls = append(*f.calls, f.name)
	return f.act
}

func TestDispatchRequestHeadStopsAtBreakingAction(t *testing.T) {
	var calls []string
	first := &recordingFilter{caps: RequestHead, calls: &calls, name: "first", act: ConsumeAction()}
	second := &recordingFilter{caps: RequestHead, calls: &calls, name: "second", act: NextAction()}

	p := NewPipeline(zap.NewNop(), first, second)
	action := p.DispatchRequestHead(message.NewRequest())

	require.Equal(t, Consume, action.Verdict)
	require.Equal(t, []string{"first"}, calls)
}

func TestDispatchRequestHeadAllNextReturnsNext(t *testing.T) {
	var calls []string
	a := &recordingFilter{caps: RequestHead, calls: &calls, name: "a", act: NextAction()}
	b := &recordingFilter{caps: RequestHead, calls: &calls, name: "b", act: NextAction()}

	p := NewPipeline(zap.NewNop(), a, b)
	action := p.DispatchRequestHead(message.NewRequest())

	require.Equal(t, Next, action.Verdict)
	require.Len(t, calls, 2, "expected both filters invoked")
}

type panickyFilter struct{}

func (panickyFilter) Capabilities() Capability { return RequestHead }
func (panickyFilter) OnRequestHead(req *message.Request) Action {
	panic("boom")
}

func TestPanicBecomesRejectWith400(t *testing.T) {
	p := NewPipeline(zap.NewNop(), panickyFilter{})
	action := p.DispatchRequestHead(message.NewRequest())

	if action.Verdict != Reject {
		t.Fatalf("verdict = %v, want Reject", action.Verdict)
	}
	if action.Response == nil || action.Response.Status != 400 {
		t.Fatalf("expected synthesized 400 response, got %+v", action.Response)
	}
}

type bodyOnlyFilter struct{ Capability }

func (f bodyOnlyFilter) Capabilities() Capability { return f.Capability }
func (bodyOnlyFilter) OnRequestBody(chunk []byte, out BodySink) Action { return NextAction() }

func TestInterceptsRequestBodyReflectsRegistration(t *testing.T) {
	p := NewPipeline(zap.NewNop())
	if p.InterceptsRequestBody() {
		t.Fatalf("empty pipeline must not intercept body")
	}

	p = NewPipeline(zap.NewNop(), bodyOnlyFilter{RequestBody})
	if !p.InterceptsRequestBody() {
		t.Fatalf("expected body interception once a request-body filter is registered")
	}
}

type respHeadFilter struct{ withReq bool }

func (f respHeadFilter) Capabilities() Capability { return ResponseHead }
func (f respHeadFilter) OnResponseHead(resp *message.Response) Action {
	resp.Status = 599
	return NextAction()
}

type respHeadWithReqFilter struct{}

func (respHeadWithReqFilter) Capabilities() Capability { return ResponseHead }
func (respHeadWithReqFilter) OnResponseHeadWithRequest(resp *message.Response, req *message.Request) Action {
	resp.Headers.Set("X-Route", req.URL)
	return NextAction()
}

func TestResponseHeadDispatchPrefersWithRequestVariant(t *testing.T) {
	p := NewPipeline(zap.NewNop(), respHeadWithReqFilter{}, respHeadFilter{})
	req := message.NewRequest()
	req.URL = "/widgets"
	resp := message.NewResponse()

	p.DispatchResponseHead(resp, req)

	if resp.Headers.GetValue("X-Route") != "/widgets" {
		t.Fatalf("expected with-request filter to run")
	}
	if resp.Status != 599 {
		t.Fatalf("expected both filters to run in registration-grouped order")
	}
}

func TestSingletonRegistryReusesFilterInstances(t *testing.T) {
	built := 0
	reg := NewRegistry(zap.NewNop(), func() []Filter {
		built++
		return []Filter{panickyFilter{}}
	}, func() []Filter { return nil })
	reg.Singleton(true)

	reg.RequestPipeline()
	reg.RequestPipeline()

	if built != 1 {
		t.Fatalf("expected factory invoked once under singleton mode, got %d", built)
	}
}

func TestNonSingletonRegistryRebuildsPerConnection(t *testing.T) {
	built := 0
	reg := NewRegistry(zap.NewNop(), func() []Filter {
		built++
		return []Filter{panickyFilter{}}
	}, func() []Filter { return nil })

	reg.RequestPipeline()
	reg.RequestPipeline()

	if built != 2 {
		t.Fatalf("expected factory invoked per connection, got %d", built)
	}
}
