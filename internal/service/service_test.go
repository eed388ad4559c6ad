package service_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"hackohio/miniui/internal/dispatch"
	"hackohio/miniui/internal/facts"
	"hackohio/miniui/internal/service"
	"hackohio/miniui/pkg/procexec"
)

type staticFacts struct{}

func (staticFacts) Collect() facts.Facts {
	host := "router"
	total := uint64(1048576)
	ts := int64(1700000000)
	return facts.Facts{Hostname: &host, Time: &ts, Memory: &facts.Memory{Total: &total}}
}

type harness struct {
	client *service.Client
	conn   *grpc.ClientConn
	rec    *procexec.Recorder
	srv    *service.Server
	d      *dispatch.Dispatcher
	stop   context.CancelFunc
}

func start(t *testing.T, rec *procexec.Recorder, runLoop bool) *harness {
	t.Helper()
	d := dispatch.New(dispatch.Options{Executor: rec, Facts: staticFacts{}})
	ctx, cancel := context.WithCancel(context.Background())
	if runLoop {
		go d.Run(ctx)
	}

	lis := bufconn.Listen(1 << 20)
	srv := service.NewServer(d, zerolog.Nop())
	srv.SetServing(runLoop)
	go srv.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		srv.Stop()
		cancel()
	})
	return &harness{client: service.NewClient(conn), conn: conn, rec: rec, srv: srv, d: d, stop: cancel}
}

func callCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestStatus(t *testing.T) {
	h := start(t, &procexec.Recorder{}, true)
	reply, err := h.client.Call(callCtx(t), dispatch.MethodStatus, nil)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if reply["hostname"] != "router" || reply["time"] != float64(1700000000) {
		t.Fatalf("reply = %v", reply)
	}
	mem, ok := reply["memory"].(map[string]any)
	if !ok || mem["total"] != float64(1048576) {
		t.Fatalf("memory = %v", reply["memory"])
	}
}

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		name   string
		rec    *procexec.Recorder
		method string
		fields map[string]any
		code   codes.Code
	}{
		{"missing ipaddr", &procexec.Recorder{}, dispatch.MethodApplyLAN, map[string]any{"netmask": "255.0.0.0"}, codes.InvalidArgument},
		{"bad source", &procexec.Recorder{}, dispatch.MethodSysupgrade, map[string]any{"source": "/etc/passwd"}, codes.InvalidArgument},
		{"nonzero exit", &procexec.Recorder{ExitCode: 3}, dispatch.MethodReloadNetwork, nil, codes.Unknown},
		{"spawn failure", &procexec.Recorder{Err: &procexec.Error{Kind: procexec.KindSpawnFailed}}, dispatch.MethodSysupgrade, map[string]any{"source": "/tmp/a.bin"}, codes.Unknown},
		{"unknown method", &procexec.Recorder{}, "reboot", nil, codes.Unimplemented},
	}
	for _, tt := range tests {
		h := start(t, tt.rec, true)
		_, err := h.client.Call(callCtx(t), tt.method, tt.fields)
		if got := status.Code(err); got != tt.code {
			t.Errorf("%s: code = %v (%v), want %v", tt.name, got, err, tt.code)
		}
	}
}

func TestSuccessReplies(t *testing.T) {
	rec := &procexec.Recorder{PID: 7}
	h := start(t, rec, true)

	reply, err := h.client.Call(callCtx(t), dispatch.MethodApplyLAN, map[string]any{"ipaddr": "192.168.1.1"})
	if err != nil || reply["status"] != "ok" {
		t.Fatalf("apply_lan: reply = %v, err = %v", reply, err)
	}
	reply, err = h.client.Call(callCtx(t), dispatch.MethodSysupgrade, map[string]any{"source": "https://fw.example/img.bin", "keep": false})
	if err != nil || reply["status"] != "running" {
		t.Fatalf("sysupgrade: reply = %v, err = %v", reply, err)
	}
	calls := rec.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls = %+v", calls)
	}
	if got := calls[1].Args; len(got) != 2 || got[0] != "0" || got[1] != "https://fw.example/img.bin" {
		t.Fatalf("sysupgrade args = %q", got)
	}
}

func TestStoppedDispatcher(t *testing.T) {
	h := start(t, &procexec.Recorder{}, true)
	h.stop()
	<-h.d.Stopped()

	_, err := h.client.Call(callCtx(t), dispatch.MethodStatus, nil)
	if got := status.Code(err); got != codes.Unavailable {
		t.Fatalf("code = %v (%v), want Unavailable", got, err)
	}
}

func TestUnavailableWithoutLoop(t *testing.T) {
	h := start(t, &procexec.Recorder{}, false)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := h.client.Call(ctx, dispatch.MethodStatus, nil)
	if got := status.Code(err); got != codes.DeadlineExceeded {
		t.Fatalf("code = %v (%v), want DeadlineExceeded", got, err)
	}
}

func TestHealth(t *testing.T) {
	h := start(t, &procexec.Recorder{}, true)
	hc := healthpb.NewHealthClient(h.conn)
	resp, err := hc.Check(callCtx(t), &healthpb.HealthCheckRequest{Service: service.ServiceName})
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v, want SERVING", resp.GetStatus())
	}

	h.srv.SetServing(false)
	resp, err = hc.Check(callCtx(t), &healthpb.HealthCheckRequest{Service: service.ServiceName})
	if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status = %v, err = %v, want NOT_SERVING", resp.GetStatus(), err)
	}
}

func TestServiceDesc(t *testing.T) {
	sd := service.ServiceDesc([]string{"a", "b"})
	if sd.ServiceName != "miniui" || len(sd.Methods) != 2 || sd.Methods[1].MethodName != "b" {
		t.Fatalf("desc = %+v", sd)
	}
	if got := service.FullMethod("status"); got != "/miniui/status" {
		t.Fatalf("full method = %q", got)
	}
}
