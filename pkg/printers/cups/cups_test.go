package cups

import (
	"context"
	"errors"
	"io/fs"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/managedmac/pkg/command"
	"github.com/openfroyo/managedmac/pkg/engine"
	"github.com/openfroyo/managedmac/pkg/printers"
)

type call struct {
	name string
	args []string
}

// fakeRunner answers commands from a table keyed by "name args...".
type fakeRunner struct {
	results map[string]*command.Result
	calls   []call
	err     error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (*command.Result, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.results[name+" "+strings.Join(args, " ")]; ok {
		return r, nil
	}
	return &command.Result{}, nil
}

func newTestAdapter(results map[string]*command.Result) (*Adapter, *fakeRunner) {
	r := &fakeRunner{results: results}
	return NewAdapter(r, DefaultTools(), zerolog.Nop()), r
}

func TestExists(t *testing.T) {
	a, _ := newTestAdapter(map[string]*command.Result{
		"/usr/bin/lpstat -a hp1":  {Stdout: "hp1 accepting requests since Mon"},
		"/usr/bin/lpstat -a gone": {ExitCode: 1, Stderr: "lpstat: Invalid destination name"},
	})

	if ok, err := a.Exists(context.Background(), "hp1"); err != nil || !ok {
		t.Errorf("expected hp1 to exist, got %v (%v)", ok, err)
	}
	if ok, err := a.Exists(context.Background(), "gone"); err != nil || ok {
		t.Errorf("expected gone to be absent, got %v (%v)", ok, err)
	}
}

func TestCreateArguments(t *testing.T) {
	tests := []struct {
		name string
		ppd  string
		flag string
	}{
		{"driver reference", "drv:///sample.drv/generic.ppd", "-m"},
		{"downloaded file", "/tmp/managedmac-payload-123", "-P"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, r := newTestAdapter(nil)
			err := a.Create(context.Background(), printers.CreateRequest{
				Name: "hp1", DeviceURI: "lpd://x", PPD: tt.ppd, Location: "Rm1", Description: "Front desk",
			})
			if err != nil {
				t.Fatalf("create failed: %v", err)
			}
			want := []string{"-p", "hp1", "-v", "lpd://x", tt.flag, tt.ppd, "-L", "Rm1", "-D", "Front desk", "-E"}
			if !reflect.DeepEqual(r.calls[0].args, want) {
				t.Errorf("expected %v, got %v", want, r.calls[0].args)
			}
			if r.calls[0].name != "/usr/sbin/lpadmin" {
				t.Errorf("unexpected binary %s", r.calls[0].name)
			}
		})
	}
}

func TestApplyOptionsSorted(t *testing.T) {
	a, r := newTestAdapter(nil)
	err := a.ApplyOptions(context.Background(), "hp1", map[string]string{
		"PageSize": "A4",
		"Duplex":   "DuplexNoTumble",
	})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	want := []string{"-p", "hp1", "-o", "Duplex=DuplexNoTumble", "-o", "PageSize=A4"}
	if !reflect.DeepEqual(r.calls[0].args, want) {
		t.Errorf("expected %v, got %v", want, r.calls[0].args)
	}

	if err := a.ApplyOptions(context.Background(), "hp1", nil); err != nil {
		t.Fatal(err)
	}
	if len(r.calls) != 1 {
		t.Error("empty options should not run lpadmin")
	}
}

func TestNonZeroExitIsOperationFailure(t *testing.T) {
	a, _ := newTestAdapter(map[string]*command.Result{
		"/usr/sbin/lpadmin -x hp1": {ExitCode: 1, Stderr: "lpadmin: The printer or class does not exist."},
	})

	err := a.Delete(context.Background(), "hp1")
	if !engine.IsResourceOperation(err) {
		t.Fatalf("expected resource operation failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("stderr should be reported, got %v", err)
	}
}

func TestRunnerErrorIsOperationFailure(t *testing.T) {
	a, r := newTestAdapter(nil)
	r.err = errors.New("exec: not found")

	if err := a.AcceptJobs(context.Background(), "hp1"); !engine.IsResourceOperation(err) {
		t.Errorf("expected resource operation failure, got %v", err)
	}
	if _, err := a.Exists(context.Background(), "hp1"); !engine.IsResourceOperation(err) {
		t.Errorf("expected resource operation failure, got %v", err)
	}
}

func TestPendingJobs(t *testing.T) {
	a, _ := newTestAdapter(map[string]*command.Result{
		"/usr/bin/lpstat -o hp1":  {Stdout: "hp1-12 alice 1024 Mon\nhp1-13 bob 2048 Mon\n"},
		"/usr/bin/lpstat -o idle": {Stdout: ""},
	})

	if n, err := a.PendingJobs(context.Background(), "hp1"); err != nil || n != 2 {
		t.Errorf("expected 2 jobs, got %d (%v)", n, err)
	}
	if n, err := a.PendingJobs(context.Background(), "idle"); err != nil || n != 0 {
		t.Errorf("expected 0 jobs, got %d (%v)", n, err)
	}
}

func TestRejectAndAccept(t *testing.T) {
	a, r := newTestAdapter(nil)
	if err := a.RejectJobs(context.Background(), "hp1"); err != nil {
		t.Fatal(err)
	}
	if err := a.AcceptJobs(context.Background(), "hp1"); err != nil {
		t.Fatal(err)
	}
	if r.calls[0].name != "/usr/sbin/cupsreject" || r.calls[1].name != "/usr/sbin/cupsaccept" {
		t.Errorf("unexpected calls %+v", r.calls)
	}
}

func TestDeviceURI(t *testing.T) {
	a, _ := newTestAdapter(map[string]*command.Result{
		"/usr/bin/lpstat -v hp1": {Stdout: "device for hp1: lpd://printserver/queue\n"},
	})
	uri, err := a.DeviceURI(context.Background(), "hp1")
	if err != nil {
		t.Fatal(err)
	}
	if uri != "lpd://printserver/queue" {
		t.Errorf("unexpected uri %q", uri)
	}
	if got := ParseDeviceURI("garbage"); got != "" {
		t.Errorf("expected empty uri, got %q", got)
	}
}

func TestIntrospect(t *testing.T) {
	a, _ := newTestAdapter(nil)
	a.readFile = func(path string) ([]byte, error) {
		if path != "/etc/cups/ppd/hp1.ppd" {
			return nil, fs.ErrNotExist
		}
		return []byte("*Manufacturer: \"HP\"\n*ModelName: \"LaserJet\"\n*NickName: \"HP LaserJet\"\n"), nil
	}

	info, err := a.Introspect(context.Background(), "hp1")
	if err != nil {
		t.Fatal(err)
	}
	if info.ModelName != "HP LaserJet" {
		t.Errorf("unexpected model %q", info.ModelName)
	}

	if _, err := a.Introspect(context.Background(), "raw"); !engine.IsNotFound(err) {
		t.Errorf("expected not found for a raw queue, got %v", err)
	}
}
