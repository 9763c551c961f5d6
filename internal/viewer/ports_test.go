package viewer

import (
	"errors"
	"net"
	"net/url"
	"testing"

	vierr "github.com/hochfrequenz/task-viewer/internal/errors"
)

func TestFindFreePort_SkipsOccupied(t *testing.T) {
	occupied := map[int]bool{9322: true, 9323: true, 9324: true}
	free := func(p int) bool { return !occupied[p] }

	got, err := FindFreePort(9322, 20, free)
	if err != nil {
		t.Fatal(err)
	}
	if got != 9325 {
		t.Errorf("FindFreePort() = %d, want 9325", got)
	}
}

func TestFindFreePort_Exhausted(t *testing.T) {
	var tried []int
	free := func(p int) bool {
		tried = append(tried, p)
		return false
	}

	_, err := FindFreePort(9322, 5, free)
	if !errors.Is(err, vierr.ErrResourceExhausted) {
		t.Errorf("FindFreePort() error = %v, want ResourceExhausted", err)
	}
	if len(tried) != 5 || tried[0] != 9322 || tried[4] != 9326 {
		t.Errorf("tried ports %v, want 9322..9326", tried)
	}
}

func TestPortFree_DetectsListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	if PortFree(port) {
		t.Errorf("PortFree(%d) = true while a listener holds it", port)
	}
	if _, err := FindFreePort(port, 1, PortFree); !errors.Is(err, vierr.ErrResourceExhausted) {
		t.Errorf("FindFreePort over occupied port error = %v", err)
	}
}

func TestLinker_URLFor(t *testing.T) {
	l := Linker{ViewerURL: "https://trace.playwright.dev/", PublicBase: "http://localhost:5000"}

	if got := l.TraceFileURL(42); got != "http://localhost:5000/traces/42.trace.zip" {
		t.Errorf("TraceFileURL() = %q", got)
	}

	got := l.URLFor(42)
	want := "https://trace.playwright.dev/?trace=http%3A%2F%2Flocalhost%3A5000%2Ftraces%2F42.trace.zip"
	if got != want {
		t.Errorf("URLFor() = %q, want %q", got, want)
	}

	u, err := url.Parse(got)
	if err != nil {
		t.Fatal(err)
	}
	if u.Query().Get("trace") != l.TraceFileURL(42) {
		t.Errorf("trace param decodes to %q", u.Query().Get("trace"))
	}
}
