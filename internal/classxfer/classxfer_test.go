package classxfer

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/loadfabric/loadfabric/internal/protocol"
	"github.com/loadfabric/loadfabric/internal/session"
	"github.com/loadfabric/loadfabric/internal/session/auth"
)

func handshakePair(t *testing.T) (workerSess, coordSess *session.Session) {
	t.Helper()
	workerConn, coordConn := net.Pipe()
	t.Cleanup(func() { workerConn.Close(); coordConn.Close() })

	log := zap.NewNop()
	dialDone := make(chan *session.Session, 1)
	go func() {
		s, _, err := session.DialWorker(context.Background(), workerConn, session.Identity{
			Version: "1.0", ID: "worker-a",
		}, time.Second, log)
		if err != nil {
			t.Errorf("DialWorker: %v", err)
			return
		}
		dialDone <- s
	}()

	accepted, _, err := session.AcceptCoordinator(context.Background(), coordConn, session.AcceptConfig{
		ServerVersion: "1.0", ServerID: "coord-1", Verifier: auth.NewRegistry(), HandshakeTimeout: time.Second,
	}, log)
	if err != nil {
		t.Fatalf("AcceptCoordinator: %v", err)
	}
	accepted.ReadTimeout = time.Second
	worker := <-dialDone
	worker.ReadTimeout = time.Second
	return worker, accepted
}

// TestRequestServeRoundTrip exercises spec.md §6's Class-Transfer mechanics
// end to end: a requester asks for a class by name, the server side reads
// the payload off disk and replies with a SHA-256 checksum, and the
// requester verifies it before writing the payload to its own store.
func TestRequestServeRoundTrip(t *testing.T) {
	serverDir := t.TempDir()
	payload := []byte("package body of the ldap-search class")
	if err := os.WriteFile(filepath.Join(serverDir, "ldap-search.class"), payload, 0o644); err != nil {
		t.Fatalf("seed server class file: %v", err)
	}

	clientDir := t.TempDir()
	store, err := NewStore(clientDir, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	requester, server := handshakePair(t)

	serveDone := make(chan error, 1)
	go func() {
		rcv, ok, err := server.ReadNext()
		if err != nil {
			serveDone <- err
			return
		}
		if !ok {
			serveDone <- nil
			return
		}
		req, isReq := rcv.Body.(protocol.ClassTransferRequest)
		if !isReq {
			serveDone <- nil
			return
		}
		serveDone <- Serve(server, rcv.MessageID, serverDir, req)
	}()

	if store.Has("ldap-search") {
		t.Fatal("Has() reported a class this Store has not received yet")
	}

	if err := store.Request(context.Background(), requester, "ldap-search"); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if err := <-serveDone; err != nil {
		t.Fatalf("Serve: %v", err)
	}

	if !store.Has("ldap-search") {
		t.Error("Has() false after a successful Request")
	}
	got, err := os.ReadFile(store.Path("ldap-search"))
	if err != nil {
		t.Fatalf("read stored payload: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("stored payload = %q, want %q", got, payload)
	}
}

// TestRequestUnknownClassLeavesStoreUntouched exercises the LocalError path
// spec.md §7 kind 2 describes: the connection survives and the local
// directory is left untouched.
func TestRequestUnknownClassLeavesStoreUntouched(t *testing.T) {
	serverDir := t.TempDir()
	clientDir := t.TempDir()
	store, err := NewStore(clientDir, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	requester, server := handshakePair(t)

	serveDone := make(chan error, 1)
	go func() {
		rcv, ok, err := server.ReadNext()
		if err != nil {
			serveDone <- err
			return
		}
		if !ok {
			serveDone <- nil
			return
		}
		req := rcv.Body.(protocol.ClassTransferRequest)
		serveDone <- Serve(server, rcv.MessageID, serverDir, req)
	}()

	err = store.Request(context.Background(), requester, "missing-class")
	if err == nil {
		t.Fatal("expected Request to fail for a class the server does not have")
	}
	if err := <-serveDone; err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if store.Has("missing-class") {
		t.Error("Has() true after a failed Request; store should be untouched")
	}
}

func TestStoreCreatesDirectoryAndPath(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "nested", "classes")
	store, err := NewStore(dir, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("NewStore did not create %q: %v", dir, err)
	}
	want := filepath.Join(dir, "http-get.class")
	if got := store.Path("http-get"); got != want {
		t.Errorf("Path(%q) = %q, want %q", "http-get", got, want)
	}
}
