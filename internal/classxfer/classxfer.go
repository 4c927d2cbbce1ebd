// Package classxfer implements the mechanics of Class-Transfer (spec.md §6
// "Class-Transfer (code-distribution for pluggable workloads)"): requesting
// a class's bytes from a peer, verifying its checksum, and writing it into a
// worker-local directory. The directory's internal layout stays opaque to
// the core (spec.md §6 "Persisted state ... layout of that directory is
// opaque to the core") — this package only owns the one file per class name
// it writes, nothing about how the receiver later loads it into a Registry.
package classxfer

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/loadfabric/loadfabric/internal/protocol"
	"github.com/loadfabric/loadfabric/internal/session"
)

// Store owns the worker-local directory class payloads are written to.
type Store struct {
	dir string
	log *zap.Logger
}

// NewStore builds a Store rooted at dir, creating it if necessary.
func NewStore(dir string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("classxfer: create %q: %w", dir, err)
	}
	return &Store{dir: dir, log: log.Named("classxfer")}, nil
}

// Path returns where class's payload is (or would be) stored.
func (s *Store) Path(class string) string {
	return filepath.Join(s.dir, class+".class")
}

// Has reports whether class's payload is already present locally, so a
// caller can skip requesting a transfer it already has.
func (s *Store) Has(class string) bool {
	_, err := os.Stat(s.Path(class))
	return err == nil
}

// Request issues a Class-Transfer-Request for class over sess, waits for the
// matching response, verifies the SHA-256 checksum, and writes the payload
// to Path(class). A non-success response code or checksum mismatch leaves
// the local directory untouched.
func (s *Store) Request(ctx context.Context, sess *session.Session, class string) error {
	if _, err := sess.Send(protocol.ClassTransferRequest{ClassName: class}); err != nil {
		return fmt.Errorf("classxfer: send request for %q: %w", class, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		rcv, ok, err := sess.ReadNext()
		if err != nil {
			return fmt.Errorf("classxfer: read response for %q: %w", class, err)
		}
		if !ok {
			continue
		}
		resp, isResp := rcv.Body.(protocol.ClassTransferResponse)
		if !isResp || resp.ClassName != class {
			continue // not our response; some other traffic is interleaved
		}
		return s.store(resp)
	}
}

func (s *Store) store(resp protocol.ClassTransferResponse) error {
	if resp.ResponseCode != protocol.Success {
		return fmt.Errorf("classxfer: transfer of %q failed: %s", resp.ClassName, resp.ResponseCode)
	}
	sum := sha256.Sum256(resp.Payload)
	if !equalDigest(sum[:], resp.Checksum) {
		return fmt.Errorf("classxfer: checksum mismatch for %q", resp.ClassName)
	}
	path := s.Path(resp.ClassName)
	if err := os.WriteFile(path, resp.Payload, 0o644); err != nil {
		return fmt.Errorf("classxfer: write %q: %w", path, err)
	}
	s.log.Info("class transferred", zap.String("class", resp.ClassName), zap.Int("bytes", len(resp.Payload)))
	return nil
}

func equalDigest(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Serve answers an inbound Class-Transfer-Request by reading the requested
// class's payload from dir and replying with a checksummed response
// (coordinator/worker side acting as the code source). Unknown classes get
// a LocalError response rather than a dropped connection, consistent with
// spec.md §7 kind 2 semantic errors: "responded to with a non-success code;
// connection survives".
func Serve(sess *session.Session, messageID int64, dir string, req protocol.ClassTransferRequest) error {
	path := filepath.Join(dir, req.ClassName+".class")
	payload, err := os.ReadFile(path)
	if err != nil {
		return sess.Reply(messageID, protocol.ClassTransferResponse{
			ClassName:    req.ClassName,
			ResponseCode: protocol.LocalError,
		})
	}
	sum := sha256.Sum256(payload)
	return sess.Reply(messageID, protocol.ClassTransferResponse{
		ClassName:    req.ClassName,
		ResponseCode: protocol.Success,
		Payload:      payload,
		Checksum:     sum[:],
	})
}
