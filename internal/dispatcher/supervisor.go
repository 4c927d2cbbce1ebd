package dispatcher

import (
	"fmt"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/loadfabric/loadfabric/internal/protocol"
	"github.com/loadfabric/loadfabric/internal/session"
)

// Supervisor answers the fleet-level lifecycle messages (spec.md §3
// "Client-Manager-Hello, Start/Stop-Client-Request/Response: fleet-level
// lifecycle used by a per-host supervisor"; SPEC_FULL.md supplemented
// feature). It models a small per-host agent process that can launch or
// terminate a load/monitor client binary on demand, grounded on the
// teacher's agent/internal/connection/manager.go registration flow —
// generalized here from "this process registers itself" to "this process
// launches other processes that will go on to register themselves".
type Supervisor struct {
	loadClientPath    string
	monitorClientPath string
	log               *zap.Logger

	mu        sync.Mutex
	processes map[int]*exec.Cmd
}

// NewSupervisor builds a Supervisor that launches the given binaries.
func NewSupervisor(loadClientPath, monitorClientPath string, log *zap.Logger) *Supervisor {
	return &Supervisor{
		loadClientPath:    loadClientPath,
		monitorClientPath: monitorClientPath,
		log:               log.Named("supervisor"),
		processes:         make(map[int]*exec.Cmd),
	}
}

// HandleClientManagerHello acknowledges the fleet-control connection. There
// is no response message for this hello in the catalogue (spec.md §3 lists
// it without a paired response type), so this is a no-op beyond logging —
// the caller's session stays in StateReady for subsequent Start/Stop-Client
// traffic.
func (sv *Supervisor) HandleClientManagerHello(hello protocol.ClientManagerHello) {
	sv.log.Info("client manager connected",
		zap.String("host_id", hello.HostID), zap.String("manager_version", hello.ManagerVersion))
}

// HandleStartClient launches a load or monitor client subprocess configured
// to dial req.CoordinatorAddr.
func (sv *Supervisor) HandleStartClient(req protocol.StartClientRequest) protocol.StartClientResponse {
	path := sv.loadClientPath
	if req.Kind == protocol.ClientKindMonitor {
		path = sv.monitorClientPath
	}
	if path == "" {
		return protocol.StartClientResponse{
			ResponseCode: protocol.LocalError,
			Message:      "supervisor: no binary configured for requested client kind",
		}
	}

	args := append([]string{
		"--coordinator-addr", req.CoordinatorAddr,
		"--client-id", req.ClientID,
	}, req.ExtraArgs...)
	cmd := exec.Command(path, args...)
	if err := cmd.Start(); err != nil {
		return protocol.StartClientResponse{ResponseCode: protocol.LocalError, Message: err.Error()}
	}

	sv.mu.Lock()
	sv.processes[cmd.Process.Pid] = cmd
	sv.mu.Unlock()

	go sv.reap(cmd)

	sv.log.Info("started client subprocess",
		zap.Int("pid", cmd.Process.Pid), zap.String("client_id", req.ClientID))
	return protocol.StartClientResponse{ResponseCode: protocol.Success, PID: cmd.Process.Pid}
}

// HandleStopClient terminates a previously started client subprocess.
func (sv *Supervisor) HandleStopClient(req protocol.StopClientRequest) protocol.StopClientResponse {
	sv.mu.Lock()
	cmd, ok := sv.processes[req.PID]
	sv.mu.Unlock()
	if !ok {
		return protocol.StopClientResponse{ResponseCode: protocol.LocalError, Message: fmt.Sprintf("no tracked process with pid %d", req.PID)}
	}
	if err := cmd.Process.Kill(); err != nil {
		return protocol.StopClientResponse{ResponseCode: protocol.LocalError, Message: err.Error()}
	}
	return protocol.StopClientResponse{ResponseCode: protocol.Success}
}

// reap waits for a launched subprocess to exit and removes it from the
// tracked set, so HandleStopClient never targets a zombie entry.
func (sv *Supervisor) reap(cmd *exec.Cmd) {
	_ = cmd.Wait()
	sv.mu.Lock()
	delete(sv.processes, cmd.Process.Pid)
	sv.mu.Unlock()
}

// DialFleetSession performs the per-host supervisor's side of the fleet
// handshake on a connection it dialed to the coordinator's fleet-control
// listener: it sends the Client-Manager-Hello that AcceptFleet waits for.
// No response is read, since this variant has none.
func DialFleetSession(sess *session.Session, hostID, managerVersion string) error {
	_, err := sess.Send(protocol.ClientManagerHello{HostID: hostID, ManagerVersion: managerVersion})
	return err
}
