// Package procfs reads the process and socket tables from /proc: the
// running processes for enforcement sweeps, and socket ownership for
// authenticating localhost requests.
package procfs

import (
	"fmt"
	"net/netip"

	pfs "github.com/prometheus/procfs"

	"github.com/hostfocus/focusd/internal/faults"
)

// Process is one running process, reduced to what enforcement needs.
type Process struct {
	PID int
	// PPID links the process into the tree for group termination.
	PPID int
	// UID is the real uid.
	UID uint32
	// Exe is the resolved executable path. Empty when unreadable, which
	// happens for kernel threads and for processes we lack permission
	// to inspect.
	Exe string
}

// Table reads from a proc filesystem mount.
type Table struct {
	fs pfs.FS
}

// New opens the proc filesystem at the given mount point, normally
// "/proc". Tests point it at a fixture directory.
func New(mountPoint string) (*Table, error) {
	fs, err := pfs.NewFS(mountPoint)
	if err != nil {
		return nil, faults.Wrap(faults.KindFilesystem, err, "cannot open proc filesystem at %s", mountPoint)
	}
	return &Table{fs: fs}, nil
}

// Processes lists the visible processes. Individual processes that
// vanish mid-scan or refuse inspection are skipped quietly; a process
// racing with our scan is normal.
func (t *Table) Processes() ([]Process, error) {
	procs, err := t.fs.AllProcs()
	if err != nil {
		return nil, faults.Wrap(faults.KindFilesystem, err, "cannot list processes")
	}
	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		status, err := p.NewStatus()
		if err != nil {
			continue
		}
		stat, err := p.Stat()
		if err != nil {
			continue
		}
		exe, err := p.Executable()
		if err != nil {
			exe = ""
		}
		out = append(out, Process{
			PID:  p.PID,
			PPID: stat.PPID,
			UID:  uint32(status.UIDs[0]),
			Exe:  exe,
		})
	}
	return out, nil
}

// PeerUID returns the uid owning the socket bound to the given local
// address, consulting both the IPv4 and IPv6 tcp tables. This is how a
// request on the loopback listener is attributed to a user: the peer's
// ephemeral port appears as a local address in the connection table.
func (t *Table) PeerUID(peer netip.AddrPort) (uint32, error) {
	tables := make([]pfs.NetTCP, 0, 2)
	if tcp4, err := t.fs.NetTCP(); err == nil {
		tables = append(tables, tcp4)
	}
	if tcp6, err := t.fs.NetTCP6(); err == nil {
		tables = append(tables, tcp6)
	}
	if len(tables) == 0 {
		return 0, faults.New(faults.KindFilesystem, "cannot read tcp tables")
	}

	want := peer.Addr().Unmap()
	for _, table := range tables {
		for _, line := range table {
			if line.LocalPort != uint64(peer.Port()) {
				continue
			}
			addr, ok := netip.AddrFromSlice(line.LocalAddr)
			if !ok || addr.Unmap() != want {
				continue
			}
			return uint32(line.UID), nil
		}
	}
	return 0, faults.New(faults.KindResolution, "no socket bound to %s", peer)
}

// String implements fmt.Stringer for log output.
func (p Process) String() string {
	return fmt.Sprintf("pid=%d uid=%d exe=%s", p.PID, p.UID, p.Exe)
}
