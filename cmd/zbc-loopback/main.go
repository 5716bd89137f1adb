// Command zbc-loopback is a same-process demo of the ZBC client/host
// pair: it builds OPEN/WRITE/CLOSE/EXIT calls with client.Builder
// directly into a flat byte slice standing in for guest memory, drives
// a Host against that same slice through its memory-ops vtable, and
// prints what came back. It exists to exercise the whole call path
// end-to-end without real guest hardware, the way the teacher's
// ublk-mem command exercises a whole block device from the CLI.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/johnwbyrd/zbc"
	"github.com/johnwbyrd/zbc/backend/dummy"
	"github.com/johnwbyrd/zbc/backend/osfile"
	"github.com/johnwbyrd/zbc/backend/sandboxfs"
	"github.com/johnwbyrd/zbc/client"
	"github.com/johnwbyrd/zbc/internal/constants"
	"github.com/johnwbyrd/zbc/internal/dispatch"
	"github.com/johnwbyrd/zbc/internal/interfaces"
	"github.com/johnwbyrd/zbc/internal/logging"
	"github.com/johnwbyrd/zbc/internal/memops"
	"github.com/johnwbyrd/zbc/internal/opcode"
	"github.com/johnwbyrd/zbc/internal/wire"
)

func main() {
	var (
		backendName = flag.String("backend", "dummy", "backend to host calls against: dummy, osfile, sandboxfs")
		root        = flag.String("root", ".", "sandbox root directory (sandboxfs backend only)")
		path        = flag.String("path", "loopback.txt", "guest path to OPEN")
		message     = flag.String("message", "hello from zbc-loopback\n", "payload WRITE sends to the opened file")
		verbose     = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	back, err := buildBackend(*backendName, *root)
	if err != nil {
		log.Fatalf("backend %q: %v", *backendName, err)
	}

	ram := make([]byte, constants.RecommendedWorkingBufferSize)

	var exitSignal *dispatch.ExitSignal
	host, err := zbc.Init(zbc.HostParams{
		MemOps:        ramOps(ram),
		Backend:       back,
		WorkingBuffer: make([]byte, constants.RecommendedWorkingBufferSize),
	}, &zbc.Options{
		Logger: logger,
		OnExit: func(sig dispatch.ExitSignal) {
			s := sig
			exitSignal = &s
		},
	})
	if err != nil {
		log.Fatalf("zbc.Init: %v", err)
	}
	defer zbc.Teardown(host)

	state := client.NewState(0, 4, 8, wire.Little)

	logger.Info("opening guest path", "path", *path)
	openResp, err := call(host, state, ram, opcode.Open, client.Args{
		Ints: []int64{0, 0, int64(len(*path))},
		Strs: []string{*path},
	})
	if err != nil {
		log.Fatalf("OPEN: %v", err)
	}
	fd := openResp.Result
	if fd < 0 {
		log.Fatalf("OPEN returned fd %d, errno %d", fd, openResp.Errno)
	}
	fmt.Printf("opened fd=%d\n", fd)

	payload := []byte(*message)
	writeResp, err := call(host, state, ram, opcode.Write, client.Args{
		Ints: []int64{fd, 0, int64(len(payload))},
		Data: payload,
	})
	if err != nil {
		log.Fatalf("WRITE: %v", err)
	}
	fmt.Printf("WRITE: %d bytes not written (0 means success)\n", writeResp.Result)

	if _, err := call(host, state, ram, opcode.Close, client.Args{Ints: []int64{fd}}); err != nil {
		log.Fatalf("CLOSE: %v", err)
	}
	fmt.Println("closed fd")

	if _, err := call(host, state, ram, opcode.Exit, client.Args{Ints: []int64{0}}); err != nil {
		log.Fatalf("EXIT: %v", err)
	}
	if exitSignal != nil {
		fmt.Printf("guest requested EXIT: reason=%d\n", exitSignal.Reason)
	}

	if m := host.Metrics(); m != nil {
		fmt.Printf("calls dispatched: %d\n", m.Snapshot().TotalOps)
	}
}

// call builds op's CALL chunk into ram, rings the doorbell, and parses
// the reply the host wrote back into the same slice. The reply lands
// at offset 12 if this particular request carried no CNFG chunk, or 24
// if it did (spec §4.E step 8) — state.CnfgSent flips from false to
// true inside BuildCall, so it must be captured before the call.
func call(host *zbc.Host, state *client.State, ram []byte, op opcode.Op, args client.Args) (*client.Response, error) {
	hadCnfg := !state.CnfgSent
	b := client.NewBuilder(ram, len(ram))
	if _, err := b.BuildCall(state, op, args); err != nil {
		return nil, err
	}
	if err := host.HandleDoorbell(0); err != nil {
		return nil, err
	}
	replyOffset := 12
	if hadCnfg {
		replyOffset = 24
	}
	return client.ParseReply(ram, replyOffset, state)
}

// ramOps wires a flat byte slice behind the memory-ops vtable: the
// demo has no separate guest address space, so address 0 is ram's own
// first byte. Mirrors the package's own guestRAM test harness.
func ramOps(ram []byte) *memops.Ops {
	return &memops.Ops{
		ReadU8: func(_ interface{}, addr memops.Addr) (byte, error) {
			return ram[addr], nil
		},
		WriteU8: func(_ interface{}, addr memops.Addr, v byte) error {
			ram[addr] = v
			return nil
		},
	}
}

func buildBackend(name, root string) (interfaces.Backend, error) {
	switch name {
	case "dummy":
		return dummy.New(), nil
	case "osfile":
		return osfile.New(), nil
	case "sandboxfs":
		return sandboxfs.New(osfile.New(), root), nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want dummy, osfile, or sandboxfs)", name)
	}
}
