package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"go-syncstart/hosttime"
	"go-syncstart/midi"
	"go-syncstart/sequencer"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch os.Args[1] {
	case "list":
		err = listPorts()
	case "poll":
		pollDevices(ctx)
	case "leds":
		err = testLEDs(ctx)
	case "notes":
		if len(os.Args) < 3 {
			usage()
			return
		}
		kit := "gm"
		if len(os.Args) > 3 {
			kit = os.Args[3]
		}
		err = testNotes(os.Args[2], kit)
	default:
		usage()
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("MIDI Test Scripts")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  list               - List MIDI output ports")
	fmt.Println("  poll               - Watch for Launchpads coming and going")
	fmt.Println("  leds               - Draw the default pattern on a Launchpad")
	fmt.Println("  notes <port> [kit] - Play each drum track once on a MIDI output")
}

func listPorts() error {
	fmt.Println("=== MIDI Output Ports ===")
	fmt.Printf("(waiting up to %s...)\n", midi.ScanTimeout)
	names, err := midi.ListOutPorts(midi.ScanTimeout)
	if err != nil {
		fmt.Println("Fix on macOS: sudo killall coreaudiod midiserver")
		return err
	}
	for i, name := range names {
		fmt.Printf("  %d: %s\n", i, name)
	}
	return nil
}

func pollDevices(ctx context.Context) {
	fmt.Println("Polling for Launchpads. Connect/disconnect to test. Ctrl+C to exit.")
	dm := midi.NewDeviceManager(nil, "")
	go dm.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-dm.Events():
			stamp := time.Now().Format("15:04:05")
			switch ev.Type {
			case midi.DeviceConnected:
				fmt.Printf("[%s] connected: %s\n", stamp, ev.ID)
			case midi.DeviceDisconnected:
				fmt.Printf("[%s] disconnected: %s\n", stamp, ev.ID)
			}
		}
	}
}

func testLEDs(ctx context.Context) error {
	fmt.Println("Waiting for a Launchpad...")
	dm := midi.NewDeviceManager(nil, "")
	go dm.Run(ctx)

	var lp midi.Controller
	for lp == nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-dm.Events():
			if ev.Type == midi.DeviceConnected {
				lp = ev.Controller
			}
		}
	}

	sched := sequencer.NewScheduler(44100, nil)
	defer sched.Close()
	st := sched.Snapshot()
	st.Running = true
	for step := 0; step < sequencer.NumSteps; step++ {
		st.Step = step
		if err := lp.SetLEDBatch(midi.Render(st)); err != nil {
			return err
		}
		time.Sleep(125 * time.Millisecond)
	}

	fmt.Println("Press Enter to clear...")
	fmt.Scanln()
	return lp.ClearLEDs()
}

func testNotes(port, kit string) error {
	sink, err := midi.OpenSink(port, 10, sequencer.GetKit(kit), hosttime.Real())
	if err != nil {
		return err
	}
	defer sink.Close()

	for track, name := range sequencer.TrackNames {
		on, _, _ := sink.Events(track)
		fmt.Printf("%-6s %s\n", name, on)
		sink.Play(track)
		time.Sleep(300 * time.Millisecond)
	}
	sent, failed := sink.Stats()
	fmt.Printf("sent %d, failed %d\n", sent, failed)
	return nil
}
