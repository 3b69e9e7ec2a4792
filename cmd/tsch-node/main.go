package main

/*------------------------------------------------------------------
 *
 * Purpose:	Main program for a standalone TSCH node, wiring the tsch
 *		MAC driver facade (component C8) to a chosen radio backend.
 *
 * Description:	Three radio backends are supported: -sim links two
 *		Loopback radios for a local two-node demo with no hardware,
 *		-radio=serial speaks KISS over a real or pty serial port,
 *		and -radio=hamlib drives a CAT-controlled rig (itself
 *		wrapping a Modem, here the same serial KISS backend) for
 *		frequency/PTT control. Grounded on cmd/direwolf/main.go's
 *		top-level subsystem wiring and its pflag-based option parsing.
 *
 *------------------------------------------------------------------*/

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/doismellburning/tsch/radio"
	"github.com/doismellburning/tsch/radio/discovery"
	"github.com/doismellburning/tsch/tsch"
)

func main() {
	var configFile = pflag.StringP("config", "c", "", "Node configuration YAML file.")
	var sim = pflag.Bool("sim", false, "Run a local two-node demo over a simulated Loopback link; ignores -radio/-config.")
	var radioKind = pflag.String("radio", "sim", "Radio backend: sim, serial, hamlib.")
	var serialDevice = pflag.String("serial-device", "", "Serial device path for -radio=serial (empty opens a pty pair for local testing).")
	var serialBaud = pflag.Int("serial-baud", 9600, "Serial baud rate for -radio=serial.")
	var hamlibModel = pflag.Int("hamlib-model", 1, "Hamlib rig model number for -radio=hamlib.")
	var hamlibPort = pflag.String("hamlib-port", "", "Hamlib rig control port for -radio=hamlib.")
	var gpioChip = pflag.String("gpio-tick-chip", "", "If set, drive this GPIO chip's line high while the radio is on (e.g. gpiochip0).")
	var gpioLine = pflag.Int("gpio-tick-line", 0, "GPIO line offset for -gpio-tick-chip.")
	var discover = pflag.Bool("discover", false, "List candidate serial devices via udev and exit.")
	var advertise = pflag.Bool("advertise", false, "Advertise this node over mDNS/DNS-SD.")
	var advertiseName = pflag.String("advertise-name", "tsch-node", "Service instance name for -advertise.")
	var advertisePort = pflag.Int("advertise-port", 7878, "Port advertised for -advertise.")
	var debug = pflag.BoolP("debug", "d", false, "Enable per-slot debug logging.")
	pflag.Parse()

	level := log.InfoLevel
	if *debug {
		level = log.DebugLevel
	}
	logger := tsch.NewLoggerAt(level)

	if *discover {
		runDiscover(logger)
		return
	}

	if *advertise {
		adv, err := discovery.Advertise(*advertiseName, "_tsch-ctl._tcp", *advertisePort)
		if err != nil {
			logger.Fatal("advertise failed", "err", err)
		}
		defer adv.Stop()
	}

	if *sim {
		runSim(logger)
		return
	}

	if *configFile == "" {
		fmt.Fprintln(os.Stderr, "tsch-node: -config is required unless -sim or -discover is given")
		pflag.Usage()
		os.Exit(2)
	}

	cfg, err := tsch.LoadNodeConfig(*configFile)
	if err != nil {
		logger.Fatal("loading config", "err", err)
	}

	self, err := tsch.ParseAddr(cfg.Self)
	if err != nil {
		logger.Fatal("parsing self address", "err", err)
	}

	sf, err := cfg.BuildSlotframe()
	if err != nil {
		logger.Fatal("building slotframe", "err", err)
	}

	clock, err := tsch.NewRealClock()
	if err != nil {
		logger.Fatal("opening radio-timer clock", "err", err)
	}
	defer clock.Close()

	r, closer, err := buildRadio(*radioKind, *serialDevice, *serialBaud, *hamlibModel, *hamlibPort)
	if err != nil {
		logger.Fatal("opening radio backend", "radio", *radioKind, "err", err)
	}
	if closer != nil {
		defer closer()
	}

	if *gpioChip != "" {
		gr, err := radio.NewGPIOTick(r, *gpioChip, *gpioLine)
		if err != nil {
			logger.Fatal("opening gpio tick line", "chip", *gpioChip, "err", err)
		}
		defer gr.Close()
		r = gr
	}

	m := tsch.NewMAC(tsch.MACConfig{
		Self:          self,
		Radio:         r,
		Clock:         clock,
		Slotframe:     sf,
		Timing:        cfg.Timing.ToTiming(),
		FilterAddress: true,
		Logger:        logger,
		DeliverUp: func(meta tsch.FrameMeta) {
			logger.Info("received", "src", meta.Src, "seqno", meta.Seqno, "bytes", len(meta.Payload))
		},
	})

	m.Init()
	m.On(tsch.Tick(0))
	logger.Info("node running", "self", self, "radio", *radioKind)

	waitForSignal()
	m.Off(false)
}

// buildRadio constructs the concrete Radio backend named by kind. The
// returned closer, if non-nil, releases backend resources on shutdown.
func buildRadio(kind, serialDevice string, serialBaud, hamlibModel int, hamlibPort string) (tsch.Radio, func(), error) {
	switch kind {
	case "sim":
		lb := radio.NewLoopback()
		return lb, nil, nil

	case "serial":
		var sk *radio.SerialKISS
		var err error
		if serialDevice == "" {
			var ptsPath string
			sk, ptsPath, err = radio.OpenSerialKISSPty()
			if err == nil {
				fmt.Fprintf(os.Stderr, "tsch-node: pty slave at %s\n", ptsPath)
			}
		} else {
			sk, err = radio.OpenSerialKISS(serialDevice, serialBaud)
		}
		if err != nil {
			return nil, nil, err
		}
		go pollSerial(sk)
		return sk, func() { _ = sk.Close() }, nil

	case "hamlib":
		var sk *radio.SerialKISS
		var err error
		if serialDevice == "" {
			var ptsPath string
			sk, ptsPath, err = radio.OpenSerialKISSPty()
			if err == nil {
				fmt.Fprintf(os.Stderr, "tsch-node: pty slave at %s\n", ptsPath)
			}
		} else {
			sk, err = radio.OpenSerialKISS(serialDevice, serialBaud)
		}
		if err != nil {
			return nil, nil, err
		}
		go pollSerial(sk)

		freqs := defaultChannelFreqs()
		hl, err := radio.NewHamlib(hamlibModel, hamlibPort, freqs, sk)
		if err != nil {
			_ = sk.Close()
			return nil, nil, err
		}
		return hl, func() { _ = hl.Close(); _ = sk.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("tsch-node: unknown radio backend %q", kind)
	}
}

// defaultChannelFreqs maps 802.15.4 channels 11-26 onto 2.4GHz center
// frequencies, for a -radio=hamlib rig capable of tuning that band.
func defaultChannelFreqs() radio.ChannelFreqs {
	freqs := make(radio.ChannelFreqs, tsch.HopChannelCount)
	for ch := 0; ch < tsch.HopChannelCount; ch++ {
		freqs[tsch.HopChannelBase+ch] = 2405000000 + uint64(ch)*5000000
	}
	return freqs
}

// pollSerial repeatedly reads from a SerialKISS backend's port, feeding
// received KISS frames into its buffer, mirroring kissserial.go's read
// thread in the teacher.
func pollSerial(sk *radio.SerialKISS) {
	buf := make([]byte, 4096)
	for {
		if err := sk.Poll(buf); err != nil {
			return
		}
	}
}

// runDiscover lists candidate serial devices and exits, for picking a
// -serial-device value.
func runDiscover(logger *log.Logger) {
	candidates, err := discovery.SerialCandidates()
	if err != nil {
		logger.Fatal("enumerating serial devices", "err", err)
	}
	for _, c := range candidates {
		fmt.Printf("%s\tvendor=%s\tmodel=%s\n", c.DevNode, c.Vendor, c.Model)
	}
}

// runSim links two Loopback radios and sends one packet from one to the
// other with no hardware, as a smoke test of the whole stack.
func runSim(logger *log.Logger) {
	a := addrN(0x01)
	b := addrN(0x02)

	radioA := radio.NewLoopback()
	radioB := radio.NewLoopback()
	radio.Link(radioA, radioB)

	clockA, err := tsch.NewRealClock()
	if err != nil {
		logger.Fatal("opening radio-timer clock", "err", err)
	}
	defer clockA.Close()
	clockB, err := tsch.NewRealClock()
	if err != nil {
		logger.Fatal("opening radio-timer clock", "err", err)
	}
	defer clockB.Close()

	sfA := &tsch.Slotframe{Handle: 0, Length: 2, OnSize: 2, Cells: []*tsch.Cell{
		{SlotOffset: 0, Options: tsch.CellTX, Type: tsch.CellNormal, Peer: b},
		{SlotOffset: 1, Options: tsch.CellRX, Type: tsch.CellNormal, Peer: tsch.NullAddr},
	}}
	sfB := &tsch.Slotframe{Handle: 0, Length: 2, OnSize: 2, Cells: []*tsch.Cell{
		{SlotOffset: 0, Options: tsch.CellRX, Type: tsch.CellNormal, Peer: tsch.NullAddr},
		{SlotOffset: 1, Options: tsch.CellTX, Type: tsch.CellNormal, Peer: a},
	}}

	macA := tsch.NewMAC(tsch.MACConfig{
		Self: a, Radio: radioA, Clock: clockA, Slotframe: sfA,
		Timing: tsch.DefaultTiming(), FilterAddress: true, Logger: logger,
		DeliverUp: func(meta tsch.FrameMeta) {
			logger.Info("node A received", "src", meta.Src, "payload", string(meta.Payload))
		},
	})
	macB := tsch.NewMAC(tsch.MACConfig{
		Self: b, Radio: radioB, Clock: clockB, Slotframe: sfB,
		Timing: tsch.DefaultTiming(), FilterAddress: true, Logger: logger,
		DeliverUp: func(meta tsch.FrameMeta) {
			logger.Info("node B received", "src", meta.Src, "payload", string(meta.Payload))
		},
	})

	macA.Init()
	macB.Init()
	macA.On(0)
	macB.On(0)
	defer macA.Off(false)
	defer macB.Off(false)

	done := make(chan struct{})
	macA.Send(b, []byte("hello from A"), func(ctx any, status tsch.MacStatus, transmissions uint8) {
		logger.Info("A's send completed", "status", status, "transmissions", transmissions)
		close(done)
	}, nil)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn("sim: timed out waiting for send completion")
	}
}

func addrN(n byte) tsch.Addr {
	var a tsch.Addr
	a[7] = n
	return a
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
}
