package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"burstlink/core"
	"burstlink/host/mcu"
	"burstlink/host/publish"
	"burstlink/host/receiver"
	"burstlink/host/serial"
)

var (
	device   = flag.String("device", "/dev/ttyACM0", "Serial device path")
	baud     = flag.Int("baud", serial.DefaultBaud, "Baud rate (ignored for USB CDC)")
	csvPath  = flag.String("csv", "", "Append received bursts to this CSV file")
	mqttURL  = flag.String("mqtt", "", "Publish received bursts to this broker, e.g. mqtt://host:1883/lab/bursts")
	timeout  = flag.Duration("timeout", mcu.DefaultTimeout, "Command reply timeout")
	evalOnly = flag.Bool("e", false, "Run the command given as arguments and exit")
)

const mcuKey = "$mcu"

func main() {
	flag.Parse()
	defer glog.Flush()

	sinks, closeSinks, err := openSinks()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeSinks()

	conn := mcu.NewMCU(sinks)
	conn.SetTimeout(*timeout)

	cfg := serial.DefaultConfig(*device)
	cfg.Baud = *baud
	if err := conn.ConnectWithConfig(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	shell := ishell.New()
	shell.Set(mcuKey, conn)
	shell.SetPrompt(*device + " > ")
	for _, cmd := range commands {
		shell.AddCmd(cmd)
	}

	if args := flag.Args(); len(args) > 0 {
		if err := shell.Process(args...); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if args[0] == "burst" {
			// Give the burst time to arrive before exiting
			waitIdle(conn)
		}
		return
	}
	if *evalOnly {
		fmt.Fprintln(os.Stderr, "Error: command expected")
		os.Exit(1)
	}
	shell.Println("burstlink host - type 'help' for commands")
	shell.Run()
}

// openSinks combines the configured sinks. Bursts are always logged.
func openSinks() (receiver.Sink, func(), error) {
	var sinks []receiver.Sink
	var closers []func()

	if *csvPath != "" {
		f, err := os.OpenFile(*csvPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", *csvPath, err)
		}
		sinks = append(sinks, publish.NewCSVSink(f))
		closers = append(closers, func() { f.Close() })
	}
	if *mqttURL != "" {
		sink, client, err := publish.DialMQTT(*mqttURL)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, sink)
		closers = append(closers, func() { client.Disconnect(250) })
	}

	all := receiver.SinkFunc(func(b *receiver.Burst) error {
		if b.Aborted {
			fmt.Printf("\nburst %d (%s) aborted, code %d\n", b.ID, b.Type, b.Code)
		} else {
			fmt.Printf("\nburst %d (%s): %d lines in %d blocks, %d ms\n", b.ID, b.Type, len(b.Lines), b.Blocks, b.TimeMs)
		}
		for _, s := range sinks {
			if err := s.Deliver(b); err != nil {
				glog.Errorf("sink: %v", err)
			}
		}
		return nil
	})
	return all, func() {
		for _, c := range closers {
			c()
		}
	}, nil
}

func waitIdle(conn *mcu.MCU) {
	before := conn.Receiver().Stats().Bursts
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if conn.Receiver().Stats().Bursts != before {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	glog.Warning("burst did not complete")
}

func mcuFrom(c *ishell.Context) *mcu.MCU {
	return c.Get(mcuKey).(*mcu.MCU)
}

var commands = []*ishell.Cmd{
	{
		Name: "hello",
		Help: "identify the device",
		Func: func(c *ishell.Context) {
			info, err := mcuFrom(c).Hello()
			if err != nil {
				c.Err(err)
				return
			}
			c.Printf("firmware %s, protocol %s, window %d, %d lines per block\n",
				info.Firmware, info.Protocol, info.Window, info.BlockLines)
		},
	},
	{
		Name: "blocks",
		Help: "[WINDOW LINES RETRIES] show or change block settings",
		Func: func(c *ishell.Context) {
			m := mcuFrom(c)
			var cfg core.BlocksConfig
			var err error
			if len(c.Args) == 0 {
				cfg, err = m.GetBlocks()
			} else {
				var want core.BlocksConfig
				if want, err = parseBlocksArgs(c.Args); err == nil {
					cfg, err = m.SetBlocks(want)
				}
			}
			if err != nil {
				c.Err(err)
				return
			}
			c.Printf("window=%d lines=%d retries=%d\n", cfg.Window, cfg.Lines, cfg.Retries)
		},
	},
	{
		Name: "burst",
		Help: "WEIGHT|DAMP_TRG|DAMP_CD start a burst",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("burst type required"))
				return
			}
			typ, ok := core.ParseBurstType([]byte(strings.ToUpper(c.Args[0])))
			if !ok {
				c.Err(fmt.Errorf("unknown burst type %q", c.Args[0]))
				return
			}
			id, err := mcuFrom(c).StartBurst(typ)
			if err != nil {
				c.Err(err)
				return
			}
			c.Printf("burst %d started\n", id)
		},
	},
	{
		Name: "stop",
		Help: "abort the burst in progress",
		Func: func(c *ishell.Context) {
			if err := mcuFrom(c).Stop(); err != nil {
				c.Err(err)
				return
			}
			c.Println("OK")
		},
	},
	{
		Name: "diag",
		Help: "show device counters",
		Func: func(c *ishell.Context) {
			diag, err := mcuFrom(c).Diag()
			if err != nil {
				c.Err(err)
				return
			}
			for _, k := range []string{"tx_drop", "rx_ovf", "tx_ring", "rx_ring", "queue", "inflight",
				"sent", "resent", "timeouts", "aborts", "mismatch", "too_long"} {
				c.Printf("  %-9s %d\n", k, diag[k])
			}
		},
	},
	{
		Name: "stats",
		Help: "show receiver counters",
		Func: func(c *ishell.Context) {
			st := mcuFrom(c).Receiver().Stats()
			c.Printf("  acked %d, duplicates %d, crc %d, count %d, framing %d, bursts %d\n",
				st.Acked, st.Duplicates, st.CRCErrors, st.CountErrs, st.Framing, st.Bursts)
		},
	},
	{
		Name: "raw",
		Help: "LINE send a raw command line",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("command line required"))
				return
			}
			reply, err := mcuFrom(c).SendCommand(strings.Join(c.Args, " "))
			if reply != "" {
				c.Println(reply)
			}
			if err != nil {
				c.Err(err)
			}
		},
	},
}

func parseBlocksArgs(args []string) (core.BlocksConfig, error) {
	if len(args) != 3 {
		return core.BlocksConfig{}, fmt.Errorf("WINDOW LINES RETRIES required")
	}
	var vals [3]uint64
	for i, bits := range []int{8, 16, 8} {
		v, err := strconv.ParseUint(args[i], 10, bits)
		if err != nil {
			return core.BlocksConfig{}, fmt.Errorf("invalid %q: %w", args[i], err)
		}
		vals[i] = v
	}
	return core.BlocksConfig{Window: uint8(vals[0]), Lines: uint16(vals[1]), Retries: uint8(vals[2])}, nil
}
