package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/blehost"
	"github.com/rigado/blehost/config"
	"github.com/rigado/blehost/linux/hci"
	"github.com/rigado/blehost/linux/hci/bond"
	"github.com/rigado/blehost/linux/hci/privacy"
	"github.com/rigado/blehost/sliceops"
	"github.com/urfave/cli"
)

const opTimeout = 5 * time.Second

func main() {
	app := cli.NewApp()
	app.Name = "blehost"
	app.Usage = "private addresses and pairing front end of a BLE host"
	app.Flags = []cli.Flag{
		cli.BoolFlag{Name: "debug", Usage: "log everything"},
	}
	app.Before = func(c *cli.Context) error {
		if c.Bool("debug") {
			blehost.SetLogLevelMax()
		}
		return nil
	}
	app.Commands = []cli.Command{
		{
			Name:  "rpa",
			Usage: "generate a resolvable private address",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "irk", Usage: "identity resolving key, 32 hex digits"},
				cli.StringFlag{Name: "prand", Usage: "random part, 6 hex digits (default: random)"},
			},
			Action: cmdRPA,
		},
		{
			Name:   "nrpa",
			Usage:  "generate a non-resolvable private address",
			Action: cmdNRPA,
		},
		{
			Name:  "resolve",
			Usage: "resolve a private address against a bonds file",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "addr", Usage: "address to resolve"},
				cli.StringFlag{Name: "bonds", Value: bond.DefaultPath(), Usage: "bonds file"},
			},
			Action: cmdResolve,
		},
		{
			Name:  "run",
			Usage: "run a host until interrupted",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "config", Usage: "YAML config file (default: built-in defaults)"},
			},
			Action: cmdRun,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func hexArg(c *cli.Context, name string, n int) ([]byte, error) {
	b, err := hex.DecodeString(c.String(name))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid --%s", name)
	}
	if len(b) != n {
		return nil, errors.Errorf("--%s must be %d bytes", name, n)
	}
	// given most significant first
	return sliceops.SwapBuf(b), nil
}

func cmdRPA(c *cli.Context) error {
	k, err := hexArg(c, "irk", 16)
	if err != nil {
		return err
	}
	var irk [16]byte
	copy(irk[:], k)

	r := make([]byte, 3)
	if c.String("prand") != "" {
		if r, err = hexArg(c, "prand", 3); err != nil {
			return err
		}
	} else if _, err := rand.Read(r); err != nil {
		return errors.Wrap(err, "can't read random")
	}

	a, err := privacy.Resolvable(irk, r)
	if err != nil {
		return err
	}
	fmt.Println(a)
	return nil
}

func cmdNRPA(c *cli.Context) error {
	h, err := detached()
	if err != nil {
		return err
	}
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	a, err := h.NRPA(ctx)
	if err != nil {
		return err
	}
	fmt.Println(a)
	return nil
}

func cmdResolve(c *cli.Context) error {
	addr, err := blehost.ParseAddr(c.String("addr"))
	if err != nil {
		return errors.Wrap(err, "invalid --addr")
	}
	h, err := detached(blehost.OptDeviceRecords(c.String("bonds")))
	if err != nil {
		return err
	}
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	rec, err := h.Resolve(ctx, addr)
	if err != nil {
		return err
	}
	if rec == nil {
		return cli.NewExitError(fmt.Sprintf("%v: no match", addr), 2)
	}
	fmt.Printf("%v -> %v (%v)\n", addr, rec.Addr, rec.AddrType)
	return nil
}

// detached returns a running host without a controller.
func detached(opts ...blehost.Option) (*hci.Host, error) {
	h, err := hci.NewHost(opts...)
	if err != nil {
		return nil, err
	}
	if err := h.Init(); err != nil {
		return nil, err
	}
	return h, nil
}

func cmdRun(c *cli.Context) error {
	cfg := config.New()
	if p := c.String("config"); p != "" {
		var err error
		if cfg, err = config.Load(p); err != nil {
			return err
		}
	}
	if !c.GlobalBool("debug") {
		if err := blehost.SetLogLevel(cfg.LogLevel); err != nil {
			return err
		}
	}
	opts, err := cfg.Options()
	if err != nil {
		return err
	}

	h, err := hci.NewHost(opts...)
	if err != nil {
		return err
	}
	if err := h.Init(); err != nil {
		return err
	}
	defer h.Close()
	if cfg.Dispatcher.PreloadGate {
		h.Start()
	}

	log := blehost.GetLogger().ChildLogger(map[string]interface{}{"stack": h.ID().String()})
	ch := h.Subscribe()
	go func() {
		for n := range ch {
			log.Infof("%v from %v: %v", n.Event, n.Peer, n.Status)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case <-ctx.Done():
		log.Info("interrupted")
		return nil
	case <-h.Done():
		return h.Error()
	}
}
