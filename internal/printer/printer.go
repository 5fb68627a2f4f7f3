package printer

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"storefront/register/internal/receipt"
)

// Job is one rendered copy headed for a printer.
type Job struct {
	InvoiceNumber string
	Document      receipt.Document
}

type Printer interface {
	Print(ctx context.Context, job Job) error
	Close() error
}

type Config struct {
	Type       string
	Device     string
	Address    string
	Command    string
	CloseDelay time.Duration
	Logger     *zap.Logger
}

// NewFromConfig selects a printer by type: none, usb, network or spool.
func NewFromConfig(cfg Config) (Printer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", "none":
		return Discard{}, nil
	case "usb":
		if strings.TrimSpace(cfg.Device) == "" {
			return nil, fmt.Errorf("printer: device path is required for usb printer type")
		}
		return NewUSB(cfg.Device), nil
	case "network":
		if strings.TrimSpace(cfg.Address) == "" {
			return nil, fmt.Errorf("printer: address is required for network printer type")
		}
		return NewNetwork(cfg.Address), nil
	case "spool":
		return NewSpool(cfg.Command, cfg.CloseDelay, cfg.Logger), nil
	}
	return nil, fmt.Errorf("printer: unknown printer type %q (use none, usb, network or spool)", cfg.Type)
}

// Discard accepts every job and prints nothing.
type Discard struct{}

func (Discard) Print(context.Context, Job) error { return nil }
func (Discard) Close() error                     { return nil }

// USB writes ESC/POS bytes to a device file such as /dev/usb/lp0. The file is
// opened per job.
type USB struct {
	path string
}

func NewUSB(devicePath string) *USB {
	return &USB{path: devicePath}
}

func (p *USB) Print(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.OpenFile(p.path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("printer: open usb device %s: %w", p.path, err)
	}
	defer f.Close()

	if _, err := f.Write(job.Document.ESCPOS); err != nil {
		return fmt.Errorf("printer: write usb device %s: %w", p.path, err)
	}
	return nil
}

func (p *USB) Close() error { return nil }

const defaultRawPort = "9100"

// Network sends ESC/POS bytes to a raw TCP printer port.
type Network struct {
	address      string
	dialTimeout  time.Duration
	writeTimeout time.Duration
}

// NewNetwork accepts "host" or "host:port"; the port defaults to 9100.
func NewNetwork(address string) *Network {
	address = strings.TrimSpace(address)
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, defaultRawPort)
	}
	return &Network{
		address:      address,
		dialTimeout:  5 * time.Second,
		writeTimeout: 10 * time.Second,
	}
}

func (p *Network) Address() string { return p.address }

func (p *Network) Print(ctx context.Context, job Job) error {
	dialer := net.Dialer{Timeout: p.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.address)
	if err != nil {
		return fmt.Errorf("printer: connect %s: %w", p.address, err)
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	if _, err := conn.Write(job.Document.ESCPOS); err != nil {
		return fmt.Errorf("printer: write %s: %w", p.address, err)
	}
	return nil
}

func (p *Network) Close() error { return nil }
