package acquisition

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Port is the part of a serial port the reader needs. serial.Port satisfies it.
type Port interface {
	io.ReadCloser
}

// Opener opens a port for reading with the given read timeout.
type Opener func(name string, baudRate int, readTimeout time.Duration) (Port, error)

// OpenSerial opens a real serial device in 8N1 mode. The input buffer is
// flushed after opening so streaming starts as close to a frame boundary as
// the device allows.
func OpenSerial(name string, baudRate int, readTimeout time.Duration) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}

	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", name, err)
	}

	// Best effort; some drivers do not support flushing.
	_ = port.ResetInputBuffer()

	return port, nil
}

// PortInfo describes a serial port found on the host.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

// ListPorts returns the serial ports available on the host.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		// Fall back to plain names when USB details are unavailable
		names, nameErr := serial.GetPortsList()
		if nameErr != nil {
			return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
		}
		ports := make([]PortInfo, 0, len(names))
		for _, name := range names {
			ports = append(ports, PortInfo{Name: name})
		}
		return ports, nil
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	return ports, nil
}
