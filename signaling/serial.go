package signaling

import (
	"fmt"
	"sync"

	"github.com/tarm/serial"
)

// SerialAlarm drives an external alarm board over a serial port. Each pulse
// writes a one-character command terminated by a semicolon, matching the
// firmware's framing.
type SerialAlarm struct {
	portName string
	baud     int

	mutex sync.Mutex
	port  *serial.Port
}

// NewSerialAlarm creates an alarm writer for the given port. The port is
// opened lazily on the first pulse.
func NewSerialAlarm(portName string, baud int) *SerialAlarm {
	return &SerialAlarm{
		portName: portName,
		baud:     baud,
	}
}

// Pulse sends one alarm trigger to the board.
func (s *SerialAlarm) Pulse() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.port == nil {
		config := &serial.Config{
			Name: s.portName,
			Baud: s.baud,
		}
		port, err := serial.OpenPort(config)
		if err != nil {
			return fmt.Errorf("failed to open serial port: %v", err)
		}
		s.port = port
	}

	if _, err := s.port.Write([]byte("A;")); err != nil {
		// Drop the handle so the next pulse reopens the port.
		s.port.Close()
		s.port = nil
		return fmt.Errorf("failed to write to serial port: %v", err)
	}
	return nil
}

// Close closes the serial port connection
func (s *SerialAlarm) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.port != nil {
		err := s.port.Close()
		s.port = nil
		return err
	}
	return nil
}
