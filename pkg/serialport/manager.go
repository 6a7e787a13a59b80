package serialport

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	readChunk    = 64
	pollInterval = 5 * time.Millisecond
)

// Manager owns the serial ports of the process, keyed by port name. Ports are
// opened on first use with their recorded settings and stay open until Close.
type Manager struct {
	backend Backend
	logger  log.FieldLogger

	mu    sync.Mutex
	ports map[string]*portEntry
}

type portEntry struct {
	mu       sync.Mutex
	settings Settings
	conn     Conn
	pending  []byte // bytes read past the last answer terminator
}

func NewManager(backend Backend, logger log.FieldLogger) *Manager {
	return &Manager{
		backend: backend,
		logger:  logger,
		ports:   make(map[string]*portEntry),
	}
}

func (m *Manager) entry(name string) (*portEntry, error) {
	if !ValidPortName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPort, name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.ports[name]
	if !ok {
		e = &portEntry{settings: DefaultSettings()}
		m.ports[name] = e
	}
	return e, nil
}

// open must be called with e.mu held.
func (m *Manager) open(name string, e *portEntry) error {
	if e.conn != nil {
		return nil
	}

	conn, err := m.backend.Open(name, e.settings)
	if err != nil {
		return fmt.Errorf("%w %s: %v", ErrOpenFailed, name, err)
	}

	m.logger.Debugf("Opened %s at %d baud", name, e.settings.BaudRate)
	e.conn = conn
	e.pending = nil
	return nil
}

// Open opens the named port if it is not open yet.
func (m *Manager) Open(name string) error {
	e, err := m.entry(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return m.open(name, e)
}

// IsOpen reports whether the named port is currently open.
func (m *Manager) IsOpen(name string) bool {
	m.mu.Lock()
	e, ok := m.ports[name]
	m.mu.Unlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil
}

// Close closes the named port. Closing a port that is not open is a no-op.
func (m *Manager) Close(name string) error {
	m.mu.Lock()
	e, ok := m.ports[name]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		return nil
	}
	err := e.conn.Close()
	e.conn = nil
	e.pending = nil
	m.logger.Debugf("Closed %s", name)
	return err
}

// CloseAll closes every open port and returns the first error encountered.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	names := make([]string, 0, len(m.ports))
	for name := range m.ports {
		names = append(names, name)
	}
	m.mu.Unlock()

	var first error
	for _, name := range names {
		if err := m.Close(name); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Settings returns the settings recorded for the named port.
func (m *Manager) Settings(name string) (Settings, error) {
	e, err := m.entry(name)
	if err != nil {
		return Settings{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings, nil
}

// SetSettings records new settings for the named port and applies them
// immediately when the port is open. If the open port rejects them, it is
// closed and the next operation reopens it with s.
func (m *Manager) SetSettings(name string, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	e, err := m.entry(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.settings = s
	if e.conn == nil {
		return nil
	}

	if err := e.conn.Configure(s); err != nil {
		if cerr := e.conn.Close(); cerr != nil {
			m.logger.Warnf("Failed to close %s after configuration error: %v", name, cerr)
		}
		e.conn = nil
		e.pending = nil
		return fmt.Errorf("failed to configure %s: %w", name, err)
	}
	return nil
}

// Purge discards buffered input and output of the named port.
func (m *Manager) Purge(name string) error {
	e, err := m.entry(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := m.open(name, e); err != nil {
		return err
	}
	e.pending = nil
	return e.conn.Purge()
}

// Write sends data to the named port, pausing between characters when the
// port's settings ask for it.
func (m *Manager) Write(name string, data []byte) error {
	e, err := m.entry(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := m.open(name, e); err != nil {
		return err
	}

	m.logger.Debugf("%s <- %q", name, data)

	if e.settings.DelayBetweenChars <= 0 {
		n, err := e.conn.Write(data)
		if err != nil {
			return err
		}
		if n != len(data) {
			return fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, len(data))
		}
		return nil
	}

	for i := range data {
		if _, err := e.conn.Write(data[i : i+1]); err != nil {
			return err
		}
		time.Sleep(e.settings.DelayBetweenChars)
	}
	return nil
}

// Read returns whatever is available on the named port, up to maxLen bytes.
func (m *Manager) Read(name string, maxLen int) ([]byte, error) {
	e, err := m.entry(name)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := m.open(name, e); err != nil {
		return nil, err
	}

	if maxLen <= 0 {
		maxLen = readChunk
	}
	if len(e.pending) > 0 {
		n := min(maxLen, len(e.pending))
		out := append([]byte(nil), e.pending[:n]...)
		e.pending = e.pending[n:]
		return out, nil
	}

	buf := make([]byte, maxLen)
	n, err := e.conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// ReadAnswer reads from the named port until term is seen and returns the
// answer without the terminator. It gives up after the port's answer timeout.
func (m *Manager) ReadAnswer(name string, term string, maxLen int) (string, error) {
	e, err := m.entry(name)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := m.open(name, e); err != nil {
		return "", err
	}

	answer := e.pending
	e.pending = nil
	deadline := time.Now().Add(e.settings.AnswerTimeout)
	buf := make([]byte, readChunk)

	for {
		if i := bytes.Index(answer, []byte(term)); i >= 0 {
			e.pending = append([]byte(nil), answer[i+len(term):]...)
			m.logger.Debugf("%s -> %q", name, answer[:i])
			return string(answer[:i]), nil
		}
		if len(answer) > maxLen {
			return "", fmt.Errorf("%w: %d bytes", ErrAnswerTooLong, len(answer))
		}
		if !time.Now().Before(deadline) {
			return "", fmt.Errorf("%w on %s after %v", ErrAnswerTimeout, name, e.settings.AnswerTimeout)
		}

		n, err := e.conn.Read(buf)
		if err != nil {
			return "", err
		}
		if n == 0 {
			time.Sleep(pollInterval)
			continue
		}
		answer = append(answer, buf[:n]...)
	}
}
