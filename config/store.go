package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	logInternal "github.com/AlexStarov/labelprint-GoLang-lib/log"
)

// Settings holds the printer and label defaults used by the CLI.
type Settings struct {
	// Transport is one of "ble", "serial", "usb", "tcp", "file", "spooler".
	Transport string `json:"transport"`
	Address   string `json:"address"`  // BLE address, serial port, host:port, device path or printer name
	Name      string `json:"name"`     // BLE name prefix when Address is empty
	BaudRate  int    `json:"baudRate"` // 0 = 115200
	VendorID  uint16 `json:"vendorId"`
	ProductID uint16 `json:"productId"`

	WidthMm     float64 `json:"widthMm"`
	HeightMm    float64 `json:"heightMm"`
	PixelsPerMm float64 `json:"pixelsPerMm"` // calibration, 0 = 8 (203 dpi)
	MaxWidth    int     `json:"maxWidth"`    // printer line width in dots, 0 = no scaling
	Threshold   uint8   `json:"threshold"`
	Rotate      bool    `json:"rotate"`

	ChunkSize int    `json:"chunkSize"` // 0 = negotiated
	Speed     byte   `json:"speed"`
	Density   byte   `json:"density"`
	Media     string `json:"media"` // "", "gaps", "continuous", "marks"
}

// DefaultSettings returns the settings of a 40x30 mm label on a Phomemo
// style BLE printer.
func DefaultSettings() Settings {
	return Settings{
		Transport:   "ble",
		WidthMm:     40,
		HeightMm:    30,
		PixelsPerMm: 8,
		MaxWidth:    384,
		Threshold:   128,
		Rotate:      true,
	}
}

// Store provides thread-safe settings persistence backed by a JSON file.
type Store struct {
	mu       sync.RWMutex
	settings Settings
	path     string
}

// NewStore creates a Store that persists settings to dataDir/settings.json.
// If the file does not exist or is invalid, default settings are used.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}
	s := &Store{
		path:     filepath.Join(dataDir, "settings.json"),
		settings: DefaultSettings(),
	}
	s.load()
	return s, nil
}

// NewMemoryStore creates a Store that keeps settings in memory only.
func NewMemoryStore() *Store {
	return &Store{settings: DefaultSettings()}
}

// Path of the settings file, empty for a memory store.
func (s *Store) Path() string { return s.path }

// Get returns a copy of the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Update replaces the settings and persists them.
func (s *Store) Update(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return s.save()
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return // missing file, keep defaults
	}
	// Fields absent from the file keep their defaults.
	settings := DefaultSettings()
	if err := json.Unmarshal(data, &settings); err != nil {
		logInternal.LogMessagef(logInternal.WARN, "invalid settings file %s, using defaults: %v", s.path, err)
		return
	}
	s.settings = settings
}

func (s *Store) save() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.settings, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
