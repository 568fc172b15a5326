package arms

import (
	"fmt"

	"github.com/arthur326/ARMS/internal/audio"
	"github.com/arthur326/ARMS/internal/config"
)

// ListDevices returns the audio devices of backend. An empty backend uses
// the one configured at configPath, or the default backend.
func ListDevices(configPath, backend string) ([]audio.DeviceInfo, error) {
	if backend == "" {
		backend = config.BackendMalgo

		if cfg, _ := config.Load(configPath); cfg != nil {
			backend = cfg.Audio.Backend
		}
	}

	b := newBackend(backend)

	defer func() {
		_ = b.Close()
	}()

	devices, err := b.Devices()
	if err != nil {
		return nil, fmt.Errorf("list %s devices: %w", backend, err)
	}

	return devices, nil
}
