package config

import (
	"fmt"
	"strconv"

	"gopkg.in/ini.v1"

	"github.com/agingbench/core/pkg/diag/uds"
)

// LoadDIDTableINI reads the legacy flat DID-table export format the
// original tool produced: one INI section per DID, named "DID_<hex id>",
// with keys size/type/operation/value/padding. This exists alongside the
// structured project-config document (config.go) for projects migrating
// from the legacy tool, grounded on the teacher's own use of
// gopkg.in/ini.v1 for its object-dictionary EDS files.
func LoadDIDTableINI(path string) ([]uds.DIDConfig, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: load DID table %s: %w", path, err)
	}

	var out []uds.DIDConfig
	for _, section := range f.Sections() {
		if len(section.Name()) < 5 || section.Name()[:4] != "DID_" {
			continue
		}
		idHex := section.Name()[4:]
		id, err := strconv.ParseUint(idHex, 16, 16)
		if err != nil {
			return nil, fmt.Errorf("config: DID table section %q: bad id: %w", section.Name(), err)
		}
		size, err := section.Key("size").Int()
		if err != nil {
			return nil, fmt.Errorf("config: DID %s: bad size: %w", idHex, err)
		}
		padding, _ := section.Key("padding").Int()
		out = append(out, uds.DIDConfig{
			ID:        uint16(id),
			Size:      size,
			Type:      uds.DIDType(section.Key("type").String()),
			Operation: uds.Operation(section.Key("operation").String()),
			Value:     section.Key("value").String(),
			Padding:   byte(padding),
		})
	}
	return out, nil
}

// SaveDIDTableINI writes dids back out in the legacy flat format.
func SaveDIDTableINI(path string, dids []uds.DIDConfig) error {
	f := ini.Empty()
	for _, d := range dids {
		section, err := f.NewSection(fmt.Sprintf("DID_%04X", d.ID))
		if err != nil {
			return fmt.Errorf("config: DID table section for %#x: %w", d.ID, err)
		}
		section.NewKey("size", strconv.Itoa(d.Size))
		section.NewKey("type", string(d.Type))
		section.NewKey("operation", string(d.Operation))
		section.NewKey("value", fmt.Sprintf("%v", d.Value))
		section.NewKey("padding", strconv.Itoa(int(d.Padding)))
	}
	return f.SaveTo(path)
}
