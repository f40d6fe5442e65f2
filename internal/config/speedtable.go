package config

/*------------------------------------------------------------------
 *
 * Purpose:	YAML loading for the speed table, the one piece of engine
 *		configuration §4.5 names as an external input rather than a
 *		compile-time constant.
 *
 * Description:	The engine package itself (internal/arq) never reads a
 *		file; this package is the caller-side convenience the demo
 *		binary and any future host process use to turn a document on
 *		disk into an arq.SpeedTable.
 *
 *------------------------------------------------------------------*/

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/freedata-radio/arq-engine/internal/arq"
)

// LoadSpeedTable reads and validates a SpeedTable document from path.
func LoadSpeedTable(path string) (arq.SpeedTable, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return arq.SpeedTable{}, fmt.Errorf("config: read speed table: %w", err)
	}
	var t arq.SpeedTable
	if err := yaml.Unmarshal(b, &t); err != nil {
		return arq.SpeedTable{}, fmt.Errorf("config: parse speed table: %w", err)
	}
	if len(t.Modes) == 0 {
		return arq.SpeedTable{}, fmt.Errorf("config: speed table %s has no modes", path)
	}
	for i, m := range t.Modes {
		if m.BytesPerFrame <= 0 {
			return arq.SpeedTable{}, fmt.Errorf("config: mode %d (%s) has non-positive bytes_per_frame", i, m.Name)
		}
	}
	return t, nil
}
