package routing

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"avaneesh/mctp-go/pkg/packet"
)

// StaticFile is a TOML route seed file:
//
//	local = [8]
//
//	[[route]]
//	eid = 9
//	bus = "i2c0"
//	addr = "1d"
//
//	[[route]]
//	eid = 0        # default route to the bus owner
//	bus = "i2c0"
type StaticFile struct {
	Local  []packet.EID  `toml:"local"`
	Routes []StoredRoute `toml:"route"`
}

// LoadStatic reads and validates a route seed file
func LoadStatic(path string) (StaticFile, error) {
	var f StaticFile
	meta, err := toml.DecodeFile(path, &f)
	if err != nil {
		return StaticFile{}, fmt.Errorf("failed to parse routes %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return StaticFile{}, fmt.Errorf("unknown keys in %s: %v", path, undecoded)
	}

	seen := make(map[packet.EID]bool, len(f.Routes))
	for _, r := range f.Routes {
		if err := r.Validate(); err != nil {
			return StaticFile{}, fmt.Errorf("%s: %w", path, err)
		}
		if seen[r.EID] {
			return StaticFile{}, fmt.Errorf("%s: duplicate route for %s", path, r.EID)
		}
		seen[r.EID] = true
	}
	for _, eid := range f.Local {
		if !eid.IsValidTarget() {
			return StaticFile{}, fmt.Errorf("%s: %w: local %s", path, ErrInvalidEndpoint, eid)
		}
	}
	return f, nil
}
