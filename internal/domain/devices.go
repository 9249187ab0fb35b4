package domain

// DeviceProfile describes a mobile emulation preset.
type DeviceProfile struct {
	Name   string
	Width  int
	Height int
	Scale  float64
}

// genericMobile is used when a device name is unrecognized or when only the
// mobile flag is set.
var genericMobile = DeviceProfile{Name: "generic", Width: 375, Height: 667, Scale: 2}

var deviceProfiles = map[string]DeviceProfile{
	"iPhone 12": {Name: "iPhone 12", Width: 390, Height: 844, Scale: 3},
	"iPad":      {Name: "iPad", Width: 820, Height: 1180, Scale: 2},
	"Pixel 5":   {Name: "Pixel 5", Width: 393, Height: 851, Scale: 2.75},
}

// LookupDevice resolves a device name to its emulation profile, falling back
// to the generic mobile profile for unknown names.
func LookupDevice(name string) DeviceProfile {
	if d, ok := deviceProfiles[name]; ok {
		return d
	}
	return genericMobile
}

// DeviceNames lists the known emulation presets.
func DeviceNames() []string {
	return []string{"iPhone 12", "iPad", "Pixel 5"}
}
