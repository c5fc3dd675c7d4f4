package domain

import "fmt"

// Cavity and zone names follow the EPICS convention used across CEBAF:
// R<linac><zone><cavity>, e.g. "R1M1" is cavity 1 of zone M in the north linac.
const (
	validLinacs   = "012"
	validZones    = "23456789ABCDEFGHIJKLMNOPQ"
	validCavities = "12345678"

	// The injector only carries C100-style zones 2-4.
	injectorZones = "234"
	// Injector zone 2 is a quarter cryomodule with cavities 7 and 8 only.
	injectorQuarterCavities = "78"
)

// ValidateCavity checks an EPICS cavity name like "R1M1". A nil return means
// the name addresses a physically possible cavity.
func ValidateCavity(name string) error {
	if len(name) != 4 || name[0] != 'R' {
		return fmt.Errorf("invalid cavity name %q: use EPICS name format ('R1M1')", name)
	}

	linac := name[1]
	if !contains(validLinacs, linac) {
		return fmt.Errorf("invalid linac %q: only 0=Inj, 1=NL, or 2=SL", string(linac))
	}

	zones := validZones
	if linac == '0' {
		zones = injectorZones
	}
	zone := name[2]
	if !contains(zones, zone) {
		return fmt.Errorf("invalid zone %q: options for linac %q are %s", string(zone), string(linac), zones)
	}

	cavities := validCavities
	if linac == '0' && zone == '2' {
		cavities = injectorQuarterCavities
	}
	if !contains(cavities, name[3]) {
		return fmt.Errorf("invalid cavity number %q: options for zone %s are %s", string(name[3]), name[:3], cavities)
	}

	return nil
}

// ValidateZone checks an EPICS zone name like "R1M".
func ValidateZone(name string) error {
	if len(name) != 3 || name[0] != 'R' {
		return fmt.Errorf("invalid zone name %q: use EPICS name format ('R1M')", name)
	}

	linac := name[1]
	if !contains(validLinacs, linac) {
		return fmt.Errorf("invalid linac %q: only 0=Inj, 1=NL, or 2=SL", string(linac))
	}

	zones := validZones
	if linac == '0' {
		zones = injectorZones
	}
	if !contains(zones, name[2]) {
		return fmt.Errorf("invalid zone %q: options for linac %q are %s", string(name[2]), string(linac), zones)
	}

	return nil
}

// ZoneCavities expands a valid zone name into its cavity names.
func ZoneCavities(zone string) ([]string, error) {
	if err := ValidateZone(zone); err != nil {
		return nil, err
	}
	cavities := validCavities
	if zone[1] == '0' && zone[2] == '2' {
		cavities = injectorQuarterCavities
	}
	out := make([]string, 0, len(cavities))
	for _, c := range cavities {
		out = append(out, zone+string(c))
	}
	return out, nil
}

func contains(set string, b byte) bool {
	for i := 0; i < len(set); i++ {
		if set[i] == b {
			return true
		}
	}
	return false
}
