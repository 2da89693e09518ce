package collector

import (
	"strings"
)

// Metric family names, in the order they are rendered.
const (
	WaterTemperatureMetric       = "water_temperature"
	ExternalTemperatureMetric    = "external_temperature"
	CurrentRoomTemperatureMetric = "current_room_temperature"
	TargetRoomTemperatureMetric  = "target_room_temperature"
	PumpStateMetric              = "pump_state"
	OverheatStateMetric          = "overheat_state"
)

// Pump state label values on the room temperature families.
const (
	PumpActive = "active"
	PumpIdle   = "idle"
)

// RenderOptions tweaks the text produced by Render.
type RenderOptions struct {
	// RawLabelValues interpolates label values verbatim instead of escaping
	// backslashes, double quotes and newlines.
	RawLabelValues bool
}

type label struct {
	name  string
	value string
}

type identifiedDevice struct {
	DeviceRecord
	building  string
	apartment string
}

func (d identifiedDevice) labels(extra ...label) []label {
	return append([]label{
		{"name", d.Name},
		{"building", d.building},
		{"apartment_number", d.apartment},
	}, extra...)
}

type renderer struct {
	opts  RenderOptions
	lines []string
}

func (r *renderer) header(name, help string) {
	r.lines = append(r.lines, "# HELP "+name+" "+help, "# TYPE "+name+" gauge")
}

func (r *renderer) sample(name string, labels []label, value string) {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, l := range labels {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(l.name)
		b.WriteString(`="`)
		if r.opts.RawLabelValues {
			b.WriteString(l.value)
		} else {
			b.WriteString(escapeLabelValue(l.value))
		}
		b.WriteByte('"')
	}
	b.WriteString("} ")
	b.WriteString(value)
	r.lines = append(r.lines, b.String())
}

var labelValueEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabelValue(s string) string {
	return labelValueEscaper.Replace(s)
}

func pumpStateLabel(room RoomRecord) string {
	if room.PumpActive() {
		return PumpActive
	}
	return PumpIdle
}

// Render produces the metrics exposition document for devices.
// Every family is emitted in one pass so its samples stay contiguous; devices
// and rooms keep the order they were given in. Lines are joined with "\n"
// and the document has no trailing newline.
func Render(devices []DeviceRecord, opts RenderOptions) string {
	identified := make([]identifiedDevice, len(devices))
	for i, d := range devices {
		building, apartment := ParseIdentifier(d.Name)
		identified[i] = identifiedDevice{DeviceRecord: d, building: building, apartment: apartment}
	}

	r := &renderer{opts: opts}

	r.header(WaterTemperatureMetric, "Water temperature")
	for _, d := range identified {
		if d.WaterTemperature.IsReading() {
			r.sample(WaterTemperatureMetric, d.labels(), string(d.WaterTemperature))
		}
	}

	r.header(ExternalTemperatureMetric, "External temperature")
	for _, d := range identified {
		if d.ExternalTemperature.IsReading() {
			r.sample(ExternalTemperatureMetric, d.labels(), string(d.ExternalTemperature))
		}
	}

	r.header(CurrentRoomTemperatureMetric, "Current room temperature")
	for _, d := range identified {
		for _, room := range d.Rooms {
			r.sample(CurrentRoomTemperatureMetric,
				d.labels(label{"room", room.Title}, label{"pump_state", pumpStateLabel(room)}),
				string(room.CurrentTemperature))
		}
	}

	r.header(TargetRoomTemperatureMetric, "Target room temperature")
	for _, d := range identified {
		for _, room := range d.Rooms {
			r.sample(TargetRoomTemperatureMetric,
				d.labels(label{"room", room.Title}, label{"pump_state", pumpStateLabel(room)}),
				string(room.TargetTemperature))
		}
	}

	r.header(PumpStateMetric, "Pump state")
	for _, d := range identified {
		for _, room := range d.Rooms {
			r.sample(PumpStateMetric, d.labels(label{"room", room.Title}), string(room.PumpOutput))
		}
	}

	r.header(OverheatStateMetric, "Overheat state")
	for _, d := range identified {
		overheat := "0"
		if d.Overheating() {
			overheat = "1"
		}
		r.sample(OverheatStateMetric, d.labels(), overheat)
	}

	return strings.Join(r.lines, "\n")
}
