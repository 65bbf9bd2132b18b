package msc

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the optional Prometheus instrumentation for a target. A nil
// *Metrics is valid everywhere it's used; every call site guards on it, so
// metrics stay entirely opt-in.
type Metrics struct {
	commands *prometheus.CounterVec
	senses   *prometheus.CounterVec
	bytes    *prometheus.CounterVec
}

// NewMetrics builds and registers the MSC instrument set against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "usbmsc",
			Name:      "scsi_commands_total",
			Help:      "SCSI commands dispatched, by opcode.",
		}, []string{"opcode"}),
		senses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "usbmsc",
			Name:      "scsi_sense_total",
			Help:      "Sense keys latched in response to a command.",
		}, []string{"key"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "usbmsc",
			Name:      "bot_data_bytes_total",
			Help:      "Bytes moved during the BOT DATA phase, by direction.",
		}, []string{"direction"}),
	}
	reg.MustRegister(m.commands, m.senses, m.bytes)
	return m
}

func (m *Metrics) observeCommand(opcode uint8) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(opcodeLabel(opcode)).Inc()
}

func (m *Metrics) observeSense(key uint8) {
	if m == nil {
		return
	}
	m.senses.WithLabelValues(senseKeyLabel(key)).Inc()
}

func (m *Metrics) observeBytes(directionFlag uint8, n int) {
	if m == nil || n <= 0 {
		return
	}
	label := "out"
	if directionFlag == CBWFlagDataIn {
		label = "in"
	}
	m.bytes.WithLabelValues(label).Add(float64(n))
}

// opcodeLabel renders a SCSI opcode as a stable two-digit hex label rather
// than relying on an exhaustive name table that would need updating for
// every opcode this target ever adds.
func opcodeLabel(opcode uint8) string {
	const hex = "0123456789abcdef"
	return string([]byte{'0', 'x', hex[opcode>>4], hex[opcode&0x0F]})
}

func senseKeyLabel(key uint8) string {
	switch key {
	case SenseNoSense:
		return "no_sense"
	case SenseNotReady:
		return "not_ready"
	case SenseMediumError:
		return "medium_error"
	case SenseHardwareError:
		return "hardware_error"
	case SenseIllegalRequest:
		return "illegal_request"
	case SenseUnitAttention:
		return "unit_attention"
	default:
		return "unknown"
	}
}
