package netmon

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/dmdmdm-nz/netplugd/internal/filter"
	"github.com/dmdmdm-nz/netplugd/internal/ifinfo"
	"github.com/dmdmdm-nz/netplugd/internal/rtattr"
)

// ErrNoInterfaceName is returned for a live link message without
// IFLA_IFNAME. The daemon cannot trust the stream after that.
var ErrNoInterfaceName = errors.New("link message without interface name")

// iflaMax is the highest IFLA_* attribute kept. x/sys has no IFLA_MAX;
// newer kernel attributes are skipped.
const iflaMax = unix.IFLA_DPLL_PIN

type EngineConfig struct {
	Registry *ifinfo.Registry
	Filter   *filter.NameFilter
	Hooks    HookDispatcher
	Reprober Reprober
	Metrics  *Metrics
	OnEvent  EventHandler

	// TrackNewInterfaces records a baseline for a matching interface whose
	// first sighting is a live message. When false such messages are
	// dropped without creating a record, as netplug does.
	TrackNewInterfaces bool
}

// Engine turns link messages into hook and reprobe decisions. It is not
// safe for concurrent use; feed it from one goroutine.
type Engine struct {
	registry *ifinfo.Registry
	filter   *filter.NameFilter
	hooks    HookDispatcher
	reprober Reprober
	metrics  *Metrics
	onEvent  EventHandler
	trackNew bool
}

func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		registry: cfg.Registry,
		filter:   cfg.Filter,
		hooks:    cfg.Hooks,
		reprober: cfg.Reprober,
		metrics:  cfg.Metrics,
		onEvent:  cfg.OnEvent,
		trackNew: cfg.TrackNewInterfaces,
	}
	if e.registry == nil {
		e.registry = ifinfo.NewRegistry()
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(prometheus.NewRegistry())
	}
	if e.hooks == nil {
		e.hooks = nopCollaborator{}
	}
	if e.reprober == nil {
		e.reprober = nopCollaborator{}
	}
	return e
}

type nopCollaborator struct{}

func (nopCollaborator) Invoke(string, string) {}

func (nopCollaborator) Probe(string) error { return nil }

// Registry returns the registry the engine writes to.
func (e *Engine) Registry() *ifinfo.Registry {
	return e.registry
}

// HandleDump records one message of the initial enumeration. No decisions
// are taken. Only a length deficit in the attribute stream is an error.
func (e *Engine) HandleDump(m LinkMessage) error {
	e.metrics.messages.WithLabelValues(phaseDump).Inc()

	if m.Kind != unix.RTM_NEWLINK {
		e.metrics.skipped.WithLabelValues(reasonIgnored).Inc()
		return nil
	}
	if m.AttrLen < 0 {
		log.WithField("len", m.AttrLen).Error("Short link message in dump")
		e.metrics.skipped.WithLabelValues(reasonMalformed).Inc()
		return nil
	}

	attrs, err := rtattr.Decode(m.Attrs, m.AttrLen, iflaMax)
	if err != nil {
		return fmt.Errorf("dump message for index %d: %w", m.Index, err)
	}
	name, ok := attrs.String(unix.IFLA_IFNAME)
	if !ok {
		e.metrics.skipped.WithLabelValues(reasonNoName).Inc()
		return nil
	}

	e.store(m, attrs, name)
	log.WithFields(log.Fields{
		"interface": name,
		"index":     m.Index,
		"flags":     fmt.Sprintf("0x%08x", m.Flags),
	}).Debug("Recorded interface")
	return nil
}

// HandleLive processes one notification from the live stream.
func (e *Engine) HandleLive(m LinkMessage) error {
	e.metrics.messages.WithLabelValues(phaseLive).Inc()

	if !m.isLink() {
		e.metrics.skipped.WithLabelValues(reasonIgnored).Inc()
		return nil
	}
	if m.Flags&unix.IFF_LOOPBACK != 0 {
		e.metrics.skipped.WithLabelValues(reasonLoopback).Inc()
		return nil
	}
	if m.AttrLen < 0 {
		log.WithFields(log.Fields{
			"kind": kindName(m.Kind),
			"len":  m.AttrLen,
		}).Error("Short link message")
		e.metrics.skipped.WithLabelValues(reasonMalformed).Inc()
		return nil
	}

	attrs, err := rtattr.Decode(m.Attrs, m.AttrLen, iflaMax)
	if err != nil {
		return fmt.Errorf("%s message for index %d: %w", kindName(m.Kind), m.Index, err)
	}
	name, ok := attrs.String(unix.IFLA_IFNAME)
	if !ok {
		return fmt.Errorf("%s message for index %d: %w", kindName(m.Kind), m.Index, ErrNoInterfaceName)
	}

	logger := log.WithFields(log.Fields{
		"interface": name,
		"index":     m.Index,
	})

	if !e.filter.Matches(name) {
		logger.Trace("Interface does not match any pattern")
		e.metrics.skipped.WithLabelValues(reasonFiltered).Inc()
		e.store(m, attrs, name)
		return nil
	}

	i, ok := e.registry.Get(m.Index)
	if !ok {
		if !e.trackNew {
			logger.Warn("No record for interface, ignoring until it is known")
			e.metrics.skipped.WithLabelValues(reasonUnknown).Inc()
			return nil
		}
		logger.Info("Recording baseline for new interface")
		e.store(m, attrs, name)
		return nil
	}

	if i.Name != "" && !i.NameTruncated && i.Name != name {
		logger.WithField("previous", i.Name).Warn("Interface index now carries a different name")
	}

	if i.Flags != m.Flags {
		e.transition(logger, m.Index, name, i.Flags, m.Flags)
	}

	e.store(m, attrs, name)
	return nil
}

func (e *Engine) transition(logger *log.Entry, index int32, name string, old, cur uint32) {
	logger.Infof("%s: flags 0x%08x -> 0x%08x", name, old, cur)

	set := func(flag uint32) bool { return old&flag == 0 && cur&flag != 0 }
	unset := func(flag uint32) bool { return old&flag != 0 && cur&flag == 0 }

	ev := LinkEvent{InterfaceName: name, Index: index, OldFlags: old, NewFlags: cur}

	if set(unix.IFF_RUNNING) {
		e.hooks.Invoke(name, string(LinkIn))
		ev.Type = LinkIn
		e.emit(ev)
	}
	if unset(unix.IFF_RUNNING) {
		e.hooks.Invoke(name, string(LinkOut))
		ev.Type = LinkOut
		e.emit(ev)
	}
	if unset(unix.IFF_UP) {
		ev.Type = LinkReprobe
		if err := e.reprober.Probe(name); err != nil {
			logger.WithError(err).Warnf("Could not bring %s back up", name)
			e.metrics.reprobeFailures.Inc()
			ev.Error = err.Error()
		}
		e.emit(ev)
	}
}

func (e *Engine) emit(ev LinkEvent) {
	e.metrics.decisions.WithLabelValues(string(ev.Type)).Inc()
	if e.onEvent != nil {
		e.onEvent(ev)
	}
}

func (e *Engine) store(m LinkMessage, attrs rtattr.Table, name string) {
	var hwAddr []byte
	if a, ok := attrs.Get(unix.IFLA_ADDRESS); ok {
		hwAddr = a.Payload
	}

	i := e.registry.GetOrCreate(m.Index)
	e.registry.Update(i, m.Type, m.Flags, hwAddr, name)
	if i.NameTruncated {
		log.WithFields(log.Fields{
			"interface": name,
			"index":     m.Index,
			"stored":    i.Name,
		}).Warnf("Interface name longer than %d bytes truncated", ifinfo.MaxNameLen)
	}
	e.metrics.interfaces.Set(float64(e.registry.Len()))
}
