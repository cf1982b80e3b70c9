package netmon

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/dmdmdm-nz/netplugd/internal/filter"
	"github.com/dmdmdm-nz/netplugd/internal/ifinfo"
	"github.com/dmdmdm-nz/netplugd/internal/rtattr"
)

const (
	flagsUp      = uint32(unix.IFF_UP)
	flagsRunning = uint32(unix.IFF_UP | unix.IFF_RUNNING)
)

type hookCall struct {
	name string
	verb string
}

// fakeHooks records Invoke calls instead of running a script
type fakeHooks struct {
	mu    sync.Mutex
	calls []hookCall
}

func (f *fakeHooks) Invoke(name string, verb string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, hookCall{name: name, verb: verb})
}

func (f *fakeHooks) Calls() []hookCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]hookCall(nil), f.calls...)
}

type fakeReprober struct {
	calls []string
	err   error
}

func (f *fakeReprober) Probe(name string) error {
	f.calls = append(f.calls, name)
	return f.err
}

type testEngine struct {
	*Engine
	hooks    *fakeHooks
	reprober *fakeReprober
	events   []LinkEvent
}

func newTestEngine(t *testing.T, trackNew bool, patterns ...string) *testEngine {
	t.Helper()
	f, err := filter.New(patterns...)
	require.NoError(t, err)

	te := &testEngine{
		hooks:    &fakeHooks{},
		reprober: &fakeReprober{},
	}
	te.Engine = NewEngine(EngineConfig{
		Registry:           ifinfo.NewRegistry(),
		Filter:             f,
		Hooks:              te.hooks,
		Reprober:           te.reprober,
		Metrics:            NewMetrics(prometheus.NewRegistry()),
		OnEvent:            func(ev LinkEvent) { te.events = append(te.events, ev) },
		TrackNewInterfaces: trackNew,
	})
	return te
}

func linkMsg(kind uint16, index int32, flags uint32, name string, hwAddr []byte) LinkMessage {
	var attrs []byte
	if hwAddr != nil {
		attrs = rtattr.Append(attrs, unix.IFLA_ADDRESS, hwAddr)
	}
	if name != "" {
		attrs = rtattr.Append(attrs, unix.IFLA_IFNAME, append([]byte(name), 0))
	}
	return LinkMessage{
		Kind:    kind,
		Index:   index,
		Type:    unix.ARPHRD_ETHER,
		Flags:   flags,
		Attrs:   attrs,
		AttrLen: len(attrs),
	}
}

func newLink(index int32, flags uint32, name string) LinkMessage {
	return linkMsg(unix.RTM_NEWLINK, index, flags, name, []byte{0x02, 0, 0, 0, 0, byte(index)})
}

func TestEngine_ScenarioInThenOut(t *testing.T) {
	e := newTestEngine(t, false)

	require.NoError(t, e.HandleDump(newLink(3, flagsUp, "eth0")))
	assert.Empty(t, e.hooks.Calls())

	require.NoError(t, e.HandleLive(newLink(3, flagsRunning, "eth0")))
	assert.Equal(t, []hookCall{{"eth0", "in"}}, e.hooks.Calls())
	assert.Empty(t, e.reprober.calls)

	i, ok := e.Registry().Get(3)
	require.True(t, ok)
	assert.Equal(t, flagsRunning, i.Flags)

	require.NoError(t, e.HandleLive(newLink(3, 0, "eth0")))
	assert.Equal(t, []hookCall{{"eth0", "in"}, {"eth0", "out"}}, e.hooks.Calls())
	assert.Equal(t, []string{"eth0"}, e.reprober.calls)
	assert.Equal(t, uint32(0), i.Flags)

	require.Len(t, e.events, 3)
	assert.Equal(t, LinkIn, e.events[0].Type)
	assert.Equal(t, LinkOut, e.events[1].Type)
	assert.Equal(t, LinkReprobe, e.events[2].Type)
	assert.Equal(t, flagsRunning, e.events[1].OldFlags)
	assert.Equal(t, uint32(0), e.events[1].NewFlags)
	assert.Empty(t, e.events[2].Error)
}

func TestEngine_DuplicateMessageIsNoop(t *testing.T) {
	e := newTestEngine(t, false)
	require.NoError(t, e.HandleDump(newLink(3, flagsUp, "eth0")))

	msg := newLink(3, flagsRunning, "eth0")
	require.NoError(t, e.HandleLive(msg))
	require.NoError(t, e.HandleLive(msg))
	require.NoError(t, e.HandleLive(msg))

	assert.Len(t, e.hooks.Calls(), 1)
	assert.Len(t, e.events, 1)
}

func TestEngine_RunningEdgeOnlyWhenBitChanges(t *testing.T) {
	e := newTestEngine(t, false)
	require.NoError(t, e.HandleDump(newLink(4, flagsRunning, "eth1")))

	// PROMISC toggles without touching UP or RUNNING.
	require.NoError(t, e.HandleLive(newLink(4, flagsRunning|unix.IFF_PROMISC, "eth1")))

	assert.Empty(t, e.hooks.Calls())
	assert.Empty(t, e.reprober.calls)
	assert.Empty(t, e.events)
	i, _ := e.Registry().Get(4)
	assert.Equal(t, flagsRunning|unix.IFF_PROMISC, i.Flags)
}

func TestEngine_UpDroppedWhileRunningStays(t *testing.T) {
	e := newTestEngine(t, false)
	require.NoError(t, e.HandleDump(newLink(5, flagsRunning, "eth2")))

	require.NoError(t, e.HandleLive(newLink(5, unix.IFF_RUNNING, "eth2")))

	assert.Empty(t, e.hooks.Calls())
	assert.Equal(t, []string{"eth2"}, e.reprober.calls)
}

func TestEngine_IndependentEdgesFireInOrder(t *testing.T) {
	e := newTestEngine(t, false)
	require.NoError(t, e.HandleDump(newLink(6, flagsUp, "eth3")))

	// UP cleared and RUNNING set in one message.
	require.NoError(t, e.HandleLive(newLink(6, unix.IFF_RUNNING, "eth3")))

	assert.Equal(t, []hookCall{{"eth3", "in"}}, e.hooks.Calls())
	assert.Equal(t, []string{"eth3"}, e.reprober.calls)
	require.Len(t, e.events, 2)
	assert.Equal(t, LinkIn, e.events[0].Type)
	assert.Equal(t, LinkReprobe, e.events[1].Type)
}

func TestEngine_FilterMissStillRefreshesState(t *testing.T) {
	e := newTestEngine(t, false, "eth*")

	require.NoError(t, e.HandleDump(newLink(3, flagsUp, "eth0")))
	require.NoError(t, e.HandleDump(newLink(4, flagsUp, "wlan0")))

	require.NoError(t, e.HandleLive(newLink(4, flagsRunning, "wlan0")))
	require.NoError(t, e.HandleLive(newLink(4, 0, "wlan0")))
	require.NoError(t, e.HandleLive(newLink(3, flagsRunning, "eth0")))

	assert.Equal(t, []hookCall{{"eth0", "in"}}, e.hooks.Calls())
	assert.Empty(t, e.reprober.calls)

	wlan, ok := e.Registry().Get(4)
	require.True(t, ok)
	assert.Equal(t, uint32(0), wlan.Flags)
	assert.Equal(t, "wlan0", wlan.Name)
}

func TestEngine_FilterMissCreatesRecord(t *testing.T) {
	e := newTestEngine(t, false, "eth*")

	require.NoError(t, e.HandleLive(newLink(8, flagsRunning, "wlan1")))

	i, ok := e.Registry().Get(8)
	require.True(t, ok)
	assert.Equal(t, flagsRunning, i.Flags)
	assert.Empty(t, e.hooks.Calls())
}

func TestEngine_UnknownInterfaceIsDroppedWithoutBaseline(t *testing.T) {
	e := newTestEngine(t, false)

	require.NoError(t, e.HandleLive(newLink(9, flagsRunning, "usb0")))

	_, ok := e.Registry().Get(9)
	assert.False(t, ok)
	assert.Empty(t, e.hooks.Calls())

	// Still unknown on the next sighting, so still no decision.
	require.NoError(t, e.HandleLive(newLink(9, 0, "usb0")))
	assert.Empty(t, e.hooks.Calls())
	assert.Empty(t, e.reprober.calls)
	assert.Equal(t, float64(2), testutil.ToFloat64(e.metrics.skipped.WithLabelValues(reasonUnknown)))
}

func TestEngine_TrackNewInterfacesRecordsBaseline(t *testing.T) {
	e := newTestEngine(t, true)

	require.NoError(t, e.HandleLive(newLink(9, flagsUp, "usb0")))
	assert.Empty(t, e.hooks.Calls())

	i, ok := e.Registry().Get(9)
	require.True(t, ok)
	assert.Equal(t, flagsUp, i.Flags)

	require.NoError(t, e.HandleLive(newLink(9, flagsRunning, "usb0")))
	assert.Equal(t, []hookCall{{"usb0", "in"}}, e.hooks.Calls())
	assert.Equal(t, float64(0), testutil.ToFloat64(e.metrics.skipped.WithLabelValues(reasonUnknown)))
}

func TestEngine_AttributesAboveMaxAreDropped(t *testing.T) {
	e := newTestEngine(t, false)

	m := newLink(3, flagsUp, "eth0")
	m.Attrs = rtattr.Append(m.Attrs, iflaMax+1, []byte{1, 2, 3, 4, 5})
	m.AttrLen = len(m.Attrs)
	require.NoError(t, e.HandleDump(m))

	live := newLink(3, flagsRunning, "eth0")
	live.Attrs = rtattr.Append(live.Attrs, iflaMax+7, []byte{0xff})
	live.AttrLen = len(live.Attrs)
	require.NoError(t, e.HandleLive(live))

	i, ok := e.Registry().Get(3)
	require.True(t, ok)
	assert.Equal(t, "eth0", i.Name)
	assert.Equal(t, []hookCall{{"eth0", "in"}}, e.hooks.Calls())
}

func TestEngine_LiveMessageWithoutNameIsFatal(t *testing.T) {
	e := newTestEngine(t, false)
	require.NoError(t, e.HandleDump(newLink(3, flagsUp, "eth0")))

	err := e.HandleLive(linkMsg(unix.RTM_NEWLINK, 3, flagsRunning, "", []byte{1, 2, 3, 4, 5, 6}))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoInterfaceName)
	assert.Empty(t, e.hooks.Calls())
}

func TestEngine_LengthDeficitIsFatal(t *testing.T) {
	e := newTestEngine(t, false)

	msg := newLink(3, flagsUp, "eth0")
	msg.AttrLen += 2

	var lerr *rtattr.LengthError
	err := e.HandleLive(msg)
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, 2, lerr.Remaining)

	err = e.HandleDump(msg)
	require.ErrorAs(t, err, &lerr)
}

func TestEngine_ShortMessageIsSkipped(t *testing.T) {
	e := newTestEngine(t, false)

	err := e.HandleLive(LinkMessage{Kind: unix.RTM_NEWLINK, AttrLen: -4})
	require.NoError(t, err)
	assert.Equal(t, 0, e.Registry().Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.skipped.WithLabelValues(reasonMalformed)))

	require.NoError(t, e.HandleDump(LinkMessage{Kind: unix.RTM_NEWLINK, AttrLen: -4}))
	assert.Equal(t, 0, e.Registry().Len())
}

func TestEngine_LoopbackIgnored(t *testing.T) {
	e := newTestEngine(t, false)
	require.NoError(t, e.HandleDump(newLink(1, unix.IFF_LOOPBACK|flagsRunning, "lo")))

	// A nameless loopback message is ignored before the name check.
	err := e.HandleLive(linkMsg(unix.RTM_NEWLINK, 1, unix.IFF_LOOPBACK, "", nil))
	require.NoError(t, err)

	i, ok := e.Registry().Get(1)
	require.True(t, ok)
	assert.Equal(t, uint32(unix.IFF_LOOPBACK)|flagsRunning, i.Flags)
	assert.Empty(t, e.hooks.Calls())
	assert.Empty(t, e.reprober.calls)
}

func TestEngine_OtherMessageKindsIgnored(t *testing.T) {
	e := newTestEngine(t, false)

	require.NoError(t, e.HandleLive(linkMsg(unix.RTM_NEWADDR, 3, flagsRunning, "", nil)))
	assert.Equal(t, 0, e.Registry().Len())
}

func TestEngine_DelLinkEvaluatesTransitions(t *testing.T) {
	e := newTestEngine(t, false)
	require.NoError(t, e.HandleDump(newLink(3, flagsRunning, "eth0")))

	require.NoError(t, e.HandleLive(linkMsg(unix.RTM_DELLINK, 3, 0, "eth0", nil)))

	assert.Equal(t, []hookCall{{"eth0", "out"}}, e.hooks.Calls())
	assert.Equal(t, []string{"eth0"}, e.reprober.calls)

	// Records outlive the interface.
	i, ok := e.Registry().Get(3)
	require.True(t, ok)
	assert.Nil(t, i.HWAddr)
}

func TestEngine_ReprobeFailureIsNotFatal(t *testing.T) {
	e := newTestEngine(t, false)
	e.reprober.err = errors.New("no such device")
	require.NoError(t, e.HandleDump(newLink(3, flagsRunning, "eth0")))

	require.NoError(t, e.HandleLive(newLink(3, 0, "eth0")))

	require.Len(t, e.events, 2)
	assert.Equal(t, LinkReprobe, e.events[1].Type)
	assert.Equal(t, "no such device", e.events[1].Error)
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.reprobeFailures))
}

func TestEngine_DumpHandling(t *testing.T) {
	e := newTestEngine(t, false, "eth*")

	// Dump records every named interface regardless of the filter.
	require.NoError(t, e.HandleDump(newLink(2, flagsUp, "wlan0")))
	// Nameless and non-NEWLINK messages are skipped.
	require.NoError(t, e.HandleDump(linkMsg(unix.RTM_NEWLINK, 3, flagsUp, "", nil)))
	require.NoError(t, e.HandleDump(linkMsg(unix.RTM_DELLINK, 4, flagsUp, "eth4", nil)))

	assert.Equal(t, 1, e.Registry().Len())
	_, ok := e.Registry().Get(2)
	assert.True(t, ok)
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.interfaces))
	assert.Equal(t, float64(3), testutil.ToFloat64(e.metrics.messages.WithLabelValues(phaseDump)))
}

func TestEngine_DumpOverwritesExistingRecord(t *testing.T) {
	e := newTestEngine(t, false)

	require.NoError(t, e.HandleDump(newLink(3, flagsUp, "eth0")))
	require.NoError(t, e.HandleDump(newLink(3, flagsRunning, "eth0")))

	i, _ := e.Registry().Get(3)
	assert.Equal(t, flagsRunning, i.Flags)
	assert.Empty(t, e.hooks.Calls())
}

func TestEngine_LongHardwareAddressTruncated(t *testing.T) {
	e := newTestEngine(t, false)
	long := bytes.Repeat([]byte{0xee}, ifinfo.MaxAddrLen+12)

	require.NotPanics(t, func() {
		require.NoError(t, e.HandleDump(linkMsg(unix.RTM_NEWLINK, 12, flagsUp, "ib0", long)))
	})

	i, ok := e.Registry().Get(12)
	require.True(t, ok)
	assert.Len(t, i.HWAddr, ifinfo.MaxAddrLen)
	assert.Equal(t, ifinfo.MaxAddrLen+12, i.HWAddrLen)
}

func TestEngine_LongNameTruncatedAndFlagged(t *testing.T) {
	e := newTestEngine(t, false)

	require.NoError(t, e.HandleDump(newLink(13, flagsUp, "enp0s31f6verylong")))

	i, ok := e.Registry().Get(13)
	require.True(t, ok)
	assert.Equal(t, "enp0s31f6verylo", i.Name)
	assert.True(t, i.NameTruncated)
}

func TestEngine_HooksUseFullName(t *testing.T) {
	e := newTestEngine(t, false)
	require.NoError(t, e.HandleDump(newLink(13, flagsUp, "enp0s31f6verylong")))

	require.NoError(t, e.HandleLive(newLink(13, flagsRunning, "enp0s31f6verylong")))

	assert.Equal(t, []hookCall{{"enp0s31f6verylong", "in"}}, e.hooks.Calls())
}

func TestEngine_DecisionMetrics(t *testing.T) {
	e := newTestEngine(t, false)
	require.NoError(t, e.HandleDump(newLink(3, flagsUp, "eth0")))
	require.NoError(t, e.HandleLive(newLink(3, flagsRunning, "eth0")))
	require.NoError(t, e.HandleLive(newLink(3, 0, "eth0")))

	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.decisions.WithLabelValues("in")))
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.decisions.WithLabelValues("out")))
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.decisions.WithLabelValues("reprobe")))
	assert.Equal(t, float64(2), testutil.ToFloat64(e.metrics.messages.WithLabelValues(phaseLive)))
}

func TestEngine_NilCollaborators(t *testing.T) {
	e := NewEngine(EngineConfig{})
	require.NoError(t, e.HandleDump(newLink(3, flagsRunning, "eth0")))

	require.NotPanics(t, func() {
		require.NoError(t, e.HandleLive(newLink(3, 0, "eth0")))
	})
}
