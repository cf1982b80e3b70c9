// Package probe brings interfaces administratively up so the kernel starts
// reporting their carrier.
package probe

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/dmdmdm-nz/netplugd/internal/filter"
)

// Prober brings a single interface up.
type Prober interface {
	Probe(name string) error
}

// LinkProber sets IFF_UP directly over rtnetlink instead of going through
// the hook script.
type LinkProber struct {
	handle *netlink.Handle
}

// NewLinkProber uses the package-level netlink handle when h is nil.
func NewLinkProber(h *netlink.Handle) *LinkProber {
	return &LinkProber{handle: h}
}

func (p *LinkProber) Probe(name string) error {
	link, err := p.linkByName(name)
	if err != nil {
		return fmt.Errorf("probe %s: %w", name, err)
	}
	if link.Attrs().RawFlags&unix.IFF_UP != 0 {
		return nil
	}
	if err := p.linkSetUp(link); err != nil {
		return fmt.Errorf("probe %s: %w", name, err)
	}
	return nil
}

func (p *LinkProber) linkByName(name string) (netlink.Link, error) {
	if p.handle != nil {
		return p.handle.LinkByName(name)
	}
	return netlink.LinkByName(name)
}

func (p *LinkProber) linkSetUp(link netlink.Link) error {
	if p.handle != nil {
		return p.handle.LinkSetUp(link)
	}
	return netlink.LinkSetUp(link)
}

// All probes every non-loopback interface whose name passes f. Failures are
// logged and counted; the returned count is the number of interfaces probed.
func All(f *filter.NameFilter, p Prober) (int, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return 0, fmt.Errorf("list links: %w", err)
	}
	return probeLinks(links, f, p), nil
}

func probeLinks(links []netlink.Link, f *filter.NameFilter, p Prober) int {
	probed := 0
	for _, link := range links {
		attrs := link.Attrs()
		if attrs.RawFlags&unix.IFF_LOOPBACK != 0 {
			continue
		}
		if !f.Matches(attrs.Name) {
			continue
		}
		probed++
		if err := p.Probe(attrs.Name); err != nil {
			log.WithError(err).Warnf("Could not bring %s up", attrs.Name)
			continue
		}
		log.WithField("interface", attrs.Name).Debug("Probed interface")
	}
	return probed
}
