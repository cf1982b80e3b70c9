package netmon

import (
	"syscall"

	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"
)

// LinkMessage is an rtnetlink link message with its ifinfomsg header
// unpacked and the attribute stream left raw.
type LinkMessage struct {
	Kind  uint16 // RTM_NEWLINK, RTM_DELLINK, ...
	Index int32
	Type  uint16 // ARPHRD_*
	Flags uint32 // IFF_*
	Attrs []byte
	// AttrLen is the attribute length implied by the netlink header. It is
	// negative when the message is too short to hold an ifinfomsg.
	AttrLen int
}

// NewLinkMessage unpacks m. Short messages come back with a negative
// AttrLen and zeroed header fields.
func NewLinkMessage(m syscall.NetlinkMessage) LinkMessage {
	lm := LinkMessage{
		Kind:    m.Header.Type,
		AttrLen: int(m.Header.Len) - unix.NLMSG_HDRLEN - unix.SizeofIfInfomsg,
	}
	if len(m.Data) < unix.SizeofIfInfomsg {
		if lm.AttrLen >= 0 {
			lm.AttrLen = len(m.Data) - unix.SizeofIfInfomsg
		}
		return lm
	}

	info := nl.DeserializeIfInfomsg(m.Data)
	lm.Index = info.Index
	lm.Type = info.Type
	lm.Flags = info.Flags
	lm.Attrs = m.Data[unix.SizeofIfInfomsg:]
	return lm
}

func (m LinkMessage) isLink() bool {
	return m.Kind == unix.RTM_NEWLINK || m.Kind == unix.RTM_DELLINK
}

func kindName(kind uint16) string {
	switch kind {
	case unix.RTM_NEWLINK:
		return "newlink"
	case unix.RTM_DELLINK:
		return "dellink"
	default:
		return "other"
	}
}
