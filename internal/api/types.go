package api

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/dmdmdm-nz/netplugd/internal/ifinfo"
)

// InterfaceStatus is the /interfaces view of a registry record.
type InterfaceStatus struct {
	Index         int32  `json:"index"`
	Name          string `json:"name"`
	Type          uint16 `json:"type"`
	Flags         string `json:"flags"`
	Up            bool   `json:"up"`
	Running       bool   `json:"running"`
	HWAddr        string `json:"hwAddr,omitempty"`
	NameTruncated bool   `json:"nameTruncated,omitempty"`
}

func newInterfaceStatus(i ifinfo.Interface) InterfaceStatus {
	st := InterfaceStatus{
		Index:         i.Index,
		Name:          i.Name,
		Type:          i.Type,
		Flags:         fmt.Sprintf("0x%08x", i.Flags),
		Up:            i.Flags&unix.IFF_UP != 0,
		Running:       i.Flags&unix.IFF_RUNNING != 0,
		NameTruncated: i.NameTruncated,
	}
	if len(i.HWAddr) > 0 {
		st.HWAddr = i.HWAddr.String()
	}
	return st
}
