package device

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/nr-ran-simulator/core"
	"github.com/signalsfoundry/nr-ran-simulator/internal/phy"
)

var (
	// ErrNoCarrierManager is returned, wrapped in a core.ConfigError, when
	// feedback is routed through a device that has no BwpManager.
	ErrNoCarrierManager = errors.New("device has no carrier manager")
	ErrUnknownCarrier   = errors.New("no carrier matches feedback")
)

// HarqFeedback is DL or UL HARQ feedback in a direction-neutral form.
type HarqFeedback struct {
	Downlink      bool
	Rnti          uint16
	HarqProcessID uint8
	NumRetx       uint8
	CellID        uint16
	CarrierID     uint8
	Status        phy.HarqStatus
}

// FromDl converts DL HARQ feedback.
func FromDl(info phy.DlHarqInfo) HarqFeedback {
	return HarqFeedback{
		Downlink:      true,
		Rnti:          info.Rnti,
		HarqProcessID: info.HarqProcessID,
		NumRetx:       info.NumRetx,
		CellID:        info.CellID,
		CarrierID:     info.CarrierID,
		Status:        info.Status,
	}
}

// FromUl converts UL HARQ feedback.
func FromUl(info phy.UlHarqInfo) HarqFeedback {
	return HarqFeedback{
		Rnti:          info.Rnti,
		HarqProcessID: info.HarqProcessID,
		NumRetx:       info.NumRetx,
		CellID:        info.CellID,
		CarrierID:     info.CarrierID,
		Status:        info.Status,
	}
}

func (fb HarqFeedback) dl() phy.DlHarqInfo {
	return phy.DlHarqInfo{Rnti: fb.Rnti, HarqProcessID: fb.HarqProcessID, NumRetx: fb.NumRetx,
		CellID: fb.CellID, CarrierID: fb.CarrierID, Status: fb.Status}
}

func (fb HarqFeedback) ul() phy.UlHarqInfo {
	return phy.UlHarqInfo{Rnti: fb.Rnti, HarqProcessID: fb.HarqProcessID, NumRetx: fb.NumRetx,
		CellID: fb.CellID, CarrierID: fb.CarrierID, Status: fb.Status}
}

// MultiCarrierDevice is a device whose carriers are managed by a
// BwpManager.
type MultiCarrierDevice interface {
	CarrierManager() *BwpManager
}

// RouteFeedback selects the carrier fb belongs to and forwards it to that
// carrier's PHY. Feedback the device produced itself is queued for the
// peer; feedback received from the peer drives the HARQ entity.
func RouteFeedback(dev MultiCarrierDevice, fb HarqFeedback) (int, error) {
	if dev == nil || dev.CarrierManager() == nil {
		return -1, core.NewConfigError("RouteFeedback", ErrNoCarrierManager)
	}
	m := dev.CarrierManager()
	idx, err := m.CarrierIndex(fb.CarrierID, fb.CellID)
	if err != nil {
		return -1, err
	}

	p := m.CarrierAt(idx).Phy()
	gnb := p.isGnb()
	switch {
	case fb.Downlink && !gnb:
		p.EnqueueDlHarqFeedback(fb.dl())
	case !fb.Downlink && gnb:
		p.EnqueueUlHarqFeedback(fb.ul())
	default:
		p.handleFeedback(fb.Rnti, fb.HarqProcessID, fb.Status)
	}
	return idx, nil
}

func (fb HarqFeedback) String() string {
	dir := "UL"
	if fb.Downlink {
		dir = "DL"
	}
	return fmt.Sprintf("%s rnti=%d proc=%d cc=%d %s", dir, fb.Rnti, fb.HarqProcessID, fb.CarrierID, fb.Status)
}
