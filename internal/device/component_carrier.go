package device

import (
	"github.com/signalsfoundry/nr-ran-simulator/model"
)

// ComponentCarrier is one carrier of a device together with the PHY that
// serves its active bandwidth part.
type ComponentCarrier struct {
	id       uint8
	cellID   uint16
	bwp      model.BandwidthPartElement
	dlEarfcn uint32
	ulEarfcn uint32
	primary  bool
	phy      *CarrierPhy
}

// NewComponentCarrier binds a carrier id to its PHY.
func NewComponentCarrier(id uint8, cellID uint16, p *CarrierPhy) *ComponentCarrier {
	return &ComponentCarrier{id: id, cellID: cellID, bwp: p.Bwp(), phy: p}
}

func (cc *ComponentCarrier) ID() uint8                       { return cc.id }
func (cc *ComponentCarrier) CellID() uint16                  { return cc.cellID }
func (cc *ComponentCarrier) Bwp() model.BandwidthPartElement { return cc.bwp }
func (cc *ComponentCarrier) Phy() *CarrierPhy                { return cc.phy }
func (cc *ComponentCarrier) IsPrimary() bool                 { return cc.primary }
func (cc *ComponentCarrier) DlEarfcn() uint32                { return cc.dlEarfcn }
func (cc *ComponentCarrier) UlEarfcn() uint32                { return cc.ulEarfcn }

// SetAsPrimary marks the carrier as the primary cell of the device.
func (cc *ComponentCarrier) SetAsPrimary(primary bool) { cc.primary = primary }

// SetDlEarfcn records the downlink channel number.
func (cc *ComponentCarrier) SetDlEarfcn(earfcn uint32) { cc.dlEarfcn = earfcn }

// SetUlEarfcn records the uplink channel number.
func (cc *ComponentCarrier) SetUlEarfcn(earfcn uint32) { cc.ulEarfcn = earfcn }

func (cc *ComponentCarrier) setCellID(id uint16) {
	cc.cellID = id
	cc.phy.SetCellID(id)
}

// NrArfcn returns the NR absolute radio frequency channel number of f for
// the ranges below 24.25 GHz and up to 100 GHz.
func NrArfcn(frequencyHz float64) uint32 {
	switch {
	case frequencyHz < 3e9:
		return uint32(frequencyHz / 5e3)
	case frequencyHz < 24.25e9:
		return 600000 + uint32((frequencyHz-3e9)/15e3)
	default:
		return 2016667 + uint32((frequencyHz-24250.08e6)/60e3)
	}
}
