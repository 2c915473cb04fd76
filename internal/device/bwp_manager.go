package device

import (
	"fmt"
	"sort"

	"github.com/signalsfoundry/nr-ran-simulator/core"
)

// BwpManager owns the carriers of one device and maps HARQ feedback to the
// carrier it belongs to.
type BwpManager struct {
	carriers map[uint8]*ComponentCarrier
	order    []uint8
}

// NewBwpManager creates an empty manager.
func NewBwpManager() *BwpManager {
	return &BwpManager{carriers: make(map[uint8]*ComponentCarrier)}
}

// AddCarrier registers cc. Carrier ids must be unique per device.
func (m *BwpManager) AddCarrier(cc *ComponentCarrier) error {
	if _, dup := m.carriers[cc.ID()]; dup {
		return core.NewConfigError("AddCarrier", fmt.Errorf("carrier %d already registered", cc.ID()))
	}
	m.carriers[cc.ID()] = cc
	m.order = append(m.order, cc.ID())
	sort.Slice(m.order, func(i, j int) bool { return m.order[i] < m.order[j] })
	return nil
}

// Carriers returns the carriers ordered by id.
func (m *BwpManager) Carriers() []*ComponentCarrier {
	out := make([]*ComponentCarrier, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.carriers[id])
	}
	return out
}

// Carrier looks a carrier up by id.
func (m *BwpManager) Carrier(id uint8) (*ComponentCarrier, bool) {
	cc, ok := m.carriers[id]
	return cc, ok
}

// Primary returns the primary carrier, or the lowest id when none is
// marked.
func (m *BwpManager) Primary() (*ComponentCarrier, bool) {
	for _, id := range m.order {
		if m.carriers[id].IsPrimary() {
			return m.carriers[id], true
		}
	}
	if len(m.order) == 0 {
		return nil, false
	}
	return m.carriers[m.order[0]], true
}

// CarrierIndex selects the carrier for a feedback: the carrier id when it
// is configured, otherwise the only carrier of the feedback's cell.
func (m *BwpManager) CarrierIndex(carrierID uint8, cellID uint16) (int, error) {
	for i, id := range m.order {
		if id == carrierID {
			return i, nil
		}
	}
	match := -1
	for i, id := range m.order {
		if m.carriers[id].CellID() != cellID {
			continue
		}
		if match >= 0 {
			return -1, fmt.Errorf("%w: cell %d maps to more than one carrier", ErrUnknownCarrier, cellID)
		}
		match = i
	}
	if match < 0 {
		return -1, fmt.Errorf("%w: carrier %d, cell %d", ErrUnknownCarrier, carrierID, cellID)
	}
	return match, nil
}

// CarrierAt returns the carrier at index i in id order.
func (m *BwpManager) CarrierAt(i int) *ComponentCarrier {
	return m.carriers[m.order[i]]
}

// PhyOnCenterFrequency returns the PHY whose BWP is centred on hz.
func (m *BwpManager) PhyOnCenterFrequency(hz float64) (*CarrierPhy, bool) {
	for _, id := range m.order {
		cc := m.carriers[id]
		if cc.Bwp().CentralFrequency == hz {
			return cc.Phy(), true
		}
	}
	return nil, false
}

// ValidateAgainst checks that every carrier of the manager appears in the
// topology with the same active BWP.
func (m *BwpManager) ValidateAgainst(topo *core.Topology) error {
	bwps, err := topo.ActiveBwps()
	if err != nil {
		return err
	}
	known := make(map[uint8]bool, len(bwps))
	for _, b := range bwps {
		known[b.CarrierID] = true
	}
	for _, id := range m.order {
		if !known[id] {
			return core.NewConfigError("ValidateAgainst", fmt.Errorf("%w: carrier %d", core.ErrNotFound, id))
		}
	}
	return nil
}
