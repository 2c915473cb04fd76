package core

import "math"

// ThermalNoiseDBmPerHz is kT at 290 K.
const ThermalNoiseDBmPerHz = -174.0

// TransceiverModel describes the RF front end of a gNB or UE.
type TransceiverModel struct {
	Name       string
	TxPowerDBm float64
	// AntennaGainDBi is the ideal beamforming gain towards the peer.
	AntennaGainDBi float64
}

// TxPowerPerRbW spreads the transmit power evenly over numRbs resource
// blocks and returns the per-RB power in watts.
func (tm *TransceiverModel) TxPowerPerRbW(numRbs int) []float64 {
	if numRbs <= 0 {
		return nil
	}
	perRb := DbmToW(tm.TxPowerDBm) / float64(numRbs)
	psd := make([]float64, numRbs)
	for i := range psd {
		psd[i] = perRb
	}
	return psd
}

// NoisePowerPerRbW returns thermal noise plus noise figure over one RB.
func NoisePowerPerRbW(rbBandwidthHz, noiseFigureDB float64) float64 {
	return DbmToW(ThermalNoiseDBmPerHz + 10*math.Log10(rbBandwidthHz) + noiseFigureDB)
}

// DbToLinear converts a dB ratio to linear.
func DbToLinear(db float64) float64 { return math.Pow(10, db/10) }

// LinearToDb converts a linear ratio to dB. Non-positive input maps to -Inf.
func LinearToDb(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return 10 * math.Log10(v)
}

// DbmToW converts dBm to watts.
func DbmToW(dbm float64) float64 { return math.Pow(10, (dbm-30)/10) }

// WToDbm converts watts to dBm.
func WToDbm(w float64) float64 { return LinearToDb(w) + 30 }
