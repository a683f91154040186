package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownInstrument is returned for pairs missing from the instrument table
var ErrUnknownInstrument = errors.New("unknown instrument")

// InstrumentClass groups instruments that share trailing-stop floors
type InstrumentClass string

const (
	ClassMajor InstrumentClass = "major"
	ClassJPY   InstrumentClass = "jpy"
	ClassMetal InstrumentClass = "metal"
)

// Instrument holds the static trading properties of a pair
type Instrument struct {
	Name           string
	Base           string
	Quote          string
	Class          InstrumentClass
	PipSize        float64
	BarPips        float64 // range bar size in pips
	PipValuePerLot float64 // account currency per pip per standard lot
	TrailFloorPips float64 // minimum trailing distance
}

// BarSize returns the range bar size in price units
func (i Instrument) BarSize() float64 {
	return i.BarPips * i.PipSize
}

// Pips converts a price distance to pips
func (i Instrument) Pips(distance float64) float64 {
	return distance / i.PipSize
}

var instruments = map[string]Instrument{
	"EURUSD": {Name: "EURUSD", Base: "EUR", Quote: "USD", Class: ClassMajor, PipSize: 0.0001, BarPips: 10, PipValuePerLot: 10.0, TrailFloorPips: 15},
	"GBPUSD": {Name: "GBPUSD", Base: "GBP", Quote: "USD", Class: ClassMajor, PipSize: 0.0001, BarPips: 10, PipValuePerLot: 10.0, TrailFloorPips: 15},
	"AUDUSD": {Name: "AUDUSD", Base: "AUD", Quote: "USD", Class: ClassMajor, PipSize: 0.0001, BarPips: 10, PipValuePerLot: 10.0, TrailFloorPips: 15},
	"EURGBP": {Name: "EURGBP", Base: "EUR", Quote: "GBP", Class: ClassMajor, PipSize: 0.0001, BarPips: 10, PipValuePerLot: 10.0, TrailFloorPips: 15},
	"USDCHF": {Name: "USDCHF", Base: "USD", Quote: "CHF", Class: ClassMajor, PipSize: 0.0001, BarPips: 10, PipValuePerLot: 9.10, TrailFloorPips: 15},
	"USDJPY": {Name: "USDJPY", Base: "USD", Quote: "JPY", Class: ClassJPY, PipSize: 0.01, BarPips: 15, PipValuePerLot: 6.67, TrailFloorPips: 25},
	"AUDJPY": {Name: "AUDJPY", Base: "AUD", Quote: "JPY", Class: ClassJPY, PipSize: 0.01, BarPips: 15, PipValuePerLot: 6.67, TrailFloorPips: 25},
	"EURJPY": {Name: "EURJPY", Base: "EUR", Quote: "JPY", Class: ClassJPY, PipSize: 0.01, BarPips: 15, PipValuePerLot: 6.67, TrailFloorPips: 25},
	"GBPJPY": {Name: "GBPJPY", Base: "GBP", Quote: "JPY", Class: ClassJPY, PipSize: 0.01, BarPips: 15, PipValuePerLot: 6.67, TrailFloorPips: 25},
	"XAUUSD": {Name: "XAUUSD", Base: "XAU", Quote: "USD", Class: ClassMetal, PipSize: 0.01, BarPips: 50, PipValuePerLot: 10, TrailFloorPips: 150},
}

// GoldPair is gated behind a minimum equity
const GoldPair = "XAUUSD"

// BasketPairs are the pairs used for currency strength
var BasketPairs = []string{
	"EURUSD", "GBPUSD", "USDJPY", "AUDJPY", "USDCHF",
	"EURJPY", "GBPJPY", "EURGBP", "AUDUSD",
}

// Lookup returns the instrument definition for a pair name
func Lookup(name string) (Instrument, error) {
	inst, ok := instruments[strings.ToUpper(name)]
	if !ok {
		return Instrument{}, fmt.Errorf("%w: %s", ErrUnknownInstrument, name)
	}
	return inst, nil
}

// MustLookup is Lookup for static pair names known to exist
func MustLookup(name string) Instrument {
	inst, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return inst
}
