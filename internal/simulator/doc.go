// Package simulator generates synthetic sensor readings.
//
// A sensor kind is data, not a type: a Spec names the field, unit, device
// ID prefix, and inclusive value range. Temperature, Humidity and CO2 are
// the built-in specs; config can declare others.
package simulator
