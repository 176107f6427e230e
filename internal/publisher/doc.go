// Package publisher drives simulated devices onto the bus.
//
// Each round generates one reading per registered device, in registration
// order, and publishes it to <prefix>/zone<id>/<field>. A failed send is
// logged and the round continues with the next device.
package publisher
