// Package discovery finds and advertises TSCH nodes on the local
// network and host, for cmd/tsch-node's -discover and -advertise
// flags.
package discovery

import (
	"context"
	"fmt"

	"github.com/brutella/dnssd"
	"github.com/jochenvg/go-udev"
)

/*------------------------------------------------------------------
 *
 * Purpose:	Serial device enumeration and mDNS service advertisement,
 *		split out of the core tsch/MAC package since neither is
 *		part of the MAC layer itself (spec.md §1's Non-goals).
 *
 * Description:	SerialCandidates lists /dev/tty* nodes a SerialKISS
 *		backend might plausibly be pointed at, grounded on the
 *		teacher's cm108.go libudev enumeration (reimplemented here
 *		against the pure-Go github.com/jochenvg/go-udev binding
 *		rather than cgo libudev.h). Advertise announces a running
 *		node over mDNS/DNS-SD exactly as dns_sd.go does for its
 *		KISS-over-TCP service, generalized from a fixed
 *		"_kiss-tnc._tcp" type to a caller-supplied service type so
 *		it can equally advertise a TSCH control/telemetry port.
 *
 *------------------------------------------------------------------*/

// SerialCandidate is one tty device discovered on the host.
type SerialCandidate struct {
	DevNode string
	Vendor  string
	Model   string
}

// SerialCandidates enumerates tty devices via udev, for a user
// selecting which one to hand to radio.OpenSerialKISS.
func SerialCandidates() ([]SerialCandidate, error) {
	u := udev.Udev{}
	e := u.NewEnumerate()
	if err := e.AddMatchSubsystem("tty"); err != nil {
		return nil, fmt.Errorf("discovery: udev match tty: %w", err)
	}

	devices, err := e.Devices()
	if err != nil {
		return nil, fmt.Errorf("discovery: udev enumerate: %w", err)
	}

	var out []SerialCandidate
	for _, d := range devices {
		node := d.Devnode()
		if node == "" {
			continue
		}
		out = append(out, SerialCandidate{
			DevNode: node,
			Vendor:  d.PropertyValue("ID_VENDOR"),
			Model:   d.PropertyValue("ID_MODEL"),
		})
	}
	return out, nil
}

// Advertisement is a running mDNS/DNS-SD announcement; call Stop to
// withdraw it.
type Advertisement struct {
	cancel context.CancelFunc
	done   chan error
}

// Advertise announces a TSCH node's control service over mDNS/DNS-SD
// under serviceType (e.g. "_tsch-ctl._tcp") on port.
func Advertise(name, serviceType string, port int) (*Advertisement, error) {
	cfg := dnssd.Config{
		Name: name,
		Type: serviceType,
		Port: port,
	}

	sv, err := dnssd.NewService(cfg)
	if err != nil {
		return nil, fmt.Errorf("discovery: new service: %w", err)
	}

	rp, err := dnssd.NewResponder()
	if err != nil {
		return nil, fmt.Errorf("discovery: new responder: %w", err)
	}

	if _, err := rp.Add(sv); err != nil {
		return nil, fmt.Errorf("discovery: add service: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- rp.Respond(ctx)
	}()

	return &Advertisement{cancel: cancel, done: done}, nil
}

// Stop withdraws the advertisement and waits for the responder to
// finish.
func (a *Advertisement) Stop() error {
	a.cancel()
	return <-a.done
}
