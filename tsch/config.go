package tsch

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

/*------------------------------------------------------------------
 *
 * Purpose:	YAML-loadable node configuration.
 *
 * Description:	Bundles the timing constants of spec.md §6 and a static
 *		slotframe/cell table so a node can be provisioned from a
 *		file rather than hardcoded Go literals, in the spirit of
 *		the teacher's tocalls.yaml-driven deviceid.go. This is
 *		static provisioning, not the dynamic schedule negotiation
 *		spec.md §1 excludes as a non-goal.
 *
 *------------------------------------------------------------------*/

// TimingYAML mirrors Timing with yaml tags; all timing values are Ticks,
// and BitsPerSecond is in bits per second.
type TimingYAML struct {
	TsCCAOffset    Tick   `yaml:"ts_cca_offset"`
	TsCCA          Tick   `yaml:"ts_cca"`
	TsTxOffset     Tick   `yaml:"ts_tx_offset"`
	TsRxOffset     Tick   `yaml:"ts_rx_offset"`
	TsTxAckDelay   Tick   `yaml:"ts_tx_ack_delay"`
	TsShortGT      Tick   `yaml:"ts_short_gt"`
	TsLongGT       Tick   `yaml:"ts_long_gt"`
	TsSlotDuration Tick   `yaml:"ts_slot_duration"`
	DelayTx        Tick   `yaml:"delay_tx"`
	DelayRx        Tick   `yaml:"delay_rx"`
	WdDataDuration Tick   `yaml:"wd_data_duration"`
	WdAckDuration  Tick   `yaml:"wd_ack_duration"`
	BitsPerSecond  uint32 `yaml:"bits_per_second"`
}

// ToTiming converts the YAML-loaded values into a Timing.
func (t TimingYAML) ToTiming() Timing {
	return Timing(t)
}

// CellYAML is one slotframe cell as read from the config file.
type CellYAML struct {
	SlotOffset    uint16 `yaml:"slot_offset"`
	ChannelOffset uint16 `yaml:"channel_offset"`
	TX            bool   `yaml:"tx"`
	RX            bool   `yaml:"rx"`
	Shared        bool   `yaml:"shared"`
	TimeKeeping   bool   `yaml:"time_keeping"`
	Advertising   bool   `yaml:"advertising"`
	Peer          string `yaml:"peer"` // hex-encoded Addr, "" = broadcast
}

// SlotframeYAML is the static slotframe/cell table for a node.
type SlotframeYAML struct {
	Handle uint16     `yaml:"handle"`
	Length uint16     `yaml:"length"`
	Cells  []CellYAML `yaml:"cells"`
}

// NodeConfig is the full YAML-loadable node configuration.
type NodeConfig struct {
	Self      string        `yaml:"self"` // hex-encoded Addr
	LogLevel  string        `yaml:"log_level"`
	Timing    TimingYAML    `yaml:"timing"`
	Slotframe SlotframeYAML `yaml:"slotframe"`
}

// LoadNodeConfig reads and parses a YAML node config file.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tsch: reading config %s: %w", path, err)
	}
	var cfg NodeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("tsch: parsing config %s: %w", path, err)
	}
	return &cfg, nil
}

// ParseAddr decodes a "xx:xx:xx:xx:xx:xx:xx:xx" or 16-hex-digit string
// into an Addr. An empty string yields NullAddr (broadcast).
func ParseAddr(s string) (Addr, error) {
	var a Addr
	if s == "" {
		return a, nil
	}
	format := "%02x:%02x:%02x:%02x:%02x:%02x:%02x:%02x"
	if len(s) == 16 {
		format = "%02x%02x%02x%02x%02x%02x%02x%02x"
	}
	n, err := fmt.Sscanf(s, format,
		&a[0], &a[1], &a[2], &a[3], &a[4], &a[5], &a[6], &a[7])
	if err != nil || n != 8 {
		return a, fmt.Errorf("tsch: invalid address %q", s)
	}
	return a, nil
}

// BuildSlotframe converts the YAML slotframe table into a runtime
// Slotframe, per the cell model of spec.md §3.
func (c *NodeConfig) BuildSlotframe() (*Slotframe, error) {
	sf := &Slotframe{
		Handle: c.Slotframe.Handle,
		Length: c.Slotframe.Length,
		OnSize: uint16(len(c.Slotframe.Cells)),
	}
	sf.Cells = make([]*Cell, len(c.Slotframe.Cells))
	for i, cy := range c.Slotframe.Cells {
		peer, err := ParseAddr(cy.Peer)
		if err != nil {
			return nil, err
		}
		var opts CellOptions
		if cy.TX {
			opts |= CellTX
		}
		if cy.RX {
			opts |= CellRX
		}
		if cy.Shared {
			opts |= CellShared
		}
		if cy.TimeKeeping {
			opts |= CellTimeKeeping
		}
		typ := CellNormal
		if cy.Advertising {
			typ = CellAdvertising
		}
		sf.Cells[i] = &Cell{
			SlotOffset:    cy.SlotOffset,
			ChannelOffset: cy.ChannelOffset,
			Options:       opts,
			Type:          typ,
			Peer:          peer,
		}
	}
	return sf, nil
}
