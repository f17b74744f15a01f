package soho

// Channel is one discrete energy bin of a particle spectrum.
type Channel struct {
	Index int     // channel index within its table
	Lower float64 // lower energy bound
	Upper float64 // upper energy bound
	Width float64 // half-width (energy delta) as recorded by the instrument
	Mean  float64 // nominal channel energy
	Label string  // display string from the source file, e.g. "13  - 16  MeV"
}

// ChannelTable maps contiguous integer channel indices to their energy bins
// for one species on one sensor head. Indices start at the table's first
// channel and bounds increase monotonically with index.
type ChannelTable struct {
	Species  string // "p" or "He"
	Sensor   string // "HED", "LED", ...
	Unit     string // energy unit for labels, e.g. "MeV"
	Channels []Channel
}

// Channel returns the channel with the given index.
func (t *ChannelTable) Channel(idx int) (Channel, bool) {
	for _, c := range t.Channels {
		if c.Index == idx {
			return c, true
		}
	}
	return Channel{}, false
}

// Metadata describes the instrument channels behind a normalized table.
// Channel tables are keyed by semantic name ("channels_dict_df_p"); for
// merged multi-head datasets the key carries a head qualifier
// ("channels_dict_df_p_HED") so channel indices never collide across heads.
type Metadata struct {
	Units    map[string]string        // column prefix -> measurement unit
	Labels   map[string]string        // column or channel name -> display label
	Fills    map[string]float64       // column prefix -> source fill sentinel
	Channels map[string]*ChannelTable // semantic table name -> channel table
}

func newMetadata() Metadata {
	return Metadata{
		Units:    make(map[string]string),
		Labels:   make(map[string]string),
		Fills:    make(map[string]float64),
		Channels: make(map[string]*ChannelTable),
	}
}

// IsEmpty reports whether the metadata carries no information, the uniform
// "no data available" signal.
func (m Metadata) IsEmpty() bool {
	return len(m.Units) == 0 && len(m.Labels) == 0 && len(m.Fills) == 0 && len(m.Channels) == 0
}

// mergeFrom copies other into m, qualifying channel-table keys with the
// given head suffix.
func (m Metadata) mergeFrom(other Metadata, head string) {
	for k, v := range other.Units {
		m.Units[k] = v
	}
	for k, v := range other.Labels {
		m.Labels[k] = v
	}
	for k, v := range other.Fills {
		m.Fills[k] = v
	}
	for k, v := range other.Channels {
		key := k
		if head != "" {
			key = k + "_" + head
		}
		m.Channels[key] = v
	}
}
