package compress

// Type is the compression algorithm identifier carried in the
// compression_flag byte of a payload frame, extended to a full byte value
// for this plugin layer (spec §3 reserves bit 0 of that flag for
// "compressed or not"; Type is only ever consulted by this package, never
// by the core wire codec, which only round-trips the raw flag byte).
type Type uint8

const (
	None Type = iota
	TypeGzip
	TypeSnappy
	TypeZstd
)
