package mesh

// Options is the per-node/per-edge bitmask from spec §3 ("options
// bitmask (INDIRECT, TCPONLY, PMTU_DISCOVERY, CLAMP_MSS, a minor-protocol-
// version field in high byte)"), mirroring tinc's OPTION_* constants.
type Options uint32

const (
	OptionIndirect Options = 1 << iota
	OptionTCPOnly
	OptionPMTUDiscovery
	OptionClampMSS
	OptionIndirectData
)

const minorVersionShift = 24

// MinorVersion extracts the minor-protocol-version field tinc packs into
// the high byte of the options word.
func (o Options) MinorVersion() uint8 {
	return uint8(o >> minorVersionShift)
}

// WithMinorVersion returns o with its high byte set to v.
func (o Options) WithMinorVersion(v uint8) Options {
	return (o &^ (0xff << minorVersionShift)) | Options(v)<<minorVersionShift
}

func (o Options) Has(flag Options) bool { return o&flag != 0 }
