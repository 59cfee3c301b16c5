package params

// NetworkID is a public network identifier used as a domain separator in
// address and signature constructions.
const NetworkID = "lac_mainnet"

// ChainID is a fixed genesis epoch identifier, kept as a constant (not
// derived) for auditability.
const ChainID uint32 = 0x4C414301 // "LAC" + version byte
