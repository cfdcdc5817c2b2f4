// Package audio converts between normalized float samples and the 16-bit
// little-endian PCM carried by the live session protocol.
//
// Outbound windows pass through an Encoder, which applies a per-window RMS
// noise gate: windows quieter than the threshold are replaced by explicit
// silence of the same length so the outbound cadence stays uniform. Inbound
// PCM is converted back to float samples with DecodePCM16.
package audio
