// Package querier is a thin, read-only façade over the same engine the
// responder package wraps: Query sends a question and waits for matching
// answers to land in the heard-service cache, returning a deduplicated
// Response. It adds no engine state of its own (spec §4: component C9).
package querier

import (
	"net"

	"github.com/joshuafuller/beacon/internal/protocol"
)

// RecordType is a DNS record type a Query can ask for (RFC 1035 §3.2.2).
// Only the four types DNS-SD actually uses are supported: A addresses,
// PTR service enumeration, SRV host/port, and TXT metadata.
type RecordType uint16

const (
	// RecordTypeA queries for IPv4 address records (type 1).
	RecordTypeA RecordType = RecordType(protocol.RecordTypeA)
	// RecordTypePTR queries for pointer records (type 12), used for
	// service type/instance enumeration.
	RecordTypePTR RecordType = RecordType(protocol.RecordTypePTR)
	// RecordTypeTXT queries for text records (type 16).
	RecordTypeTXT RecordType = RecordType(protocol.RecordTypeTXT)
	// RecordTypeSRV queries for service records (type 33).
	RecordTypeSRV RecordType = RecordType(protocol.RecordTypeSRV)
)

// String returns a human-readable name for the record type.
func (r RecordType) String() string {
	return protocol.RecordType(r).String()
}

// Response is the aggregated, deduplicated result of one Query call
// (RFC 6762 §7: traffic reduction by response aggregation). An empty
// Records slice means no responder answered within the timeout -- that
// is not itself an error.
type Response struct {
	Records []ResourceRecord
}

// ResourceRecord is one answer or additional record from a query
// response (RFC 1035 §3.2.1), with its rdata pre-parsed into Data. Use
// AsA/AsPTR/AsSRV/AsTXT for type-safe access instead of asserting on
// Data directly.
type ResourceRecord struct {
	// Data holds the type-specific payload:
	//   A    -> net.IP
	//   PTR  -> string (target name)
	//   SRV  -> SRVData
	//   TXT  -> []string ("key=value" pairs)
	Data  interface{}
	Name  string
	TTL   uint32
	Type  RecordType
	Class uint16
}

// SRVData is the parsed target/priority/weight/port of an SRV record
// (RFC 2782). Target may need a further A query to resolve to an address.
type SRVData struct {
	Target   string
	Priority uint16
	Weight   uint16
	Port     uint16
}

// AsA returns the address for an A record, or nil for any other type or
// a malformed Data value.
func (r *ResourceRecord) AsA() net.IP {
	if r.Type != RecordTypeA {
		return nil
	}
	ip, _ := r.Data.(net.IP)
	return ip
}

// AsPTR returns the target name for a PTR record, or "" otherwise.
func (r *ResourceRecord) AsPTR() string {
	if r.Type != RecordTypePTR {
		return ""
	}
	target, _ := r.Data.(string)
	return target
}

// AsSRV returns the parsed SRV data, or nil otherwise.
func (r *ResourceRecord) AsSRV() *SRVData {
	if r.Type != RecordTypeSRV {
		return nil
	}
	srv, ok := r.Data.(SRVData)
	if !ok {
		return nil
	}
	return &srv
}

// AsTXT returns the decoded "key=value" strings, or nil otherwise.
func (r *ResourceRecord) AsTXT() []string {
	if r.Type != RecordTypeTXT {
		return nil
	}
	txt, _ := r.Data.([]string)
	return txt
}
